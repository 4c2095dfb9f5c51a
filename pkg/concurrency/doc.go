/*
Package concurrency provides the synchronization building blocks the bus's
dispatch path is assembled from:

  - WorkerPool: a fixed-size pool whose Submit blocks when saturated,
    giving enqueuers backpressure instead of an unbounded queue
  - RWMutex: a sync.RWMutex that can report slow write-lock holders
  - Go / FanOut: panic-safe goroutine helpers
*/
package concurrency
