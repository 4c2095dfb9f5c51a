/*
Package resilience wraps flaky calls in retry and circuit-breaker policies.

Retry covers the transient case: exponential backoff with jitter until an
attempt budget runs out, or the caller's RetryIf rules the error terminal.
CircuitBreaker covers the persistent case: a downstream that keeps failing
is fast-failed for a cooldown, then probed with limited traffic before
traffic is restored. The two compose by passing a breaker-wrapped Executor
to Retry.
*/
package resilience
