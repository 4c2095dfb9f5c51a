/*
Package errors defines the structured error type shared across the bus.

An AppError pairs a stable machine-readable code with a human-readable
message and an optional wrapped cause, so callers branch on CodeOf(err)
while logs keep the full chain. A constructor exists per code (NotFound,
Unavailable, FailedPrecondition, ...), and HTTPStatus/GRPCCode translate
codes at transport boundaries.
*/
package errors
