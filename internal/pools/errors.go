package pools

import "errors"

var (
	// ErrConnect is returned when the initial connection attempt fails.
	ErrConnect = errors.New("connection failed")

	// ErrTransient marks a retryable failure (timeout, deadlock, connection reset).
	ErrTransient = errors.New("transient database error")

	// ErrFatal marks a non-retryable failure (auth failure, syntax error).
	ErrFatal = errors.New("fatal database error")

	// ErrEnvironment is returned in the production environment when a
	// required DSN variable is unset; the pool loader refuses to start
	// (spec §4.2, §6). An unset environment-selecting setting is not an
	// error: runtimeconfig defaults it to "production".
	ErrEnvironment = errors.New("required environment variable not set")
)
