package loader

import "errors"

var (
	// ErrNoAnalyticsPool is returned when Load is called without an
	// ANALYTICS pool configured.
	ErrNoAnalyticsPool = errors.New("loader: analytics pool not configured")

	// ErrLoadQuery is returned when the REPLICA-side read query fails.
	ErrLoadQuery = errors.New("loader: query failed")

	// ErrLoadInsert is returned when the ANALYTICS-side upsert fails.
	ErrLoadInsert = errors.New("loader: insert failed")

	// ErrLoadTxn is returned when a copy_bulk staging transaction fails.
	ErrLoadTxn = errors.New("loader: transaction failed")

	// ErrLoadVerify is returned when the stale-state recovery check cannot
	// read a row count on either side. Post-load verification never
	// returns it: a count divergence beyond the tolerated threshold, or a
	// failed count read there, is only logged.
	ErrLoadVerify = errors.New("loader: verification failed")
)
