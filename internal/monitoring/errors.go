package monitoring

import "errors"

// ErrUnknownTable is returned when a snapshot is requested for a table
// name the catalog does not carry.
var ErrUnknownTable = errors.New("monitoring: unknown table")
