package schema

import "errors"

var (
	// ErrSchemaRead is returned when the source table definition cannot be read.
	ErrSchemaRead = errors.New("schema: read failed")

	// ErrSchemaTransform is returned when a source type cannot be mapped to
	// a warehouse type.
	ErrSchemaTransform = errors.New("schema: transform failed")

	// ErrSchemaVerify is returned when an existing target table's columns
	// cannot be read for verification. A column set that does not match the
	// expected definition is not an error: it is reported as []Mismatch.
	// The adapter never auto-alters; callers decide how to react.
	ErrSchemaVerify = errors.New("schema: verification failed")
)

// Mismatch describes one column discrepancy found during verification.
type Mismatch struct {
	Column   string
	Expected string
	Actual   string
	Reason   string // "missing" or "type_mismatch"; target-only columns are not reported
}
