// Package types defines the cross-engine row representation shuttled
// between the SOURCE/REPLICA (MySQL-family) and ANALYTICS (Postgres-family)
// sides of the pipeline.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindDecimal
	KindText
	KindBytes
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar types that can cross the
// MySQL-family <-> Postgres-family boundary. It is the generalized
// replacement for passing driver-specific interface{} values between
// components (spec §9, "Dynamically-typed row dictionaries").
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	d    decimal.Decimal
	s    string
	by   []byte
	t    time.Time
}

func Null() Value                     { return Value{kind: KindNull} }
func Bool(v bool) Value               { return Value{kind: KindBool, b: v} }
func Int64(v int64) Value             { return Value{kind: KindInt64, i: v} }
func Float64(v float64) Value         { return Value{kind: KindFloat64, f: v} }
func Dec(v decimal.Decimal) Value     { return Value{kind: KindDecimal, d: v} }
func Text(v string) Value             { return Value{kind: KindText, s: v} }
func Bytes(v []byte) Value            { return Value{kind: KindBytes, by: v} }
func Time(v time.Time) Value          { return Value{kind: KindTime, t: v} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)              { return v.b, v.kind == KindBool }
func (v Value) AsInt64() (int64, bool)            { return v.i, v.kind == KindInt64 }
func (v Value) AsFloat64() (float64, bool)        { return v.f, v.kind == KindFloat64 }
func (v Value) AsDecimal() (decimal.Decimal, bool) { return v.d, v.kind == KindDecimal }
func (v Value) AsText() (string, bool)            { return v.s, v.kind == KindText }
func (v Value) AsBytes() ([]byte, bool)           { return v.by, v.kind == KindBytes }
func (v Value) AsTime() (time.Time, bool)         { return v.t, v.kind == KindTime }

// String renders the value for logging and for serializing
// last_primary_value (spec §3: "serialized last value ... string form").
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%v", v.f)
	case KindDecimal:
		return v.d.String()
	case KindText:
		return v.s
	case KindBytes:
		return string(v.by)
	case KindTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Native returns the value as the nearest driver-bindable Go type, for
// binding into a prepared statement via the standard database/sql or pgx
// positional-argument conventions.
func (v Value) Native() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt64:
		return v.i
	case KindFloat64:
		return v.f
	case KindDecimal:
		return v.d
	case KindText:
		return v.s
	case KindBytes:
		return v.by
	case KindTime:
		return v.t
	default:
		return nil
	}
}
