package schema

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sjksingh/clinical-warehouse-etl/pkg/types"
)

// ConvertRow converts a raw row read from the source/replica engine
// (column name -> driver-scanned value) into a warehouse-bound types.Row,
// using targetTypes (as resolved by ResolveType) to pick the right
// normalization per column (spec §4.4: boolean normalization, null
// handling, datetime normalization, numeric coercion).
func ConvertRow(columns []string, targetTypes map[string]string, raw map[string]interface{}) (*types.Row, error) {
	row := types.NewRow(columns)
	for _, col := range columns {
		v, err := ConvertValue(targetTypes[col], raw[col])
		if err != nil {
			return nil, fmt.Errorf("%w: column %s: %v", ErrSchemaTransform, col, err)
		}
		row.Set(col, v)
	}
	return row, nil
}

// ConvertValue converts one raw driver value into the types.Value matching
// targetType.
func ConvertValue(targetType string, raw interface{}) (types.Value, error) {
	if raw == nil {
		return types.Null(), nil
	}

	switch targetType {
	case "boolean":
		return convertBool(raw)
	case "smallint", "integer", "bigint":
		return convertInt(raw)
	case "real", "double precision":
		return convertFloat(raw)
	case "numeric":
		return convertDecimal(raw)
	case "date", "timestamp", "timestamptz", "time":
		return convertTime(raw)
	case "bytea":
		return convertBytes(raw)
	default:
		return convertText(raw)
	}
}

func convertBool(raw interface{}) (types.Value, error) {
	switch v := raw.(type) {
	case bool:
		return types.Bool(v), nil
	case int64:
		return types.Bool(v != 0), nil
	case []byte:
		return types.Bool(len(v) == 1 && v[0] != 0), nil
	case string:
		return types.Bool(v != "" && v != "0"), nil
	default:
		return types.Value{}, fmt.Errorf("cannot convert %T to boolean", raw)
	}
}

func convertInt(raw interface{}) (types.Value, error) {
	switch v := raw.(type) {
	case int64:
		return types.Int64(v), nil
	case int:
		return types.Int64(int64(v)), nil
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.Int64(n), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.Int64(n), nil
	default:
		return types.Value{}, fmt.Errorf("cannot convert %T to integer", raw)
	}
}

func convertFloat(raw interface{}) (types.Value, error) {
	switch v := raw.(type) {
	case float64:
		return types.Float64(v), nil
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.Float64(f), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.Float64(f), nil
	default:
		return types.Value{}, fmt.Errorf("cannot convert %T to float", raw)
	}
}

// convertDecimal coerces MySQL's DECIMAL/NUMERIC wire representation
// (returned by go-sql-driver/mysql as []byte) into an exact decimal.Decimal,
// avoiding the float64 rounding the standard map would otherwise incur.
func convertDecimal(raw interface{}) (types.Value, error) {
	switch v := raw.(type) {
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return types.Value{}, err
		}
		return types.Dec(d), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return types.Value{}, err
		}
		return types.Dec(d), nil
	case float64:
		return types.Dec(decimal.NewFromFloat(v)), nil
	default:
		return types.Value{}, fmt.Errorf("cannot convert %T to decimal", raw)
	}
}

func convertTime(raw interface{}) (types.Value, error) {
	switch v := raw.(type) {
	case time.Time:
		return types.Time(v), nil
	case []byte:
		t, err := parseTimeAny(string(v))
		if err != nil {
			return types.Value{}, err
		}
		return types.Time(t), nil
	case string:
		t, err := parseTimeAny(v)
		if err != nil {
			return types.Value{}, err
		}
		return types.Time(t), nil
	default:
		return types.Value{}, fmt.Errorf("cannot convert %T to time", raw)
	}
}

func parseTimeAny(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02",
		"15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func convertBytes(raw interface{}) (types.Value, error) {
	switch v := raw.(type) {
	case []byte:
		return types.Bytes(v), nil
	case string:
		return types.Bytes([]byte(v)), nil
	default:
		return types.Value{}, fmt.Errorf("cannot convert %T to bytes", raw)
	}
}

func convertText(raw interface{}) (types.Value, error) {
	switch v := raw.(type) {
	case string:
		return types.Text(v), nil
	case []byte:
		return types.Text(string(v)), nil
	case int64:
		return types.Text(strconv.FormatInt(v, 10)), nil
	case float64:
		return types.Text(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case bool:
		return types.Text(strconv.FormatBool(v)), nil
	case time.Time:
		return types.Text(v.UTC().Format(time.RFC3339Nano)), nil
	default:
		return types.Value{}, fmt.Errorf("cannot convert %T to text", raw)
	}
}
