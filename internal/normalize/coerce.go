package normalize

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimeLayout is the textual form used for DATE/DATETIME/TIMESTAMP values
const TimeLayout = "2006-01-02 15:04:05.999999"

// Coerce converts a driver value to a JSON-safe scalar.
// Strings, integers, finite floats, booleans and nil pass through unchanged;
// everything else is converted to its string representation.
func Coerce(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case float32:
		return coerceFloat(float64(val), 32)
	case float64:
		return coerceFloat(val, 64)
	case []byte:
		return string(val)
	case sql.RawBytes:
		return string(val)
	case time.Time:
		return val.Format(TimeLayout)
	case driver.Valuer:
		// sql.NullString, sql.NullInt64, ... unwrap to the underlying value
		inner, err := val.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if _, again := inner.(driver.Valuer); again {
			return fmt.Sprint(inner)
		}
		return Coerce(inner)
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	default:
		return fmt.Sprint(val)
	}
}

// NaN and Inf have no JSON encoding
func coerceFloat(f float64, bits int) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	if bits == 32 {
		return float32(f)
	}
	return f
}
