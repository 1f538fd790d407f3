package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// toDecimal converts a provider value into a finite decimal. Strings are
// trimmed; booleans, NaN and infinities are rejected, as are values that
// overflow or underflow a float64.
func toDecimal(v any) (decimal.Decimal, bool) {
	d, ok := decodeDecimal(v)
	if !ok || !representable(d) {
		return decimal.Decimal{}, false
	}
	return d, true
}

// representable reports whether d survives conversion to float64, which is
// how the SQLite store and the threshold evaluator read prices.
func representable(d decimal.Decimal) bool {
	f := d.InexactFloat64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	return f != 0 || d.IsZero()
}

func decodeDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return val, true
	case *decimal.Decimal:
		if val == nil {
			return decimal.Decimal{}, false
		}
		return *val, true
	case decimal.NullDecimal:
		return val.Decimal, val.Valid
	case null.Float:
		if !val.Valid {
			return decimal.Decimal{}, false
		}
		return floatDecimal(val.Float64)
	case null.Int:
		if !val.Valid {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromInt(val.Int64), true
	case json.Number:
		return stringDecimal(val.String())
	case string:
		return stringDecimal(val)
	case []byte:
		return stringDecimal(string(val))
	case bool:
		return decimal.Decimal{}, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return floatDecimal(rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return decimal.NewFromUint64(rv.Uint()), true
	case reflect.Pointer:
		if rv.IsNil() {
			return decimal.Decimal{}, false
		}
		return decodeDecimal(rv.Elem().Interface())
	case reflect.String:
		return stringDecimal(rv.String())
	}
	return decimal.Decimal{}, false
}

func floatDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}

func stringDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err == nil {
		return d, true
	}
	// decimal rejects forms such as "+1.5" or "0x1p-2" that ParseFloat accepts.
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil {
		return decimal.Decimal{}, false
	}
	return floatDecimal(f)
}

// toFloat is the float64 view of toDecimal, used where only ordering matters.
func toFloat(v any) (float64, bool) {
	d, ok := toDecimal(v)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// toVolume truncates numeric values toward zero. Unusable or negative values
// report false so the caller can substitute the default.
func toVolume(v any) (int64, bool) {
	d, ok := toDecimal(v)
	if !ok {
		return 0, false
	}
	n := d.Truncate(0)
	if n.IsNegative() {
		return 0, false
	}
	if n.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return math.MaxInt64, true
	}
	return n.IntPart(), true
}

// toSymbol trims string symbols and stringifies everything else.
func toSymbol(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case null.String:
		if !val.Valid {
			return "", false
		}
		s := strings.TrimSpace(val.String)
		return s, s != ""
	case fmt.Stringer:
		s := strings.TrimSpace(val.String())
		return s, s != ""
	default:
		s := strings.TrimSpace(fmt.Sprint(val))
		return s, s != ""
	}
}

// ToSymbol exposes the symbol coercion used by the cleaner.
func ToSymbol(v any) (string, bool) {
	return toSymbol(v)
}

// ToFloat exposes the numeric coercion used by the cleaner for callers that
// need to interpret raw prices the same way, such as the threshold evaluator.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}
