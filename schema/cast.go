package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrCast is matched by every coercion failure returned from CastValue.
var ErrCast = errors.New("value cannot be cast to the declared type")

// CustomCaster performs coercion for a Custom type. Cast returns the coerced
// value, or an error on malformed input. The error may be a *CastError to
// supply structured diagnostics; any other error is treated as a plain cast
// failure with no metadata.
type CustomCaster interface {
	Cast(v any) (any, error)
}

// Diag is a single structured diagnostic produced by a custom type.
type Diag struct {
	Field   string
	Message string
	Meta    map[string]any
}

// CastError is an error carrying custom diagnostics from a parameterized
// type's cast. It matches ErrCast under errors.Is.
type CastError struct {
	Diags []Diag
}

func (e *CastError) Error() string {
	if len(e.Diags) == 0 {
		return ErrCast.Error()
	}

	msgs := make([]string, len(e.Diags))
	for i, d := range e.Diags {
		msgs[i] = d.Field + " " + d.Message
	}
	return strings.Join(msgs, "; ")
}

func (e *CastError) Is(target error) bool {
	return target == ErrCast
}

func castFailed(t *Type, v any) error {
	return fmt.Errorf("%w: cannot cast %T to %s", ErrCast, v, t)
}

const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
	naiveLayout    = "2006-01-02T15:04:05"
	naiveAltLayout = "2006-01-02 15:04:05"
)

// CastValue coerces a single raw value to the given type. A nil input is
// always accepted and stays nil; required-ness is a validation concern, not a
// coercion one. On malformed input the returned error matches ErrCast, and
// for Custom types may be a *CastError carrying diagnostics.
//
// Relation kinds cannot be cast as values; attempting to returns an error
// matching ecto.ErrInvalidRelation so that callers can fail fast.
func CastValue(t *Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t.kind {
	case Any:
		return v, nil
	case String:
		return castString(t, v)
	case Integer:
		return castInteger(t, v)
	case Float:
		return castFloat(t, v)
	case Boolean:
		return castBoolean(t, v)
	case Decimal:
		return castDecimal(t, v)
	case UUID:
		return castUUID(t, v)
	case Date:
		return castDate(t, v)
	case Time:
		return castTime(t, v)
	case NaiveDateTime:
		return castNaiveDateTime(t, v)
	case UTCDateTime:
		return castUTCDateTime(t, v)
	case Array:
		return castArray(t, v)
	case Map:
		return castMap(t, v)
	case Custom:
		return t.caster.Cast(v)
	case Assoc, Embed:
		return nil, relationCastError(t)
	default:
		return nil, castFailed(t, v)
	}
}

func castString(t *Type, v any) (any, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return nil, castFailed(t, v)
}

func castInteger(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float32:
		// JSON numbers arrive as floats; only integral ones are integers.
		return integralToInt64(t, float64(val))
	case float64:
		return integralToInt64(t, val)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil, castFailed(t, v)
		}
		return i, nil
	default:
		return nil, castFailed(t, v)
	}
}

func integralToInt64(t *Type, f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, castFailed(t, f)
	}
	return int64(f), nil
}

func castFloat(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, castFailed(t, v)
		}
		return f, nil
	default:
		return nil, castFailed(t, v)
	}
}

func castBoolean(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
	}
	return nil, castFailed(t, v)
}

func castDecimal(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, castFailed(t, v)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case float32:
		return decimal.NewFromFloat32(val), nil
	default:
		return nil, castFailed(t, v)
	}
}

func castUUID(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, nil
	case string:
		id, err := uuid.Parse(val)
		if err != nil {
			return nil, castFailed(t, v)
		}
		return id, nil
	case []byte:
		id, err := uuid.FromBytes(val)
		if err != nil {
			return nil, castFailed(t, v)
		}
		return id, nil
	default:
		return nil, castFailed(t, v)
	}
}

func castDate(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return time.Date(val.Year(), val.Month(), val.Day(), 0, 0, 0, 0, time.UTC), nil
	case string:
		parsed, err := time.Parse(dateLayout, strings.TrimSpace(val))
		if err != nil {
			return nil, castFailed(t, v)
		}
		return parsed, nil
	default:
		return nil, castFailed(t, v)
	}
}

func castTime(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return time.Date(0, 1, 1, val.Hour(), val.Minute(), val.Second(), 0, time.UTC), nil
	case string:
		parsed, err := time.Parse(timeLayout, strings.TrimSpace(val))
		if err != nil {
			return nil, castFailed(t, v)
		}
		return parsed, nil
	default:
		return nil, castFailed(t, v)
	}
}

func castNaiveDateTime(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val.Truncate(time.Second), nil
	case string:
		s := strings.TrimSpace(val)
		if parsed, err := time.Parse(naiveLayout, s); err == nil {
			return parsed, nil
		}
		if parsed, err := time.Parse(naiveAltLayout, s); err == nil {
			return parsed, nil
		}
		return nil, castFailed(t, v)
	default:
		return nil, castFailed(t, v)
	}
}

func castUTCDateTime(t *Type, v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val.Truncate(time.Second).UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(val))
		if err != nil {
			return nil, castFailed(t, v)
		}
		return parsed.Truncate(time.Second).UTC(), nil
	default:
		return nil, castFailed(t, v)
	}
}

func castArray(t *Type, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, castFailed(t, v)
	}

	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem, err := CastValue(t.elem, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

func castMap(t *Type, v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, castFailed(t, v)
	}

	out := make(map[string]any, len(m))
	for k, raw := range m {
		elem, err := CastValue(t.elem, raw)
		if err != nil {
			return nil, err
		}
		out[k] = elem
	}
	return out, nil
}
