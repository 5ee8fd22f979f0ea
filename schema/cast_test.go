package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func Test_CastValue_Scalars(t *testing.T) {
	testCases := []struct {
		name      string
		t         *Type
		input     any
		expect    any
		expectErr bool
	}{
		{
			name:   "nil passes through any type",
			t:      IntegerType(),
			input:  nil,
			expect: nil,
		},
		{
			name:   "any - value passes through unchanged",
			t:      AnyType(),
			input:  map[string]any{"k": "v"},
			expect: map[string]any{"k": "v"},
		},
		{
			name:   "string - string input",
			t:      StringType(),
			input:  "hello",
			expect: "hello",
		},
		{
			name:      "string - integer input rejected",
			t:         StringType(),
			input:     42,
			expectErr: true,
		},
		{
			name:   "integer - int input",
			t:      IntegerType(),
			input:  42,
			expect: int64(42),
		},
		{
			name:   "integer - numeric string input",
			t:      IntegerType(),
			input:  "28",
			expect: int64(28),
		},
		{
			name:   "integer - integral float input",
			t:      IntegerType(),
			input:  float64(7),
			expect: int64(7),
		},
		{
			name:      "integer - fractional float input rejected",
			t:         IntegerType(),
			input:     7.5,
			expectErr: true,
		},
		{
			name:      "integer - non-numeric string rejected",
			t:         IntegerType(),
			input:     "twenty",
			expectErr: true,
		},
		{
			name:   "float - integer input widens",
			t:      FloatType(),
			input:  3,
			expect: float64(3),
		},
		{
			name:   "float - numeric string input",
			t:      FloatType(),
			input:  "2.5",
			expect: 2.5,
		},
		{
			name:   "boolean - bool input",
			t:      BooleanType(),
			input:  true,
			expect: true,
		},
		{
			name:   "boolean - string true",
			t:      BooleanType(),
			input:  "true",
			expect: true,
		},
		{
			name:   "boolean - string 0",
			t:      BooleanType(),
			input:  "0",
			expect: false,
		},
		{
			name:      "boolean - other string rejected",
			t:         BooleanType(),
			input:     "yes",
			expectErr: true,
		},
		{
			name:   "decimal - string input",
			t:      DecimalType(),
			input:  "12.34",
			expect: decimal.RequireFromString("12.34"),
		},
		{
			name:   "decimal - float input",
			t:      DecimalType(),
			input:  1.5,
			expect: decimal.NewFromFloat(1.5),
		},
		{
			name:      "decimal - bad string rejected",
			t:         DecimalType(),
			input:     "12.34.56",
			expectErr: true,
		},
		{
			name:   "uuid - string input",
			t:      UUIDType(),
			input:  "9c9ca5e9-4305-4bfa-ab0d-a9e08ceb3c7b",
			expect: uuid.MustParse("9c9ca5e9-4305-4bfa-ab0d-a9e08ceb3c7b"),
		},
		{
			name:      "uuid - invalid string rejected",
			t:         UUIDType(),
			input:     "not a UUID",
			expectErr: true,
		},
		{
			name:   "date - ISO string input",
			t:      DateType(),
			input:  "2023-04-05",
			expect: time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "date - datetime string rejected",
			t:         DateType(),
			input:     "2023-04-05T10:00:00",
			expectErr: true,
		},
		{
			name:   "time - ISO string input",
			t:      TimeType(),
			input:  "13:04:05",
			expect: time.Date(0, 1, 1, 13, 4, 5, 0, time.UTC),
		},
		{
			name:   "naive datetime - ISO string input",
			t:      NaiveDateTimeType(),
			input:  "2023-04-05T13:04:05",
			expect: time.Date(2023, 4, 5, 13, 4, 5, 0, time.UTC),
		},
		{
			name:   "utc datetime - offset input normalizes to UTC",
			t:      UTCDateTimeType(),
			input:  "2020-12-31T21:07:14-05:00",
			expect: time.Date(2021, 1, 1, 2, 7, 14, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := CastValue(tc.t, tc.input)

			if tc.expectErr {
				assert.Error(err)
				assert.ErrorIs(err, ErrCast)
				return
			}
			assert.NoError(err)
			if expectTime, ok := tc.expect.(time.Time); ok {
				actualTime, ok := actual.(time.Time)
				if assert.True(ok, "expected a time.Time, got %T", actual) {
					assert.True(expectTime.Equal(actualTime), "expected %v, got %v", expectTime, actualTime)
				}
				return
			}
			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_CastValue_Composites(t *testing.T) {
	testCases := []struct {
		name      string
		t         *Type
		input     any
		expect    any
		expectErr bool
	}{
		{
			name:   "array of integer - all elements coerce",
			t:      ArrayOf(IntegerType()),
			input:  []any{"1", 2, 3.0},
			expect: []any{int64(1), int64(2), int64(3)},
		},
		{
			name:      "array of integer - one bad element rejects the whole value",
			t:         ArrayOf(IntegerType()),
			input:     []any{"1", "x"},
			expectErr: true,
		},
		{
			name:   "array - typed slice input is accepted",
			t:      ArrayOf(StringType()),
			input:  []string{"a", "b"},
			expect: []any{"a", "b"},
		},
		{
			name:      "array - scalar input rejected",
			t:         ArrayOf(StringType()),
			input:     "a",
			expectErr: true,
		},
		{
			name:   "map of integer - all values coerce",
			t:      MapOf(IntegerType()),
			input:  map[string]any{"a": "1", "b": 2},
			expect: map[string]any{"a": int64(1), "b": int64(2)},
		},
		{
			name:      "map of integer - one bad value rejects the whole value",
			t:         MapOf(IntegerType()),
			input:     map[string]any{"a": "x"},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := CastValue(tc.t, tc.input)

			if tc.expectErr {
				assert.Error(err)
				assert.ErrorIs(err, ErrCast)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.expect, actual)
		})
	}
}

type rangeCaster struct{}

func (rc rangeCaster) Cast(v any) (any, error) {
	n, ok := v.(int)
	if !ok || n < 0 || n > 100 {
		return nil, &CastError{Diags: []Diag{{Message: "must be a percentage", Meta: map[string]any{"max": 100}}}}
	}
	return n, nil
}

func Test_CastValue_Custom(t *testing.T) {
	assert := assert.New(t)

	pct := CustomOf(rangeCaster{})

	actual, err := CastValue(pct, 55)
	assert.NoError(err)
	assert.Equal(55, actual)

	_, err = CastValue(pct, 101)
	assert.ErrorIs(err, ErrCast)

	var castErr *CastError
	assert.ErrorAs(err, &castErr)
	assert.Len(castErr.Diags, 1)
	assert.Equal("must be a percentage", castErr.Diags[0].Message)
}

func Test_IsEmpty(t *testing.T) {
	testCases := []struct {
		name   string
		t      *Type
		input  any
		empty  []EmptyValue
		expect bool
	}{
		{
			name:   "empty string is empty by default",
			t:      StringType(),
			input:  "",
			empty:  DefaultEmptyValues(),
			expect: true,
		},
		{
			name:   "whitespace-only string is empty by default",
			t:      StringType(),
			input:  "   ",
			empty:  DefaultEmptyValues(),
			expect: true,
		},
		{
			name:   "non-blank string is not empty",
			t:      StringType(),
			input:  "x",
			empty:  DefaultEmptyValues(),
			expect: false,
		},
		{
			name:   "zero is not empty by default",
			t:      IntegerType(),
			input:  0,
			empty:  DefaultEmptyValues(),
			expect: false,
		},
		{
			name:   "custom literal matches",
			t:      IntegerType(),
			input:  0,
			empty:  []EmptyValue{EmptyLiteral(0)},
			expect: true,
		},
		{
			name:   "array with only empty elements is empty",
			t:      ArrayOf(StringType()),
			input:  []any{"", "  "},
			empty:  DefaultEmptyValues(),
			expect: true,
		},
		{
			name:   "array keeps non-empty elements",
			t:      ArrayOf(StringType()),
			input:  []any{"", "x"},
			empty:  DefaultEmptyValues(),
			expect: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual := IsEmpty(tc.t, tc.input, tc.empty)

			assert.Equal(tc.expect, actual)
		})
	}
}
