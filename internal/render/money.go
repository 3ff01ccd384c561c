package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ToDecimal coerces a money-like value into a decimal. Strings (with either
// decimal separator and an optional euro sign), numbers, decimals and any
// fmt.Stringer are accepted; everything else, including non-finite floats and
// unparseable text, becomes zero.
func ToDecimal(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero
		}
		return *x
	case decimal.NullDecimal:
		if !x.Valid {
			return decimal.Zero
		}
		return x.Decimal
	case float64:
		return fromFloat(x)
	case float32:
		return fromFloat(float64(x))
	case int:
		return decimal.NewFromInt(int64(x))
	case int32:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case uint:
		return decimal.NewFromInt(int64(x))
	case uint32:
		return decimal.NewFromInt(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return decimal.Zero
		}
		return decimal.NewFromInt(int64(x))
	case json.Number:
		return fromString(string(x))
	case string:
		return fromString(x)
	case []byte:
		return fromString(string(x))
	case fmt.Stringer:
		return fromString(x.String())
	}
	return decimal.Zero
}

// FormatMoney renders v with exactly two decimals ("12.50").
func FormatMoney(v any) string {
	return ToDecimal(v).StringFixed(2)
}

// FormatEuros renders v as an amount in euros ("12.50 €").
func FormatEuros(v any) string {
	return FormatMoney(v) + " €"
}

func fromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func fromString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "€")
	s = strings.TrimPrefix(s, "€")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
