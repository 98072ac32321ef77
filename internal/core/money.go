// Package core provides the deal model, fee calculators and monthly
// aggregation.
//
// This file contains the numeric input policy: how loosely typed values from
// forms and stores become decimals.
package core

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// NumericPolicy selects how invalid numeric input is treated.
type NumericPolicy string

const (
	// Lenient substitutes zero for anything that does not parse.
	Lenient NumericPolicy = "lenient"
	// Strict rejects input that does not parse.
	Strict NumericPolicy = "strict"
)

var ErrInvalidNumber = errors.New("invalid number")

func (p NumericPolicy) Valid() bool {
	return p == Lenient || p == Strict
}

// ParseDecimal parses a user supplied number.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted. An empty
// string is zero under either policy. Under Lenient any other parse failure is
// also zero; under Strict it returns ErrInvalidNumber.
//
// Examples:
//
//	ParseDecimal("12,5", Strict)  -> 12.5, nil
//	ParseDecimal("abc", Lenient)  -> 0, nil
//	ParseDecimal("abc", Strict)   -> 0, ErrInvalidNumber
func ParseDecimal(s string, policy NumericPolicy) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		if policy == Strict {
			return decimal.Zero, ErrInvalidNumber
		}
		return decimal.Zero, nil
	}
	return d, nil
}

// FromFloat converts f to a decimal, mapping NaN and infinities to zero.
func FromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// Coerce converts a loosely typed value to a decimal. Stores do not guarantee
// numeric typing end to end, so anything that is not a finite number becomes
// zero.
func Coerce(v any) decimal.Decimal {
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
	case float64:
		return FromFloat(x)
	case float32:
		return FromFloat(float64(x))
	case int:
		return decimal.NewFromInt(int64(x))
	case int32:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case json.Number:
		d, _ := ParseDecimal(string(x), Lenient)
		return d
	case string:
		d, _ := ParseDecimal(x, Lenient)
		return d
	case []byte:
		d, _ := ParseDecimal(string(x), Lenient)
		return d
	default:
		return decimal.Zero
	}
}

// FormatSigned renders d with two decimals and an explicit plus sign for
// positive values, e.g. "+10.00", "-3.50", "0.00".
func FormatSigned(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.Round(2).IsPositive() {
		return "+" + s
	}
	if s == "-0.00" {
		return "0.00"
	}
	return s
}
