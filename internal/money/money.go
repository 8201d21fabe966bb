// Package money holds the fixed-point amount type used for prices, totals and
// ledger postings. Every Amount is kept rounded to two decimal places.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const Scale = 2

type Amount struct {
	d decimal.Decimal
}

func Zero() Amount { return Amount{d: decimal.Zero} }

func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d.Round(Scale)}
}

func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// MustParse is meant for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromMinor builds an amount from integer minor units (cents).
func FromMinor(units int64) Amount {
	return Amount{d: decimal.New(units, -Scale)}
}

func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return FromDecimal(a.d.Add(b.d)) }

// Times multiplies by an integer quantity.
func (a Amount) Times(qty int) Amount {
	return FromDecimal(a.d.Mul(decimal.NewFromInt(int64(qty))))
}

func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

func (a Amount) IsPositive() bool { return a.d.IsPositive() }

func (a Amount) IsNegative() bool { return a.d.IsNegative() }

// MinorUnits returns the amount in cents, the unit most gateways expect.
func (a Amount) MinorUnits() int64 {
	return a.d.Shift(Scale).Round(0).IntPart()
}

func (a Amount) Float() float64 {
	f, _ := a.d.Float64()
	return f
}

// String always renders two decimals: "39.80", never "39.8".
func (a Amount) String() string { return a.d.StringFixed(Scale) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a *Amount) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*a = Zero()
		return nil
	case []byte:
		return a.scanString(string(v))
	case string:
		return a.scanString(v)
	case int64:
		*a = FromDecimal(decimal.NewFromInt(v))
		return nil
	case float64:
		*a = FromDecimal(decimal.NewFromFloat(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into money.Amount", value)
	}
}

func (a *Amount) scanString(s string) error {
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Sum adds a list of amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
