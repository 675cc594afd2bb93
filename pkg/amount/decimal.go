// Package amount holds exact decimal measures (hours, cost) so aggregate sums
// reconcile with fact totals without floating point drift.
package amount

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/rotisserie/eris"
)

var arith = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

type Decimal struct {
	value apd.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{}

func New(s string) (Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Decimal{}, eris.Wrapf(err, "invalid decimal %q", s)
	}
	return Decimal{value: d}, nil
}

// MustNew is New for literals in code and tests.
func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

func FromInt64(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

// FromFloat converts a driver float. Only used for backends without a decimal type.
func FromFloat(f float64) Decimal {
	var d apd.Decimal
	if _, err := d.SetFloat64(f); err != nil {
		return Decimal{}
	}
	return Decimal{value: d}
}

func (d Decimal) String() string {
	return d.value.Text('f')
}

func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

func (d Decimal) Add(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = arith.Add(&result, &d.value, &other.value)
	return Decimal{value: result}
}

func (d Decimal) Sub(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = arith.Sub(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Round returns d rounded half-up to the given number of fractional digits.
func (d Decimal) Round(places int32) Decimal {
	var result apd.Decimal
	_, _ = arith.Quantize(&result, &d.value, -places)
	return Decimal{value: result}
}

// Sum adds all values.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// accept bare numbers as well
		s = string(b)
	}
	parsed, err := New(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for text, integer and float columns.
func (d *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Zero
		return nil
	case string:
		parsed, err := New(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	case int64:
		*d = FromInt64(v)
		return nil
	case float64:
		*d = FromFloat(v)
		return nil
	default:
		return fmt.Errorf("amount: cannot scan %T", src)
	}
}

// Value implements driver.Valuer, storing decimals as text.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

// Float64 is for display only; arithmetic stays decimal.
func (d Decimal) Float64() float64 {
	f, _ := d.value.Float64()
	return f
}
