package sale

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// maxAmount is 2^128-1.
var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Amount is an unsigned 128-bit count of base units. The zero value is 0.
// Amounts are immutable: every operation returns a fresh value.
type Amount struct {
	v *big.Int
}

// Zero is the zero amount.
var Zero = Amount{}

// NewAmount returns x as an Amount.
func NewAmount(x uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(x)}
}

// ParseAmount parses a base-10 integer.
func ParseAmount(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Zero, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	return fromBig(v)
}

// MustParseAmount is ParseAmount for constants. It panics on bad input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func fromBig(v *big.Int) (Amount, error) {
	if v.Sign() < 0 {
		return Zero, fmt.Errorf("%w: result %s is negative", ErrArithmeticUnderflow, v)
	}
	if v.Cmp(maxAmount) > 0 {
		return Zero, fmt.Errorf("%w: result exceeds 128 bits", ErrArithmeticOverflow)
	}
	return Amount{v: v}, nil
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	return fromBig(new(big.Int).Add(a.int(), b.int()))
}

// Sub returns a-b, failing with ErrArithmeticUnderflow when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	return fromBig(new(big.Int).Sub(a.int(), b.int()))
}

// Mul returns a*b.
func (a Amount) Mul(b Amount) (Amount, error) {
	return fromBig(new(big.Int).Mul(a.int(), b.int()))
}

// Quo returns a/b truncated toward zero.
func (a Amount) Quo(b Amount) (Amount, error) {
	if b.IsZero() {
		return Zero, ErrDivisionByZero
	}
	return fromBig(new(big.Int).Quo(a.int(), b.int()))
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

func (a Amount) IsZero() bool {
	return a.int().Sign() == 0
}

func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.int())
}

func (a Amount) String() string {
	return a.int().String()
}

// MarshalJSON encodes the amount as a decimal string so JavaScript clients
// do not lose precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer for numeric(39,0) columns.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		*a = Zero
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("cannot scan negative amount %d", v)
		}
		*a = NewAmount(uint64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return fmt.Errorf("failed to scan amount: %w", err)
	}
	*a = parsed
	return nil
}

// FormatUnits renders base units as a decimal token quantity, e.g.
// FormatUnits(1500000, 6) == "1.5". Display only.
func FormatUnits(a Amount, decimals int32) string {
	return decimal.NewFromBigInt(a.int(), -decimals).String()
}
