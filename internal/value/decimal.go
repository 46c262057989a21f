package value

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Decimal is an arbitrary precision decimal number: unscaled * 10^-scale.
// Scale is preserved through arithmetic, so 1.0 * 2.0 yields 2.00.
type Decimal struct {
	unscaled *big.Int
	scale    int32
}

// NewDecimal creates a decimal from an unscaled integer and a scale
func NewDecimal(unscaled *big.Int, scale int32) Decimal {
	u := new(big.Int)
	if unscaled != nil {
		u.Set(unscaled)
	}
	return Decimal{unscaled: u, scale: scale}
}

// DecimalFromInt64 creates a decimal with scale zero
func DecimalFromInt64(i int64) Decimal {
	return Decimal{unscaled: big.NewInt(i), scale: 0}
}

// DecimalFromBigInt creates a decimal with scale zero
func DecimalFromBigInt(i *big.Int) Decimal {
	return NewDecimal(i, 0)
}

// DecimalFromFloat creates a decimal from the shortest decimal text of f
func DecimalFromFloat(f float64) Decimal {
	d, err := ParseDecimal(strconv.FormatFloat(f, 'f', -1, 64))
	if err != nil {
		return DecimalFromInt64(0)
	}
	return d
}

// ParseDecimal parses decimal text such as "12", "-1.50" or "2.5e3"
func ParseDecimal(s string) (Decimal, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Decimal{}, fmt.Errorf("empty decimal")
	}

	exp := int64(0)
	if i := strings.IndexAny(text, "eE"); i >= 0 {
		e, err := strconv.ParseInt(text[i+1:], 10, 32)
		if err != nil {
			return Decimal{}, fmt.Errorf("invalid decimal exponent %q: %w", s, err)
		}
		exp = e
		text = text[:i]
	}

	neg := false
	switch {
	case strings.HasPrefix(text, "-"):
		neg = true
		text = text[1:]
	case strings.HasPrefix(text, "+"):
		text = text[1:]
	}

	intPart, fracPart := text, ""
	if i := strings.IndexByte(text, '.'); i >= 0 {
		intPart, fracPart = text[:i], text[i+1:]
	}
	digits := intPart + fracPart
	if digits == "" {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}

	unscaled, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	if neg {
		unscaled.Neg(unscaled)
	}

	return Decimal{unscaled: unscaled, scale: int32(int64(len(fracPart)) - exp)}, nil
}

// MustDecimal parses s and panics on malformed input
func MustDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) int() *big.Int {
	if d.unscaled == nil {
		return new(big.Int)
	}
	return d.unscaled
}

// Scale returns the number of digits after the decimal point
func (d Decimal) Scale() int32 {
	return d.scale
}

// Unscaled returns a copy of the unscaled value
func (d Decimal) Unscaled() *big.Int {
	return new(big.Int).Set(d.int())
}

// Sign returns -1, 0 or 1
func (d Decimal) Sign() int {
	return d.int().Sign()
}

// rescale returns the unscaled value expressed at a larger scale
func (d Decimal) rescale(scale int32) *big.Int {
	u := new(big.Int).Set(d.int())
	if scale <= d.scale {
		return u
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale-d.scale)), nil)
	return u.Mul(u, factor)
}

// Add returns d + o at the larger of the two scales
func (d Decimal) Add(o Decimal) Decimal {
	scale := d.scale
	if o.scale > scale {
		scale = o.scale
	}
	return Decimal{unscaled: new(big.Int).Add(d.rescale(scale), o.rescale(scale)), scale: scale}
}

// Mul returns d * o with the sum of the two scales
func (d Decimal) Mul(o Decimal) Decimal {
	return Decimal{unscaled: new(big.Int).Mul(d.int(), o.int()), scale: d.scale + o.scale}
}

// Cmp compares numeric values, ignoring scale
func (d Decimal) Cmp(o Decimal) int {
	scale := d.scale
	if o.scale > scale {
		scale = o.scale
	}
	return d.rescale(scale).Cmp(o.rescale(scale))
}

// Float64 returns the nearest float64
func (d Decimal) Float64() float64 {
	f, _ := strconv.ParseFloat(d.String(), 64)
	return f
}

// String renders plain decimal text keeping trailing zeros
func (d Decimal) String() string {
	u := d.int()
	if d.scale <= 0 {
		s := u.String()
		if d.scale < 0 && u.Sign() != 0 {
			s += strings.Repeat("0", int(-d.scale))
		}
		return s
	}

	digits := new(big.Int).Abs(u).String()
	scale := int(d.scale)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale

	var b strings.Builder
	if u.Sign() < 0 {
		b.WriteByte('-')
	}
	b.WriteString(digits[:point])
	b.WriteByte('.')
	b.WriteString(digits[point:])
	return b.String()
}

// MarshalJSON encodes the decimal in its tagged wire form
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		ClassKey: ClassBigDecimal,
		"value":  d.String(),
	})
}

// DecimalFromRat converts r to a decimal with at most maxScale fraction
// digits, rounding half up. Trailing zeros beyond minScale are dropped.
func DecimalFromRat(r *big.Rat, minScale, maxScale int32) Decimal {
	text := r.FloatString(int(maxScale))
	d, err := ParseDecimal(text)
	if err != nil {
		return DecimalFromInt64(0)
	}
	ten := big.NewInt(10)
	for d.scale > minScale {
		q, m := new(big.Int).QuoRem(d.int(), ten, new(big.Int))
		if m.Sign() != 0 {
			break
		}
		d = Decimal{unscaled: q, scale: d.scale - 1}
	}
	return d
}

// Rat returns the exact rational value of d
func (d Decimal) Rat() *big.Rat {
	r := new(big.Rat).SetInt(d.int())
	if d.scale == 0 {
		return r
	}
	scale := d.scale
	if scale < 0 {
		scale = -scale
	}
	factor := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil))
	if d.scale > 0 {
		return r.Quo(r, factor)
	}
	return r.Mul(r, factor)
}
