package value

import (
	"fmt"
	"math"
	"math/big"
)

// numKind orders numeric representations by width; mixed arithmetic
// promotes to the wider kind.
type numKind int

const (
	kindInt numKind = iota
	kindBigInt
	kindFloat
	kindDecimal
)

func kindOf(v any) (numKind, bool) {
	switch v.(type) {
	case int64:
		return kindInt, true
	case *big.Int:
		return kindBigInt, true
	case float64:
		return kindFloat, true
	case Decimal:
		return kindDecimal, true
	}
	return 0, false
}

func toBigInt(v any) *big.Int {
	switch t := v.(type) {
	case int64:
		return big.NewInt(t)
	case *big.Int:
		return new(big.Int).Set(t)
	case float64:
		b, _ := big.NewFloat(t).Int(nil)
		return b
	case Decimal:
		u := t.Unscaled()
		if t.scale <= 0 {
			return t.rescale(0)
		}
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.scale)), nil)
		return u.Quo(u, div)
	}
	return new(big.Int)
}

// ToFloat64 converts a canonical number to float64
func ToFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(t).Float64()
		return f, true
	case float64:
		return t, true
	case Decimal:
		return t.Float64(), true
	}
	return 0, false
}

// ToInt64 converts a canonical number to int64, truncating fractions
func ToInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case *big.Int:
		if !t.IsInt64() {
			return 0, false
		}
		return t.Int64(), true
	case float64:
		return int64(t), true
	case Decimal:
		b := toBigInt(t)
		if !b.IsInt64() {
			return 0, false
		}
		return b.Int64(), true
	}
	return 0, false
}

// ToDecimal converts a canonical number to a Decimal
func ToDecimal(v any) (Decimal, bool) {
	switch t := v.(type) {
	case int64:
		return DecimalFromInt64(t), true
	case *big.Int:
		return DecimalFromBigInt(t), true
	case float64:
		return DecimalFromFloat(t), true
	case Decimal:
		return t, true
	}
	return Decimal{}, false
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareNumbers(a, b any) int {
	ka, _ := kindOf(a)
	kb, _ := kindOf(b)
	k := ka
	if kb > k {
		k = kb
	}

	switch k {
	case kindInt:
		return compareInts(a.(int64), b.(int64))
	case kindBigInt:
		return toBigInt(a).Cmp(toBigInt(b))
	case kindFloat:
		fa, _ := ToFloat64(a)
		fb, _ := ToFloat64(b)
		return compareFloats(fa, fb)
	default:
		da, _ := ToDecimal(a)
		db, _ := ToDecimal(b)
		return da.Cmp(db)
	}
}

func zeroOf(k numKind) any {
	switch k {
	case kindBigInt:
		return new(big.Int)
	case kindFloat:
		return float64(0)
	case kindDecimal:
		return DecimalFromInt64(0)
	}
	return int64(0)
}

func operands(a, b any) (numKind, any, any, error) {
	kb, ok := kindOf(b)
	if !ok {
		return 0, nil, nil, fmt.Errorf("operand %v (%T) is not a number", b, b)
	}
	if a == nil {
		a = zeroOf(kb)
	}
	ka, ok := kindOf(a)
	if !ok {
		return 0, nil, nil, fmt.Errorf("value %v (%T) is not a number", a, a)
	}
	k := ka
	if kb > k {
		k = kb
	}
	return k, a, b, nil
}

// Add returns a + b, promoting to the wider numeric kind. A nil a counts as
// zero of b's kind. int64 overflow promotes to *big.Int.
func Add(a, b any) (any, error) {
	k, a, b, err := operands(a, b)
	if err != nil {
		return nil, err
	}

	switch k {
	case kindInt:
		x, y := a.(int64), b.(int64)
		sum := x + y
		if (y > 0 && sum < x) || (y < 0 && sum > x) {
			return new(big.Int).Add(big.NewInt(x), big.NewInt(y)), nil
		}
		return sum, nil
	case kindBigInt:
		return new(big.Int).Add(toBigInt(a), toBigInt(b)), nil
	case kindFloat:
		x, _ := ToFloat64(a)
		y, _ := ToFloat64(b)
		return x + y, nil
	default:
		x, _ := ToDecimal(a)
		y, _ := ToDecimal(b)
		return x.Add(y), nil
	}
}

// Multiply returns a * b, promoting to the wider numeric kind. Decimal
// products carry the sum of the operand scales.
func Multiply(a, b any) (any, error) {
	k, a, b, err := operands(a, b)
	if err != nil {
		return nil, err
	}

	switch k {
	case kindInt:
		x, y := a.(int64), b.(int64)
		if x == 0 || y == 0 {
			return int64(0), nil
		}
		p := x * y
		if p/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return new(big.Int).Mul(big.NewInt(x), big.NewInt(y)), nil
		}
		return p, nil
	case kindBigInt:
		return new(big.Int).Mul(toBigInt(a), toBigInt(b)), nil
	case kindFloat:
		x, _ := ToFloat64(a)
		y, _ := ToFloat64(b)
		return x * y, nil
	default:
		x, _ := ToDecimal(a)
		y, _ := ToDecimal(b)
		return x.Mul(y), nil
	}
}
