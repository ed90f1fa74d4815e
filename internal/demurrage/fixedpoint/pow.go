// Package fixedpoint implements checked fixed-point arithmetic on 256-bit
// unsigned integers. A value x scaled by S represents the ratio x/S.
package fixedpoint

import (
	"github.com/holiman/uint256"

	dErrors "demura/pkg/domain-errors"
)

// Pow computes floor(base^exp / scale^(exp-1)), i.e. (base/scale)^exp
// re-scaled by scale, using repeated squaring. Every intermediate product
// is rounded to nearest (ties away from zero, by adding scale/2 before the
// truncating division) so rounding error does not compound across
// squarings.
//
// Pow(x, 0, scale) = scale and Pow(0, n>0, scale) = 0.
//
// Fails with an arithmetic_overflow error when an intermediate product
// exceeds 256 bits; callers must treat that as aborting the whole
// operation.
func Pow(base *uint256.Int, exp uint64, scale *uint256.Int) (*uint256.Int, error) {
	result := scale.Clone()
	if exp == 0 {
		return result, nil
	}

	half := new(uint256.Int).Rsh(scale, 1)
	b := base.Clone()
	var err error
	for {
		if exp&1 == 1 {
			if result, err = mulRounded(result, b, scale, half); err != nil {
				return nil, err
			}
		}
		exp >>= 1
		if exp == 0 {
			return result, nil
		}
		if b, err = mulRounded(b, b, scale, half); err != nil {
			return nil, err
		}
	}
}

// MulDiv computes floor(x*y/den) with a 256-bit overflow check on the
// product. Used for the outer value*factor/scale step, which truncates.
func MulDiv(x, y, den *uint256.Int) (*uint256.Int, error) {
	p := new(uint256.Int)
	if _, overflow := p.MulOverflow(x, y); overflow {
		return nil, dErrors.New(dErrors.CodeArithmeticOverflow, "product exceeds 256 bits")
	}
	return p.Div(p, den), nil
}

// mulRounded computes round((x*y)/scale) with ties away from zero.
func mulRounded(x, y, scale, half *uint256.Int) (*uint256.Int, error) {
	p := new(uint256.Int)
	if _, overflow := p.MulOverflow(x, y); overflow {
		return nil, dErrors.New(dErrors.CodeArithmeticOverflow, "product exceeds 256 bits")
	}
	if _, overflow := p.AddOverflow(p, half); overflow {
		return nil, dErrors.New(dErrors.CodeArithmeticOverflow, "rounding add exceeds 256 bits")
	}
	return p.Div(p, scale), nil
}
