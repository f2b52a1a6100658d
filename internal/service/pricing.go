package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeePolicy describes the processor fee passed on to the buyer. All
// amounts are minor units.
type FeePolicy struct {
	Percent decimal.Decimal
	// Flat is added once the net amount reaches FlatThreshold.
	Flat          int64
	FlatThreshold int64
	// Cap limits the total fee when positive.
	Cap int64
}

// Fee returns the processor fee for net, rounded up to a whole minor unit.
func (f FeePolicy) Fee(net int64) int64 {
	fee := decimal.NewFromInt(net).Mul(f.Percent).Div(hundred).Ceil().IntPart()
	if f.Flat > 0 && net >= f.FlatThreshold {
		fee += f.Flat
	}
	if f.Cap > 0 && fee > f.Cap {
		fee = f.Cap
	}
	return fee
}

// SplitPolicy divides a net course price between educator and platform.
type SplitPolicy struct {
	EducatorPercent decimal.Decimal
}

// Split truncates the educator share to whole minor units and gives the
// remainder to the platform, so the halves always sum to net.
func (s SplitPolicy) Split(net int64) (educator, platform int64) {
	educator = decimal.NewFromInt(net).Mul(s.EducatorPercent).Div(hundred).Floor().IntPart()
	return educator, net - educator
}

func (s SplitPolicy) validate() error {
	if s.EducatorPercent.IsNegative() || s.EducatorPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: educator share %s%% out of range", ErrValidation, s.EducatorPercent)
	}
	return nil
}

// NetPrice applies a whole-percent discount, rounding the discount half up.
func NetPrice(price, discountPercent int64) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if discountPercent < 0 || discountPercent > 100 {
		return 0, fmt.Errorf("%w: discount %d%% out of range", ErrValidation, discountPercent)
	}
	discount := decimal.NewFromInt(price).Mul(decimal.NewFromInt(discountPercent)).Div(hundred).Round(0).IntPart()
	net := price - discount
	if net <= 0 {
		return 0, fmt.Errorf("%w: course has no payable amount", ErrValidation)
	}
	return net, nil
}
