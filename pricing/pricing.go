// Package pricing turns a listing price into the amounts charged at
// checkout: the base price, an optional flat content-writing fee and a
// platform fee expressed as a percentage of both.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xraph/escrow/types"
)

// Policy is a fee schedule. PlatformFeePercent applies to base plus
// content fee and is rounded half-to-even to the currency's minor unit.
type Policy struct {
	PlatformFeePercent decimal.Decimal
	ContentFee         types.Money
}

// DefaultPolicy charges 5% platform fee and a 50.00 content fee.
func DefaultPolicy(currency string) Policy {
	return Policy{
		PlatformFeePercent: decimal.NewFromInt(5),
		ContentFee:         types.New(5000, currency),
	}
}

// Quote is the fee breakdown for one order line.
type Quote struct {
	Base        types.Money `json:"base"`
	ContentFee  types.Money `json:"content_fee"`
	PlatformFee types.Money `json:"platform_fee"`
	Total       types.Money `json:"total"`
}

// Validate rejects negative or out-of-range settings.
func (p Policy) Validate() error {
	if p.PlatformFeePercent.IsNegative() || p.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("pricing: platform fee percent %s out of range [0, 100]", p.PlatformFeePercent)
	}
	if p.ContentFee.IsNegative() {
		return fmt.Errorf("pricing: negative content fee %s", p.ContentFee)
	}
	return nil
}

// Quote prices a line with the given base amount.
func (p Policy) Quote(base types.Money, needsContent bool) (Quote, error) {
	if !base.IsPositive() {
		return Quote{}, fmt.Errorf("pricing: base amount must be positive, got %s", base)
	}

	content := types.Zero(base.Currency)
	if needsContent {
		if !p.ContentFee.IsZero() && !p.ContentFee.SameCurrency(base) {
			return Quote{}, fmt.Errorf("pricing: content fee currency %s, base currency %s",
				p.ContentFee.Currency, base.Currency)
		}
		content = types.New(p.ContentFee.Amount, base.Currency)
	}

	feeBase := base.Add(content).Decimal()
	fee := feeBase.Mul(p.PlatformFeePercent).Div(decimal.NewFromInt(100)).
		RoundBank(int32(types.Decimals(base.Currency)))
	platform, err := types.FromDecimal(fee, base.Currency)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Base:        base,
		ContentFee:  content,
		PlatformFee: platform,
		Total:       base.Add(content).Add(platform),
	}, nil
}
