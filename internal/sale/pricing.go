package sale

import "fmt"

const (
	// DefaultPriceMultiplier is the fixed-point scale of PriceRatio:
	// a ratio of 4000 prices one sale token at 0.4 payment tokens.
	DefaultPriceMultiplier = 10000

	SaleAssetDecimals    = 18
	PaymentAssetDecimals = 6
)

// Both assets are truncated to two decimals before the ratio is applied.
var (
	saleUnitScale    = NewAmount(10_000_000_000_000_000) // 10^16
	paymentUnitScale = NewAmount(10_000)                 // 10^4
)

// PriceConverter converts between payment-asset and sale-asset base units.
// Every step truncates, so the two directions are not exact inverses.
type PriceConverter struct {
	Ratio      Amount
	Multiplier Amount
}

func NewPriceConverter(ratio, multiplier uint64) PriceConverter {
	return PriceConverter{Ratio: NewAmount(ratio), Multiplier: NewAmount(multiplier)}
}

// ToPaymentAmount computes (sale / 10^16) * (ratio * 10^4) / multiplier.
func (p PriceConverter) ToPaymentAmount(saleAmount Amount) (Amount, error) {
	units, err := saleAmount.Quo(saleUnitScale)
	if err != nil {
		return Zero, err
	}
	price, err := p.Ratio.Mul(paymentUnitScale)
	if err != nil {
		return Zero, err
	}
	gross, err := units.Mul(price)
	if err != nil {
		return Zero, fmt.Errorf("failed to price %s sale units: %w", saleAmount, err)
	}
	return gross.Quo(p.Multiplier)
}

// ToSaleAmount computes (payment * multiplier / (ratio * 10^4)) * 10^16.
func (p PriceConverter) ToSaleAmount(paymentAmount Amount) (Amount, error) {
	scaled, err := paymentAmount.Mul(p.Multiplier)
	if err != nil {
		return Zero, fmt.Errorf("failed to scale payment %s: %w", paymentAmount, err)
	}
	price, err := p.Ratio.Mul(paymentUnitScale)
	if err != nil {
		return Zero, err
	}
	units, err := scaled.Quo(price)
	if err != nil {
		return Zero, err
	}
	return units.Mul(saleUnitScale)
}
