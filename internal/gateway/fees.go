package gateway

import (
	"github.com/shopspring/decimal"

	"checkout-service/internal/config"
)

type FeeBreakdown struct {
	Total      int64   `json:"total"`
	Percentage int64   `json:"percentage"`
	Fixed      int64   `json:"fixed"`
	Tax        int64   `json:"tax"`
	Rate       float64 `json:"rate"`
}

// CalculateFees: porcentaje + fijo + impuesto sobre ambos, redondeado a rupias.
func CalculateFees(cfg config.GatewayConfig, amount int64) FeeBreakdown {
	rate := cfg.Fees.Percentage
	if cfg.Fees.LocalBelow > 0 && amount < cfg.Fees.LocalBelow {
		rate = cfg.Fees.PercentageLocal
	}

	amt := decimal.NewFromInt(amount)
	pct := amt.Mul(decimal.NewFromFloat(rate)).Div(decimal.NewFromInt(100))
	fixed := decimal.NewFromFloat(cfg.Fees.Fixed)
	tax := pct.Add(fixed).Mul(decimal.NewFromFloat(cfg.Fees.TaxRate))
	total := pct.Add(fixed).Add(tax)

	return FeeBreakdown{
		Total:      total.Round(0).IntPart(),
		Percentage: pct.Round(0).IntPart(),
		Fixed:      fixed.Round(0).IntPart(),
		Tax:        tax.Round(0).IntPart(),
		Rate:       rate,
	}
}

// toMinorUnits convierte rupias a paisa / centavos.
func toMinorUnits(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(100)).IntPart()
}

// convertAmount pasa de PKR a la moneda del proveedor con dos decimales.
func convertAmount(amount int64, pkrPerUnit float64) string {
	if pkrPerUnit <= 0 {
		return decimal.NewFromInt(amount).StringFixed(2)
	}
	return decimal.NewFromInt(amount).Div(decimal.NewFromFloat(pkrPerUnit)).StringFixed(2)
}
