package gateway

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

type CODQuote struct {
	Available      bool   `json:"available"`
	City           string `json:"city"`
	DeliveryDays   int    `json:"deliveryDays,omitempty"`
	Charges        int64  `json:"charges"`
	MinOrderAmount int64  `json:"minOrderAmount,omitempty"`
	MaxOrderAmount int64  `json:"maxOrderAmount,omitempty"`
	Message        string `json:"message,omitempty"`
}

// COD no habla con ningún proveedor: solo valida elegibilidad por ciudad.
type COD struct {
	cfg config.COD
}

func NewCOD(cfg config.COD) *COD {
	return &COD{cfg: cfg}
}

func (c *COD) Gateway() model.Gateway { return model.GatewayCOD }

// Quote evalúa la tabla de ciudades para el monto dado.
func (c *COD) Quote(city string, amount int64) CODQuote {
	key := strings.ToLower(strings.TrimSpace(city))
	q := CODQuote{City: key}

	if !c.cfg.Enabled {
		q.Message = "Cash on Delivery is currently disabled"
		return q
	}
	rule, ok := c.cfg.Cities[key]
	if !ok || !rule.Available {
		q.Message = "Cash on Delivery is not available in your city"
		return q
	}

	q.DeliveryDays = rule.DeliveryDays
	q.Charges = rule.Charges
	q.MinOrderAmount = rule.MinOrderAmount
	q.MaxOrderAmount = rule.MaxOrderAmount

	switch {
	case amount < rule.MinOrderAmount:
		q.Message = fmt.Sprintf("Minimum order amount for Cash on Delivery is Rs. %d", rule.MinOrderAmount)
	case amount > rule.MaxOrderAmount:
		q.Message = fmt.Sprintf("Maximum order amount for Cash on Delivery is Rs. %d", rule.MaxOrderAmount)
	case c.cfg.MaxOrderValue > 0 && amount > c.cfg.MaxOrderValue:
		q.Message = fmt.Sprintf("Maximum order amount for Cash on Delivery is Rs. %d", c.cfg.MaxOrderValue)
	default:
		q.Available = true
		q.Message = "Cash on Delivery is available"
	}
	return q
}

// DeliveryCharge es el recargo por ciudad (0 si la ciudad no figura o si el
// subtotal alcanza el envío gratis).
func (c *COD) DeliveryCharge(city string, itemsTotal int64) int64 {
	if c.cfg.FreeShippingThreshold > 0 && itemsTotal >= c.cfg.FreeShippingThreshold {
		return 0
	}
	rule, ok := c.cfg.Cities[strings.ToLower(strings.TrimSpace(city))]
	if !ok {
		return 0
	}
	return rule.Charges
}

func (c *COD) Initiate(_ context.Context, req InitiateRequest) (*InitiateResult, error) {
	if strings.TrimSpace(req.OrderRef) == "" {
		return nil, fmt.Errorf("%w: orderRef", ErrMissingField)
	}

	q := c.Quote(req.City, req.Amount)
	res := &InitiateResult{
		Gateway:  model.GatewayCOD,
		Currency: "PKR",
		COD:      &q,
		Raw:      map[string]any{"city": q.City, "deliveryDays": q.DeliveryDays},
	}
	if !q.Available {
		return res, fmt.Errorf("%w: %s", ErrCODUnavailable, q.Message)
	}
	return res, nil
}

func (c *COD) CallbackReference(Callback) (string, error) {
	return "", ErrVerificationUnsupported
}

func (c *COD) Verify(context.Context, Callback) (*Verification, error) {
	return nil, ErrVerificationUnsupported
}
