package rabbit

import (
	"context"
	"encoding/json"
	"log/slog"

	"checkout-service/internal/events"
)

// OrderEventsConsumer entrega el feed order_events a un handler en proceso
// (el broadcaster de tracking).
type OrderEventsConsumer struct {
	handler events.Handler
}

func NewOrderEventsConsumer(h events.Handler) *OrderEventsConsumer {
	return &OrderEventsConsumer{handler: h}
}

func (c *OrderEventsConsumer) Handle(ctx context.Context, msg []byte) error {
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		slog.Error("Error parseando evento de orden", "error", err)
		return err
	}
	if err := c.handler(ctx, e); err != nil {
		slog.Error("❌ Error procesando evento de orden", "type", e.Type, "order_ref", e.OrderRef, "error", err)
		return err
	}
	return nil
}
