// Package events define el feed de eventos de órdenes y las notificaciones
// que se entregan al dispatcher externo.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkout-service/internal/model"
)

type Type string

const (
	PaymentConfirmed   Type = "payment-confirmed"
	PaymentFailed      Type = "payment-failed"
	OrderStatusChanged Type = "order-status-changed"
)

type Event struct {
	ID                    string            `json:"id"`
	Type                  Type              `json:"type"`
	OrderRef              string            `json:"orderRef"`
	OrderStatus           model.OrderStatus `json:"orderStatus"`
	Gateway               model.Gateway     `json:"gateway,omitempty"`
	Amount                int64             `json:"amount,omitempty"`
	ProviderTransactionID string            `json:"providerTransactionId,omitempty"`
	Reason                string            `json:"reason,omitempty"`
	Customer              model.Contact     `json:"customer"`
	Data                  map[string]string `json:"data,omitempty"`
	OccurredAt            time.Time         `json:"occurredAt"`
}

func New(t Type, order *model.Order) Event {
	e := Event{
		ID:          uuid.NewString(),
		Type:        t,
		OrderRef:    order.OrderRef,
		OrderStatus: order.Status,
		Customer:    order.Customer,
		OccurredAt:  time.Now().UTC(),
	}
	if order.Payment != nil {
		e.Gateway = order.Payment.Gateway
		e.Amount = order.Payment.Amount
		e.ProviderTransactionID = order.Payment.ProviderTransactionID
	}
	return e
}

// Publisher entrega eventos al feed. Las implementaciones no deben bloquear
// al llamador más allá del envío.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Handler func(ctx context.Context, e Event) error

// Bus es el feed en proceso, usado cuando no hay RabbitMQ configurado.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish ejecuta los handlers en orden; un error de un handler se loguea y no corta el resto.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			slog.Warn("handler de evento falló", "event", e.Type, "order_ref", e.OrderRef, "error", err)
		}
	}
	return nil
}
