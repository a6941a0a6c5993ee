package rabbit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"checkout-service/internal/events"
)

const (
	ExchangeOrderPlaced   = "order_placed"
	ExchangeOrderEvents   = "order_events"
	ExchangeNotifications = "notifications"
)

// Channel es el subconjunto de *amqp091.Channel que usa el publisher.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Publisher publica eventos de órdenes y notificaciones en exchanges fanout.
// Implementa events.Publisher y events.Sink.
type Publisher struct {
	mu sync.Mutex
	ch Channel
}

func NewPublisher(ch Channel) *Publisher {
	return &Publisher{ch: ch}
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	return p.publish(ctx, ExchangeOrderEvents, e.ID, string(e.Type), e)
}

func (p *Publisher) Send(ctx context.Context, n events.Notification) error {
	return p.publish(ctx, ExchangeNotifications, "", string(n.EventType), n)
}

func (p *Publisher) publish(ctx context.Context, exchange, id, kind string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx, exchange, "", false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Type:         kind,
		Timestamp:    time.Now().UTC(),
		Body:         b,
	})
}
