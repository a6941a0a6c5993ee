package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"checkout-service/internal/model"
)

type NotificationType string

const (
	OrderConfirmation NotificationType = "order-confirmation"
	PaymentFailure    NotificationType = "payment-failed"
	OrderShipped      NotificationType = "order-shipped"
	OrderDelivered    NotificationType = "order-delivered"
)

type Notification struct {
	EventType    NotificationType  `json:"eventType"`
	OrderRef     string            `json:"orderRef"`
	Recipient    model.Contact     `json:"recipient"`
	TemplateData map[string]string `json:"templateData"`
}

// Notifier encola una notificación sin esperar la entrega.
type Notifier interface {
	Notify(n Notification)
}

// Sink es el destino real (RabbitMQ, log).
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// AsyncNotifier desacopla el dispatcher del camino de pago: si la cola está
// llena la notificación se descarta y se loguea.
type AsyncNotifier struct {
	sink    Sink
	queue   chan Notification
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func NewAsyncNotifier(sink Sink, size int) *AsyncNotifier {
	if size <= 0 {
		size = 256
	}
	return &AsyncNotifier{sink: sink, queue: make(chan Notification, size)}
}

func (a *AsyncNotifier) Notify(n Notification) {
	select {
	case a.queue <- n:
	default:
		a.dropped.Add(1)
		slog.Warn("cola de notificaciones llena, se descarta", "type", n.EventType, "order_ref", n.OrderRef)
	}
}

func (a *AsyncNotifier) Dropped() int64 {
	return a.dropped.Load()
}

// Run consume la cola hasta que ctx se cancela y luego drena lo pendiente.
func (a *AsyncNotifier) Run(ctx context.Context) {
	a.wg.Add(1)
	defer a.wg.Done()

	for {
		select {
		case n := <-a.queue:
			a.send(ctx, n)
		case <-ctx.Done():
			for {
				select {
				case n := <-a.queue:
					a.send(context.WithoutCancel(ctx), n)
				default:
					return
				}
			}
		}
	}
}

// Wait bloquea hasta que Run terminó de drenar.
func (a *AsyncNotifier) Wait() {
	a.wg.Wait()
}

func (a *AsyncNotifier) send(ctx context.Context, n Notification) {
	if err := a.sink.Send(ctx, n); err != nil {
		slog.Error("no se pudo enviar la notificación", "type", n.EventType, "order_ref", n.OrderRef, "error", err)
	}
}

// LogSink solo registra la notificación; se usa sin broker configurado.
type LogSink struct{}

func (LogSink) Send(_ context.Context, n Notification) error {
	slog.Info("notificación", "type", n.EventType, "order_ref", n.OrderRef, "recipient", n.Recipient.Email)
	return nil
}
