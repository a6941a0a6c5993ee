// setup.go
package rabbit

import (
	"context"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

type handlerFunc func(ctx context.Context, body []byte) error

// DeclareExchanges declara los exchanges fanout que usa el servicio.
func DeclareExchanges(ch *amqp091.Channel) error {
	for _, name := range []string{ExchangeOrderPlaced, ExchangeOrderEvents, ExchangeNotifications} {
		if err := ch.ExchangeDeclare(name, "fanout", true, false, false, false, nil); err != nil {
			slog.Error("❌ Error declarando exchange", "exchange", name, "error", err)
			return err
		}
	}
	return nil
}

// SetupConsumers suscribe la intake de órdenes y el feed de tracking.
func SetupConsumers(ctx context.Context, ch *amqp091.Channel, orders *PlaceOrderConsumer, tracking *OrderEventsConsumer) error {
	if err := consume(ctx, ch, "checkout_service_orders", ExchangeOrderPlaced, orders.Handle); err != nil {
		return err
	}
	return consume(ctx, ch, "checkout_service_tracking", ExchangeOrderEvents, tracking.Handle)
}

func consume(ctx context.Context, ch *amqp091.Channel, queue, exchange string, handle handlerFunc) error {
	// 1. Declarar la queue
	q, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		slog.Error("❌ Error declarando queue", "queue", queue, "error", err)
		return err
	}

	// 2. Bindear al exchange fanout
	err = ch.QueueBind(
		q.Name,
		"", // fanout ignora routing key
		exchange,
		false,
		nil,
	)
	if err != nil {
		slog.Error("❌ Error binding exchange", "exchange", exchange, "error", err)
		return err
	}

	// 3. Consumir con ack manual
	msgs, err := ch.Consume(
		q.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		slog.Error("❌ Error al consumir queue", "queue", queue, "error", err)
		return err
	}

	go func() {
		for m := range msgs {
			if err := handle(ctx, m.Body); err != nil {
				// un mensaje que no se pudo procesar no vuelve a la cola
				_ = m.Nack(false, false)
				continue
			}
			_ = m.Ack(false)
		}
	}()

	slog.Info("🐰 Suscrito a exchange (fanout)", "exchange", exchange, "queue", queue)
	return nil
}
