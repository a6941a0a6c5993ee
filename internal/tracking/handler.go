package tracking

import (
	"context"
	"errors"

	"checkout-service/internal/events"
	"checkout-service/internal/model"
)

// milestoneFor traduce un evento del feed de órdenes a un hito de tracking.
func milestoneFor(e events.Event) (model.Milestone, bool) {
	switch e.Type {
	case events.PaymentConfirmed:
		return model.MilestonePaymentConfirmed, true
	case events.OrderStatusChanged:
		switch e.OrderStatus {
		case model.StatusProcessing:
			return model.MilestoneConfirmed, true
		case model.StatusShipped:
			return model.MilestoneShipped, true
		case model.StatusOutForDelivery:
			return model.MilestoneOutForDelivery, true
		case model.StatusDelivered:
			return model.MilestoneDelivered, true
		}
	}
	return "", false
}

// HandleEvent consume el feed de órdenes. Los eventos repetidos o fuera de
// orden se descartan sin error para que el consumer los confirme.
func (b *Broadcaster) HandleEvent(ctx context.Context, e events.Event) error {
	m, ok := milestoneFor(e)
	if !ok {
		return nil
	}

	recipient := e.Customer
	_, err := b.Publish(ctx, e.OrderRef, Update{
		Milestone:       m,
		Note:            e.Reason,
		Location:        e.Data["location"],
		DeliveryPartner: e.Data["deliveryPartner"],
		TrackingNumber:  e.Data["trackingNumber"],
		OrderStatus:     e.OrderStatus,
		Recipient:       &recipient,
	})
	if errors.Is(err, ErrInvalidMilestoneOrder) || errors.Is(err, ErrNotAllowedForOrder) {
		b.log.Info("evento de tracking descartado", "order_ref", e.OrderRef, "event", e.Type, "milestone", m, "error", err)
		return nil
	}
	return err
}
