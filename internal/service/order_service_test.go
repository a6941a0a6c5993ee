package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/dto"
	"checkout-service/internal/events"
	"checkout-service/internal/model"
	"checkout-service/internal/orderstate"
)

func TestCreateOrder_Totals(t *testing.T) {
	h := newHarness(t, newFakeResolver())

	// Quetta cobra 200 de entrega por debajo del envío gratis
	o := h.createOrder(t, "ORD-1", "Quetta", 2, 400)
	assert.Equal(t, int64(800), o.ItemsTotal)
	assert.Equal(t, int64(200), o.DeliveryCharge)
	assert.Equal(t, int64(1000), o.GrandTotal)
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Equal(t, "Pakistan", o.Shipping.Country)
	assert.Equal(t, "Ayesha Khan", o.Shipping.Name)
	require.Len(t, o.History, 1)
	assert.Equal(t, model.StatusPending, o.History[0].Status)

	free := h.createOrder(t, "ORD-2", "Quetta", 1, 1000)
	assert.Zero(t, free.DeliveryCharge)
	assert.Equal(t, int64(1000), free.GrandTotal)
}

func TestCreateOrder_GeneratesRef(t *testing.T) {
	h := newHarness(t, newFakeResolver())
	o := h.createOrder(t, "", "Lahore", 1, 1500)
	assert.True(t, strings.HasPrefix(o.OrderRef, "GB-20240601-"), o.OrderRef)
	assert.Len(t, o.OrderRef, len("GB-20240601-")+8)
}

func TestCreateOrder_Rejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newFakeResolver())
	h.createOrder(t, "ORD-1", "Lahore", 1, 1500)

	_, err := h.orders.CreateOrder(ctx, dto.CreateOrderRequest{
		OrderRef: "ORD-1",
		Items:    []dto.LineItemDTO{{ProductRef: "x", Quantity: 1, UnitPrice: 10}},
		Shipping: dto.ShippingDTO{City: "Lahore"},
	})
	assert.ErrorIs(t, err, ErrOrderAlreadyExists)

	_, err = h.orders.CreateOrder(ctx, dto.CreateOrderRequest{Shipping: dto.ShippingDTO{City: "Lahore"}})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = h.orders.CreateOrder(ctx, dto.CreateOrderRequest{
		Items: []dto.LineItemDTO{{ProductRef: "x", Quantity: 1, UnitPrice: 10}},
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = h.orders.CreateOrder(ctx, dto.CreateOrderRequest{
		Items:    []dto.LineItemDTO{{ProductRef: "x", Quantity: 0, UnitPrice: 10}},
		Shipping: dto.ShippingDTO{City: "Lahore"},
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestUpdateStatus_Permissions(t *testing.T) {
	ctx := context.Background()

	t.Run("owner cancels pending order", func(t *testing.T) {
		h := newHarness(t, newFakeResolver())
		h.createOrder(t, "ORD-1", "Lahore", 1, 1500)

		o, err := h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusCancelled, ActorID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, o.Status)
		assert.Equal(t, "user-1", o.LatestRecord().UserID)
		assert.Equal(t, []events.Type{events.OrderStatusChanged}, h.rec.eventTypes())
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		h := newHarness(t, newFakeResolver())
		h.createOrder(t, "ORD-1", "Lahore", 1, 1500)

		_, err := h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusCancelled, ActorID: "user-2"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("payment transitions are not manual", func(t *testing.T) {
		h := newHarness(t, newFakeResolver())
		h.createOrder(t, "ORD-1", "Lahore", 1, 1500)

		_, err := h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusConfirmed, ActorID: "admin", IsAdmin: true})
		assert.ErrorIs(t, err, orderstate.ErrInvalidTransition)

		_, err = h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusConfirmed, ActorID: "user-1"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("illegal jump", func(t *testing.T) {
		h := newHarness(t, newFakeResolver())
		h.createOrder(t, "ORD-1", "Lahore", 1, 1500)

		_, err := h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusShipped, ActorID: "admin", IsAdmin: true})
		assert.ErrorIs(t, err, orderstate.ErrInvalidTransition)
		assert.Equal(t, model.StatusPending, h.order(t, "ORD-1").Status)
	})

	t.Run("final state", func(t *testing.T) {
		h := newHarness(t, newFakeResolver())
		h.createOrder(t, "ORD-1", "Lahore", 1, 1500)
		_, err := h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusCancelled, ActorID: "admin", IsAdmin: true})
		require.NoError(t, err)

		_, err = h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusPending, ActorID: "admin", IsAdmin: true})
		assert.ErrorIs(t, err, ErrFinalState)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		h := newHarness(t, newFakeResolver())
		h.createOrder(t, "ORD-1", "Lahore", 1, 1500)

		o, err := h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusPending, ActorID: "user-1"})
		require.NoError(t, err)
		assert.Len(t, o.History, 1)
		assert.Empty(t, h.rec.eventTypes())
	})
}

func TestUpdateStatus_ShippingDataTravelsWithEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newFakeResolver())
	h.createOrder(t, "ORD-1", "Karachi", 1, 3000)

	_, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-1", Method: "cod", Amount: 3000})
	require.NoError(t, err)
	_, err = h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-1", Status: model.StatusProcessing, ActorID: "admin", IsAdmin: true})
	require.NoError(t, err)
	_, err = h.orders.UpdateStatus(ctx, StatusUpdate{
		OrderRef: "ORD-1", Status: model.StatusShipped, ActorID: "admin", IsAdmin: true,
		DeliveryPartner: "TCS", TrackingNumber: "TCS123",
	})
	require.NoError(t, err)

	h.rec.mu.Lock()
	last := h.rec.events[len(h.rec.events)-1]
	h.rec.mu.Unlock()
	assert.Equal(t, events.OrderStatusChanged, last.Type)
	assert.Equal(t, model.StatusShipped, last.OrderStatus)
	assert.Equal(t, "TCS", last.Data["deliveryPartner"])
	assert.Equal(t, "TCS123", last.Data["trackingNumber"])
}

func TestGetByStatus_UnknownStatus(t *testing.T) {
	h := newHarness(t, newFakeResolver())
	_, err := h.orders.GetByStatus(context.Background(), "lost")
	assert.ErrorIs(t, err, orderstate.ErrUnknownState)

	_, err = h.orders.GetByOrderRef(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestToResponse(t *testing.T) {
	h := newHarness(t, newFakeResolver())
	o := h.createOrder(t, "ORD-1", "Multan", 1, 900)

	r := ToResponse(o)
	assert.Equal(t, "ORD-1", r.OrderRef)
	assert.Equal(t, int64(100), r.DeliveryCharge)
	assert.Equal(t, int64(1000), r.GrandTotal)
	assert.Equal(t, "Multan", r.Shipping.City)
	require.Len(t, r.Items, 1)
}
