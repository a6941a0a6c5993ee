package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"checkout-service/internal/dto"
	"checkout-service/internal/model"
	"checkout-service/internal/service"
)

// OrderCreator es lo que el consumer necesita del servicio de órdenes.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req dto.CreateOrderRequest) (*model.Order, error)
}

type PlaceOrderConsumer struct {
	Service OrderCreator
}

func NewPlaceOrderConsumer(s OrderCreator) *PlaceOrderConsumer {
	return &PlaceOrderConsumer{Service: s}
}

// Mensaje publicado por el carrito al exchange order_placed. Los precios ya
// vienen congelados por el carrito.
type PlacedOrderMessage struct {
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Message       struct {
		OrderID  string         `json:"orderId"`
		CartID   string         `json:"cartId"`
		UserID   string         `json:"userId"`
		Customer dto.ContactDTO `json:"customer"`
		Articles []struct {
			ArticleID string `json:"articleId"`
			Name      string `json:"name"`
			Quantity  int    `json:"quantity"`
			Price     int64  `json:"price"`
		} `json:"articles"`
		Shipping      dto.ShippingDTO `json:"shipping"`
		PaymentMethod string          `json:"paymentMethod"`
	} `json:"message"`
}

func (m PlacedOrderMessage) toRequest() dto.CreateOrderRequest {
	req := dto.CreateOrderRequest{
		OrderRef:      m.Message.OrderID,
		UserID:        m.Message.UserID,
		Customer:      m.Message.Customer,
		Shipping:      m.Message.Shipping,
		PaymentMethod: m.Message.PaymentMethod,
		Items:         make([]dto.LineItemDTO, 0, len(m.Message.Articles)),
	}
	for _, a := range m.Message.Articles {
		req.Items = append(req.Items, dto.LineItemDTO{
			ProductRef: a.ArticleID,
			Name:       a.Name,
			Quantity:   a.Quantity,
			UnitPrice:  a.Price,
		})
	}
	return req
}

// Handle crea la orden. Un mensaje repetido no es un error.
func (c *PlaceOrderConsumer) Handle(ctx context.Context, msg []byte) error {
	slog.Info("[Rabbit] Evento recibido: place_order")

	var event PlacedOrderMessage
	if err := json.Unmarshal(msg, &event); err != nil {
		slog.Error("Error parseando mensaje", "error", err)
		return err
	}

	order, err := c.Service.CreateOrder(ctx, event.toRequest())
	if errors.Is(err, service.ErrOrderAlreadyExists) {
		slog.Info("↩ Orden ya inicializada, se ignora", "order_ref", event.Message.OrderID)
		return nil
	}
	if err != nil {
		slog.Error("❌ Error creando la orden", "order_ref", event.Message.OrderID, "error", err)
		return err
	}

	slog.Info("✔ Orden creada desde el checkout", "order_ref", order.OrderRef, "grand_total", order.GrandTotal)
	return nil
}
