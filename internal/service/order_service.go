package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkout-service/internal/dto"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/model"
	"checkout-service/internal/orderstate"
	"checkout-service/internal/repository"
)

var ErrFinalState = errors.New("no se puede cambiar el estado de una orden en estado final")

func dtoToModelShipping(in dto.ShippingDTO, c model.Contact) model.Shipping {
	s := model.Shipping{
		Name:       in.Name,
		Phone:      in.Phone,
		Address:    in.Address,
		City:       in.City,
		Province:   in.Province,
		PostalCode: in.PostalCode,
		Country:    in.Country,
	}
	if s.Name == "" {
		s.Name = c.Name
	}
	if s.Phone == "" {
		s.Phone = c.Phone
	}
	if s.Country == "" {
		s.Country = "Pakistan"
	}
	return s
}

func modelToDTOShipping(s model.Shipping) dto.ShippingDTO {
	return dto.ShippingDTO{
		Name:       s.Name,
		Phone:      s.Phone,
		Address:    s.Address,
		City:       s.City,
		Province:   s.Province,
		PostalCode: s.PostalCode,
		Country:    s.Country,
	}
}

// ToResponse arma la vista pública de una orden.
func ToResponse(o *model.Order) dto.OrderResponse {
	items := make([]dto.LineItemDTO, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, dto.LineItemDTO{ProductRef: li.ProductRef, Name: li.Name, Quantity: li.Quantity, UnitPrice: li.UnitPrice})
	}
	r := dto.OrderResponse{
		OrderRef:       o.OrderRef,
		UserID:         o.UserID,
		Status:         string(o.Status),
		PaymentMethod:  o.PaymentMethod,
		ItemsTotal:     o.ItemsTotal,
		DeliveryCharge: o.DeliveryCharge,
		GrandTotal:     o.GrandTotal,
		Items:          items,
		Shipping:       modelToDTOShipping(o.Shipping),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Payment != nil {
		r.PaymentStatus = string(o.Payment.Status)
	}
	return r
}

type OrderService struct {
	repo   OrderRepository
	cod    *gateway.COD
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

func NewOrderService(r OrderRepository, cod *gateway.COD, pub events.Publisher) *OrderService {
	return &OrderService{
		repo:   r,
		cod:    cod,
		events: pub,
		log:    slog.Default().With("component", "orders"),
		now:    time.Now,
	}
}

// Transiciones manuales (el resto las hace el flujo de pago)
var adminTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.StatusPending:        {model.StatusCancelled},
	model.StatusPaymentFailed:  {model.StatusCancelled},
	model.StatusConfirmed:      {model.StatusProcessing, model.StatusCancelled},
	model.StatusProcessing:     {model.StatusShipped, model.StatusCancelled},
	model.StatusShipped:        {model.StatusOutForDelivery, model.StatusCancelled},
	model.StatusOutForDelivery: {model.StatusDelivered, model.StatusCancelled},
}

var userTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.StatusPending:       {model.StatusCancelled},
	model.StatusPaymentFailed: {model.StatusCancelled},
	model.StatusConfirmed:     {model.StatusCancelled},
}

// CreateOrder congela líneas, precios y totales. Se invoca desde el consumer
// Rabbit (primario) o vía API.
func (s *OrderService) CreateOrder(ctx context.Context, req dto.CreateOrderRequest) (*model.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: sin artículos", ErrInvalidOrder)
	}
	if strings.TrimSpace(req.Shipping.City) == "" {
		return nil, fmt.Errorf("%w: falta la ciudad de entrega", ErrInvalidOrder)
	}

	items := make([]model.LineItem, 0, len(req.Items))
	var itemsTotal int64
	for _, it := range req.Items {
		if it.Quantity < 1 || it.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: artículo %s con cantidad o precio inválido", ErrInvalidOrder, it.ProductRef)
		}
		items = append(items, model.LineItem{
			ProductRef: it.ProductRef,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
		})
		itemsTotal += int64(it.Quantity) * it.UnitPrice
	}

	ref := strings.TrimSpace(req.OrderRef)
	if ref == "" {
		ref = newOrderRef(s.now())
	}

	var delivery int64
	if s.cod != nil {
		delivery = s.cod.DeliveryCharge(req.Shipping.City, itemsTotal)
	}

	customer := model.Contact{Name: req.Customer.Name, Email: req.Customer.Email, Phone: req.Customer.Phone}
	now := s.now().UTC()
	order := &model.Order{
		OrderRef:       ref,
		UserID:         req.UserID,
		Customer:       customer,
		LineItems:      items,
		Shipping:       dtoToModelShipping(req.Shipping, customer),
		ItemsTotal:     itemsTotal,
		DeliveryCharge: delivery,
		GrandTotal:     itemsTotal + delivery,
		PaymentMethod:  req.PaymentMethod,
		Status:         model.StatusPending,
		History: []model.StatusRecord{
			{
				Status:    model.StatusPending,
				Reason:    "Orden creada",
				UserID:    req.UserID,
				Timestamp: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrOrderAlreadyExists
		}
		return nil, err
	}

	s.log.Info("orden creada", "order_ref", order.OrderRef, "grand_total", order.GrandTotal, "items", len(items))
	return order, nil
}

// newOrderRef genera referencias del estilo GB-20240601-1A2B3C4D.
func newOrderRef(now time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "GB-" + now.UTC().Format("20060102") + "-" + id
}

// Getters
func (s *OrderService) GetByOrderRef(ctx context.Context, orderRef string) (*model.Order, error) {
	o, err := s.repo.FindByOrderRef(ctx, orderRef)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (s *OrderService) GetAll(ctx context.Context) ([]*model.Order, error) {
	return s.repo.FindAll(ctx)
}

func (s *OrderService) GetByStatus(ctx context.Context, status model.OrderStatus) ([]*model.Order, error) {
	if !orderstate.IsKnown(status) {
		return nil, fmt.Errorf("%w: %q", orderstate.ErrUnknownState, status)
	}
	return s.repo.FindByStatus(ctx, status)
}

func (s *OrderService) GetByUserID(ctx context.Context, userID string) ([]*model.Order, error) {
	return s.repo.FindByUserID(ctx, userID)
}

type StatusUpdate struct {
	OrderRef        string
	Status          model.OrderStatus
	Reason          string
	ActorID         string
	IsAdmin         bool
	DeliveryPartner string
	TrackingNumber  string
	Location        string
}

// UpdateStatus valida y realiza la transición manual según las reglas de negocio.
func (s *OrderService) UpdateStatus(ctx context.Context, u StatusUpdate) (*model.Order, error) {
	ord, err := s.GetByOrderRef(ctx, u.OrderRef)
	if err != nil {
		return nil, err
	}

	current := ord.Status

	// Si el estado nuevo es el mismo que ya está, no hacemos nada
	if current == u.Status {
		return ord, nil
	}
	// Si el estado actual es final, no se puede cambiar
	if orderstate.IsTerminal(current) {
		return nil, ErrFinalState
	}
	if err := orderstate.Validate(current, u.Status); err != nil {
		return nil, err
	}

	// Determinamos si el actor es el dueño de la orden
	isOwner := ord.UserID != "" && ord.UserID == u.ActorID
	if !u.IsAdmin && !isOwner {
		return nil, ErrForbidden
	}

	allowedAsAdmin := u.IsAdmin && slices.Contains(adminTransitions[current], u.Status)
	allowedAsOwner := isOwner && slices.Contains(userTransitions[current], u.Status)
	if !allowedAsAdmin && !allowedAsOwner {
		if isOwner && !u.IsAdmin {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("%w: %s -> %s se resuelve por el flujo de pago", orderstate.ErrInvalidTransition, current, u.Status)
	}

	now := s.now().UTC()
	reason := u.Reason
	if reason == "" {
		reason = "Estado actualizado a " + string(u.Status)
	}
	change := repository.Change{
		OrderRef:   ord.OrderRef,
		FromStatus: current,
		ToStatus:   u.Status,
		Record: &model.StatusRecord{
			Status:    u.Status,
			Reason:    reason,
			UserID:    u.ActorID,
			Timestamp: now,
		},
		At: now,
	}

	// contra reembolso: el cobro se completa con la entrega
	if u.Status == model.StatusDelivered && ord.Payment != nil &&
		ord.Payment.Gateway == model.GatewayCOD && ord.Payment.Status == model.PaymentPending {
		change.AttemptID = ord.Payment.AttemptID
		change.AttemptStatus = model.PaymentPending
		change.Payment = &repository.PaymentPatch{Status: model.PaymentCompleted, VerifiedAt: &now}
	}

	updated, err := s.repo.Apply(ctx, change)
	if err != nil {
		return nil, err
	}

	s.log.Info("estado actualizado", "order_ref", updated.OrderRef, "from", current, "to", updated.Status, "actor", u.ActorID)

	e := events.New(events.OrderStatusChanged, updated)
	e.Reason = reason
	e.Data = map[string]string{}
	if u.DeliveryPartner != "" {
		e.Data["deliveryPartner"] = u.DeliveryPartner
	}
	if u.TrackingNumber != "" {
		e.Data["trackingNumber"] = u.TrackingNumber
	}
	if u.Location != "" {
		e.Data["location"] = u.Location
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.Error("no se pudo publicar el cambio de estado", "order_ref", updated.OrderRef, "error", err)
		}
	}
	return updated, nil
}
