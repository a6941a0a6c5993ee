// dto.go
package dto

import "time"

// CreateOrderRequest usado por la API y Rabbit para crear la orden del checkout
type CreateOrderRequest struct {
	OrderRef      string        `json:"orderRef"`
	UserID        string        `json:"userId"`
	Customer      ContactDTO    `json:"customer" binding:"required"`
	Items         []LineItemDTO `json:"items" binding:"required,min=1,dive"`
	Shipping      ShippingDTO   `json:"shipping" binding:"required"`
	PaymentMethod string        `json:"paymentMethod"`
}

type LineItemDTO struct {
	ProductRef string `json:"productRef" binding:"required"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
	UnitPrice  int64  `json:"unitPrice" binding:"min=0"`
}

type ContactDTO struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Phone string `json:"phone" binding:"required"`
}

// ShippingDTO para la dirección de entrega
type ShippingDTO struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Address    string `json:"address" binding:"required"`
	City       string `json:"city" binding:"required"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type UpdateStatusRequest struct {
	Status          string `json:"status" binding:"required"`
	Reason          string `json:"reason"`
	DeliveryPartner string `json:"deliveryPartner"`
	TrackingNumber  string `json:"trackingNumber"`
	Location        string `json:"location"`
}

type OrderResponse struct {
	OrderRef       string        `json:"orderRef"`
	UserID         string        `json:"userId,omitempty"`
	Status         string        `json:"status"`
	PaymentMethod  string        `json:"paymentMethod,omitempty"`
	PaymentStatus  string        `json:"paymentStatus,omitempty"`
	ItemsTotal     int64         `json:"itemsTotal"`
	DeliveryCharge int64         `json:"deliveryCharge"`
	GrandTotal     int64         `json:"grandTotal"`
	Items          []LineItemDTO `json:"items"`
	Shipping       ShippingDTO   `json:"shipping"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type InitiatePaymentRequest struct {
	OrderRef string      `json:"orderRef" binding:"required"`
	Method   string      `json:"paymentMethod" binding:"required"`
	Amount   int64       `json:"amount" binding:"required,gt=0"`
	Contact  *ContactDTO `json:"contact"`
}

type RetryPaymentRequest struct {
	Method string `json:"paymentMethod" binding:"required"`
}

type CODCheckRequest struct {
	City   string `json:"city" binding:"required"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

type PayPalCaptureRequest struct {
	PayPalOrderID string `json:"paypalOrderId" binding:"required"`
	OrderRef      string `json:"orderRef"`
}

type LocationUpdateRequest struct {
	Location string `json:"location" binding:"required"`
}

type MilestoneRequest struct {
	Milestone       string `json:"milestone" binding:"required"`
	Note            string `json:"note"`
	Location        string `json:"location"`
	DeliveryPartner string `json:"deliveryPartner"`
	TrackingNumber  string `json:"trackingNumber"`
}
