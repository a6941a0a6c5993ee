// models.go
package model

import "time"

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPaymentFailed  OrderStatus = "payment-failed"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusOutForDelivery OrderStatus = "out-for-delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentCompleted || p == PaymentFailed
}

type Order struct {
	OrderRef  string     `bson:"order_ref" json:"orderRef"`
	UserID    string     `bson:"user_id,omitempty" json:"userId,omitempty"`
	Customer  Contact    `bson:"customer" json:"customer"`
	LineItems []LineItem `bson:"line_items" json:"lineItems"`
	Shipping  Shipping   `bson:"shipping" json:"shipping"`

	ItemsTotal     int64 `bson:"items_total" json:"itemsTotal"`
	DeliveryCharge int64 `bson:"delivery_charge" json:"deliveryCharge"`
	GrandTotal     int64 `bson:"grand_total" json:"grandTotal"`

	// Etiqueta elegida en el checkout; queda fija al confirmar el pago
	PaymentMethod      string     `bson:"payment_method" json:"paymentMethod"`
	PaymentConfirmedAt *time.Time `bson:"payment_confirmed_at,omitempty" json:"paymentConfirmedAt,omitempty"`

	Status         OrderStatus      `bson:"status" json:"status"`
	Payment        *PaymentAttempt  `bson:"payment,omitempty" json:"payment,omitempty"`
	PaymentHistory []PaymentAttempt `bson:"payment_history,omitempty" json:"paymentHistory,omitempty"`
	History        []StatusRecord   `bson:"history" json:"history"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// LatestRecord devuelve el último registro del historial.
func (o *Order) LatestRecord() *StatusRecord {
	if len(o.History) == 0 {
		return nil
	}
	return &o.History[len(o.History)-1]
}

type LineItem struct {
	ProductRef string `bson:"product_ref" json:"productRef"`
	Name       string `bson:"name" json:"name"`
	Quantity   int    `bson:"quantity" json:"quantity"`
	UnitPrice  int64  `bson:"unit_price" json:"unitPrice"` // snapshot al crear la orden
}

type Contact struct {
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
	Phone string `bson:"phone" json:"phone"`
}

type Shipping struct {
	Name       string `bson:"name" json:"name"`
	Phone      string `bson:"phone" json:"phone"`
	Address    string `bson:"address" json:"address"`
	City       string `bson:"city" json:"city"`
	Province   string `bson:"province,omitempty" json:"province,omitempty"`
	PostalCode string `bson:"postal_code,omitempty" json:"postalCode,omitempty"`
	Country    string `bson:"country" json:"country"`
}

type StatusRecord struct {
	Status    OrderStatus `bson:"status" json:"status"`
	Reason    string      `bson:"reason" json:"reason"`
	UserID    string      `bson:"user" json:"userId"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
}

type PaymentAttempt struct {
	AttemptID             string         `bson:"attempt_id" json:"attemptId"`
	Gateway               Gateway        `bson:"gateway" json:"gateway"`
	Method                string         `bson:"method" json:"method"`
	Status                PaymentStatus  `bson:"status" json:"status"`
	ProviderTransactionID string         `bson:"provider_transaction_id,omitempty" json:"providerTransactionId,omitempty"`
	Amount                int64          `bson:"amount" json:"amount"`
	Currency              string         `bson:"currency" json:"currency"`
	ExpiresAt             *time.Time     `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	VerificationTimestamp *time.Time     `bson:"verification_timestamp,omitempty" json:"verificationTimestamp,omitempty"`
	FailureReason         string         `bson:"failure_reason,omitempty" json:"failureReason,omitempty"`
	RawProviderPayload    map[string]any `bson:"raw_provider_payload,omitempty" json:"-"`
	CreatedAt             time.Time      `bson:"created_at" json:"createdAt"`
}
