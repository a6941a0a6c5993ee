package model

import "time"

type Milestone string

const (
	MilestonePlaced           Milestone = "placed"
	MilestonePaymentConfirmed Milestone = "payment-confirmed"
	MilestoneConfirmed        Milestone = "confirmed"
	MilestoneShipped          Milestone = "shipped"
	MilestoneOutForDelivery   Milestone = "out-for-delivery"
	MilestoneDelivered        Milestone = "delivered"
)

var milestoneOrder = []Milestone{
	MilestonePlaced,
	MilestonePaymentConfirmed,
	MilestoneConfirmed,
	MilestoneShipped,
	MilestoneOutForDelivery,
	MilestoneDelivered,
}

// Rank devuelve la posición del hito en la secuencia, -1 si no existe.
func (m Milestone) Rank() int {
	for i, v := range milestoneOrder {
		if v == m {
			return i
		}
	}
	return -1
}

func (m Milestone) Valid() bool {
	return m.Rank() >= 0
}

type DeliveryTrackingState struct {
	OrderRef         string            `bson:"order_ref" json:"orderRef"`
	CurrentMilestone Milestone         `bson:"current_milestone" json:"currentMilestone"`
	CurrentLocation  string            `bson:"current_location,omitempty" json:"currentLocation,omitempty"`
	DeliveryPartner  string            `bson:"delivery_partner,omitempty" json:"deliveryPartner,omitempty"`
	TrackingNumber   string            `bson:"tracking_number,omitempty" json:"trackingNumber,omitempty"`
	History          []MilestoneRecord `bson:"history" json:"history"`
	LastActivityAt   time.Time         `bson:"last_activity_at" json:"lastActivityAt"`
	CreatedAt        time.Time         `bson:"created_at" json:"createdAt"`
}

type MilestoneRecord struct {
	Milestone Milestone `bson:"milestone" json:"milestone"`
	Note      string    `bson:"note,omitempty" json:"note,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// NewTrackingState es el estado por defecto antes del primer evento.
func NewTrackingState(orderRef string) *DeliveryTrackingState {
	return &DeliveryTrackingState{
		OrderRef:         orderRef,
		CurrentMilestone: MilestonePlaced,
		History:          []MilestoneRecord{},
	}
}
