// Package orderstate contiene las reglas de transición del estado de una orden.
// No tiene dependencias de almacenamiento: los repositorios aplican la transición
// de forma condicional y este paquete decide si es válida.
package orderstate

import (
	"errors"
	"fmt"
	"slices"

	"checkout-service/internal/model"
)

var (
	ErrInvalidTransition = errors.New("transición de estado inválida")
	ErrUnknownState      = errors.New("estado desconocido")
)

// Transiciones permitidas
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.StatusPending:        {model.StatusConfirmed, model.StatusPaymentFailed, model.StatusCancelled},
	// payment-failed -> confirmed solo por reintento contra reembolso
	model.StatusPaymentFailed:  {model.StatusPending, model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed:      {model.StatusProcessing, model.StatusCancelled},
	model.StatusProcessing:     {model.StatusShipped, model.StatusCancelled},
	model.StatusShipped:        {model.StatusOutForDelivery, model.StatusCancelled},
	model.StatusOutForDelivery: {model.StatusDelivered, model.StatusCancelled},
}

// Estados finales
var finalStates = map[model.OrderStatus]bool{
	model.StatusDelivered: true,
	model.StatusCancelled: true,
}

func IsKnown(s model.OrderStatus) bool {
	_, ok := transitions[s]
	return ok || finalStates[s]
}

func IsTerminal(s model.OrderStatus) bool {
	return finalStates[s]
}

// CanTransition indica si from -> to es una arista del grafo.
func CanTransition(from, to model.OrderStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Validate devuelve ErrInvalidTransition (envuelto) si la transición no está permitida.
// Un estado final nunca acepta otra transición, ni siquiera hacia sí mismo.
func Validate(from, to model.OrderStatus) error {
	if !IsKnown(to) {
		return fmt.Errorf("%w: %q", ErrUnknownState, to)
	}
	if IsTerminal(from) {
		return fmt.Errorf("%w: %s es final", ErrInvalidTransition, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ForPaymentOutcome traduce el estado terminal de un intento al estado de la orden.
func ForPaymentOutcome(status model.PaymentStatus) (model.OrderStatus, error) {
	switch status {
	case model.PaymentCompleted:
		return model.StatusConfirmed, nil
	case model.PaymentFailed:
		return model.StatusPaymentFailed, nil
	default:
		return "", fmt.Errorf("%w: el intento %s no es terminal", ErrInvalidTransition, status)
	}
}

// ValidatePayment aplica las reglas de verificación de pago:
// pending -> confirmed exige intento completed (o COD elegible, que se cobra en la entrega)
// pending -> payment-failed exige intento failed.
func ValidatePayment(from, to model.OrderStatus, attempt model.PaymentAttempt) error {
	if err := Validate(from, to); err != nil {
		return err
	}
	switch to {
	case model.StatusConfirmed:
		if from == model.StatusPaymentFailed && attempt.Gateway != model.GatewayCOD {
			return fmt.Errorf("%w: desde payment-failed solo se confirma contra reembolso", ErrInvalidTransition)
		}
		if attempt.Status == model.PaymentCompleted {
			return nil
		}
		if attempt.Gateway == model.GatewayCOD && attempt.Status == model.PaymentPending {
			return nil
		}
		return fmt.Errorf("%w: confirmar requiere pago completado (actual %s)", ErrInvalidTransition, attempt.Status)
	case model.StatusPaymentFailed:
		if attempt.Status != model.PaymentFailed {
			return fmt.Errorf("%w: payment-failed requiere pago fallido (actual %s)", ErrInvalidTransition, attempt.Status)
		}
		return nil
	case model.StatusPending:
		// reintento: el intento nuevo arranca pendiente
		if attempt.Status != model.PaymentPending {
			return fmt.Errorf("%w: el reintento debe arrancar pendiente", ErrInvalidTransition)
		}
		return nil
	}
	return nil
}

// progress ordena el camino feliz; payment-failed no avanza y cancelled no figura.
var progress = map[model.OrderStatus]int{
	model.StatusPending:        0,
	model.StatusPaymentFailed:  0,
	model.StatusConfirmed:      1,
	model.StatusProcessing:     2,
	model.StatusShipped:        3,
	model.StatusOutForDelivery: 4,
	model.StatusDelivered:      5,
}

// Estado mínimo de la orden que habilita cada hito de tracking
var milestoneStatus = map[model.Milestone]model.OrderStatus{
	model.MilestonePlaced:           model.StatusPending,
	model.MilestonePaymentConfirmed: model.StatusConfirmed,
	model.MilestoneConfirmed:        model.StatusProcessing,
	model.MilestoneShipped:          model.StatusShipped,
	model.MilestoneOutForDelivery:   model.StatusOutForDelivery,
	model.MilestoneDelivered:        model.StatusDelivered,
}

// AllowsMilestone indica si una orden en estado s puede mostrar el hito m.
// Una orden cancelada no admite ninguno.
func AllowsMilestone(s model.OrderStatus, m model.Milestone) bool {
	need, ok := milestoneStatus[m]
	if !ok {
		return false
	}
	cur, ok := progress[s]
	return ok && cur >= progress[need]
}

// StatusForMilestone devuelve el estado manual que corresponde al hito.
// placed y payment-confirmed salen del flujo de pago.
func StatusForMilestone(m model.Milestone) (model.OrderStatus, bool) {
	if m == model.MilestonePlaced || m == model.MilestonePaymentConfirmed {
		return "", false
	}
	s, ok := milestoneStatus[m]
	return s, ok
}
