package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"checkout-service/internal/model"
)

type MessageType string

const (
	MessageSnapshot       MessageType = "snapshot"
	MessageStatusUpdate   MessageType = "status-update"
	MessageLocationUpdate MessageType = "location-update"
	MessagePing           MessageType = "ping"
)

type Message struct {
	Type            MessageType                  `json:"type"`
	OrderRef        string                       `json:"orderRef"`
	Milestone       model.Milestone              `json:"milestone,omitempty"`
	Note            string                       `json:"note,omitempty"`
	Location        string                       `json:"location,omitempty"`
	DeliveryPartner string                       `json:"deliveryPartner,omitempty"`
	TrackingNumber  string                       `json:"trackingNumber,omitempty"`
	TrackingURL     string                       `json:"trackingUrl,omitempty"`
	State           *model.DeliveryTrackingState `json:"state,omitempty"`
	Timestamp       time.Time                    `json:"timestamp"`
}

// Observer recibe los mensajes de una orden. Send puede bloquear: cada
// observador tiene su propia cola y goroutine de escritura.
type Observer interface {
	Send(ctx context.Context, m Message) error
}

type Subscription struct {
	id       string
	orderRef string
	observer Observer
	queue    chan Message

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// en vuelo: un Send que no terminó desde el último ping
	sending atomic.Bool
	stalled atomic.Bool
}

func newSubscription(orderRef string, obs Observer, size int) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		orderRef: orderRef,
		observer: obs,
		queue:    make(chan Message, size),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Done se cierra cuando la goroutine de escritura terminó.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// enqueue no bloquea; false si la cola está llena o la suscripción cerrada.
func (s *Subscription) enqueue(m Message) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.queue <- m:
		return true
	default:
		return false
	}
}

// alive es falso si un Send quedó colgado durante dos pings seguidos.
func (s *Subscription) alive() bool {
	if !s.sending.Load() {
		s.stalled.Store(false)
		return true
	}
	return !s.stalled.Swap(true)
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case m := <-s.queue:
			s.sending.Store(true)
			err := s.observer.Send(ctx, m)
			s.sending.Store(false)
			if err != nil {
				return
			}
		}
	}
}
