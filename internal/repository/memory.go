package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/model"
)

// MemoryOrderRepository aplica las mismas condiciones que la versión Mongo bajo
// un mutex. Se usa en tests.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*model.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*model.Order)}
}

func (m *MemoryOrderRepository) Create(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.OrderRef]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.orders[o.OrderRef] = cloneOrder(o)
	return nil
}

func (m *MemoryOrderRepository) FindByOrderRef(_ context.Context, orderRef string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderRef]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryOrderRepository) FindByProviderTxn(_ context.Context, txnID string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txnID == "" {
		return nil, ErrNotFound
	}
	for _, o := range m.orders {
		if o.Payment != nil && o.Payment.ProviderTransactionID == txnID {
			return cloneOrder(o), nil
		}
		for _, a := range o.PaymentHistory {
			if a.ProviderTransactionID == txnID {
				return cloneOrder(o), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryOrderRepository) Apply(_ context.Context, c Change) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[c.OrderRef]
	if !ok {
		return nil, ErrNotFound
	}
	if !matches(o, c) {
		return nil, ErrConflict
	}

	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	o.UpdatedAt = at
	if c.ToStatus != "" {
		o.Status = c.ToStatus
	}
	if c.Attempt != nil {
		a := *c.Attempt
		o.Payment = &a
	}
	if p := c.Payment; p != nil && o.Payment != nil {
		if p.Status != "" {
			o.Payment.Status = p.Status
		}
		if p.ProviderTransactionID != "" {
			o.Payment.ProviderTransactionID = p.ProviderTransactionID
		}
		if p.VerifiedAt != nil {
			v := *p.VerifiedAt
			o.Payment.VerificationTimestamp = &v
		}
		if p.FailureReason != "" {
			o.Payment.FailureReason = p.FailureReason
		}
		if p.Raw != nil {
			o.Payment.RawProviderPayload = p.Raw
		}
	}
	if c.PaymentMethod != "" {
		o.PaymentMethod = c.PaymentMethod
	}
	if c.PaymentConfirmedAt != nil {
		v := *c.PaymentConfirmedAt
		o.PaymentConfirmedAt = &v
	}
	if c.Record != nil {
		o.History = append(o.History, *c.Record)
	}
	if c.Archive != nil {
		o.PaymentHistory = append(o.PaymentHistory, *c.Archive)
	}
	return cloneOrder(o), nil
}

func matches(o *model.Order, c Change) bool {
	if c.FromStatus != "" && o.Status != c.FromStatus {
		return false
	}
	if c.RequireNoAttempt && o.Payment != nil {
		return false
	}
	if c.AttemptID != "" && (o.Payment == nil || o.Payment.AttemptID != c.AttemptID) {
		return false
	}
	if c.AttemptStatus != "" && (o.Payment == nil || o.Payment.Status != c.AttemptStatus) {
		return false
	}
	return true
}

func (m *MemoryOrderRepository) filter(keep func(*model.Order) bool) []*model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryOrderRepository) FindAll(context.Context) ([]*model.Order, error) {
	return m.filter(func(*model.Order) bool { return true }), nil
}

func (m *MemoryOrderRepository) FindByStatus(_ context.Context, status model.OrderStatus) ([]*model.Order, error) {
	return m.filter(func(o *model.Order) bool { return o.Status == status }), nil
}

func (m *MemoryOrderRepository) FindByUserID(_ context.Context, userID string) ([]*model.Order, error) {
	return m.filter(func(o *model.Order) bool { return o.UserID == userID }), nil
}

func (m *MemoryOrderRepository) FindExpiredAttempts(_ context.Context, now time.Time, limit int64) ([]*model.Order, error) {
	out := m.filter(func(o *model.Order) bool {
		p := o.Payment
		return p != nil && p.Status == model.PaymentPending && p.Gateway != model.GatewayCOD &&
			p.ExpiresAt != nil && !p.ExpiresAt.After(now)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.LineItems = append([]model.LineItem(nil), o.LineItems...)
	c.History = append([]model.StatusRecord{}, o.History...)
	c.PaymentHistory = append([]model.PaymentAttempt(nil), o.PaymentHistory...)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	return &c
}

type MemoryTrackingRepository struct {
	mu     sync.Mutex
	states map[string]*model.DeliveryTrackingState
}

func NewMemoryTrackingRepository() *MemoryTrackingRepository {
	return &MemoryTrackingRepository{states: make(map[string]*model.DeliveryTrackingState)}
}

func (m *MemoryTrackingRepository) Get(_ context.Context, orderRef string) (*model.DeliveryTrackingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[orderRef]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTracking(st), nil
}

func (m *MemoryTrackingRepository) Apply(_ context.Context, u TrackingUpdate) (*model.DeliveryTrackingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	st, ok := m.states[u.OrderRef]
	if !ok {
		if u.Record != nil && u.Expect != model.MilestonePlaced {
			return nil, ErrConflict
		}
		st = model.NewTrackingState(u.OrderRef)
		st.CreatedAt = at
		m.states[u.OrderRef] = st
	}
	if u.Record != nil {
		if st.CurrentMilestone != u.Expect {
			return nil, ErrConflict
		}
		st.CurrentMilestone = u.Record.Milestone
		st.History = append(st.History, *u.Record)
	}
	if u.Location != "" {
		st.CurrentLocation = u.Location
	}
	if u.Partner != "" {
		st.DeliveryPartner = u.Partner
	}
	if u.TrackingNumber != "" {
		st.TrackingNumber = u.TrackingNumber
	}
	st.LastActivityAt = at
	return cloneTracking(st), nil
}

func (m *MemoryTrackingRepository) DeleteInactive(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for ref, st := range m.states {
		if st.LastActivityAt.Before(before) {
			delete(m.states, ref)
			n++
		}
	}
	return n, nil
}

func (m *MemoryTrackingRepository) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.states)), nil
}

func cloneTracking(st *model.DeliveryTrackingState) *model.DeliveryTrackingState {
	c := *st
	c.History = append([]model.MilestoneRecord{}, st.History...)
	return &c
}
