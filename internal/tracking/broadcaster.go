// Package tracking difunde el estado de entrega de cada orden a los
// observadores conectados. El estado vive en Mongo; el registro de
// observadores es local al proceso.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"checkout-service/internal/events"
	"checkout-service/internal/metrics"
	"checkout-service/internal/model"
	"checkout-service/internal/orderstate"
	"checkout-service/internal/repository"
)

var (
	ErrInvalidMilestoneOrder = errors.New("el hito no avanza respecto del actual")
	ErrUnknownMilestone      = errors.New("hito desconocido")
	ErrEmptyUpdate           = errors.New("la actualización no trae hito ni ubicación")
	ErrNotAllowedForOrder    = errors.New("el estado de la orden no admite la actualización")
)

// Store es la persistencia del estado de tracking.
type Store interface {
	Get(ctx context.Context, orderRef string) (*model.DeliveryTrackingState, error)
	Apply(ctx context.Context, u repository.TrackingUpdate) (*model.DeliveryTrackingState, error)
	DeleteInactive(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// OrderLookup resuelve el estado de la orden y el destinatario de las notificaciones.
type OrderLookup interface {
	GetByOrderRef(ctx context.Context, orderRef string) (*model.Order, error)
}

type Update struct {
	Milestone       model.Milestone
	Note            string
	Location        string
	DeliveryPartner string
	TrackingNumber  string
	// OrderStatus y Recipient evitan buscar la orden cuando el llamador ya los tiene
	OrderStatus model.OrderStatus
	Recipient   *model.Contact
}

type Options struct {
	Stripes      int
	QueueSize    int
	PingInterval time.Duration
	Now          func() time.Time
}

type stripe struct {
	mu   sync.Mutex
	subs map[string]map[string]*Subscription
}

// orderLock serializa lectura, escritura y reparto de una sola orden.
type orderLock struct {
	mu   sync.Mutex
	refs int
}

type Broadcaster struct {
	store    Store
	orders   OrderLookup
	notifier events.Notifier
	stripes  []*stripe

	locksMu sync.Mutex
	locks   map[string]*orderLock

	queue int
	ping  time.Duration
	now   func() time.Time
	log   *slog.Logger
}

func NewBroadcaster(store Store, orders OrderLookup, notifier events.Notifier, opts Options) *Broadcaster {
	if opts.Stripes <= 0 {
		opts.Stripes = 32
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := &Broadcaster{
		store:    store,
		orders:   orders,
		notifier: notifier,
		stripes:  make([]*stripe, opts.Stripes),
		locks:    make(map[string]*orderLock),
		queue:    opts.QueueSize,
		ping:     opts.PingInterval,
		now:      opts.Now,
		log:      slog.Default().With("component", "tracking"),
	}
	for i := range b.stripes {
		b.stripes[i] = &stripe{subs: make(map[string]map[string]*Subscription)}
	}
	return b
}

func (b *Broadcaster) stripeFor(orderRef string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderRef))
	return b.stripes[h.Sum32()%uint32(len(b.stripes))]
}

// lockOrder toma el lock de la orden y devuelve su liberación. Los locks
// sin usuarios se borran del mapa.
func (b *Broadcaster) lockOrder(orderRef string) func() {
	b.locksMu.Lock()
	l := b.locks[orderRef]
	if l == nil {
		l = &orderLock{}
		b.locks[orderRef] = l
	}
	l.refs++
	b.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, orderRef)
		}
		b.locksMu.Unlock()
	}
}

// load devuelve el estado persistido o el estado por defecto si la orden
// todavía no tiene eventos de tracking.
func (b *Broadcaster) load(ctx context.Context, orderRef string) (*model.DeliveryTrackingState, error) {
	st, err := b.store.Get(ctx, orderRef)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewTrackingState(orderRef), nil
	}
	return st, err
}

// State es la vista autoritativa: siempre sale del store, nunca de los observadores.
func (b *Broadcaster) State(ctx context.Context, orderRef string) (*model.DeliveryTrackingState, error) {
	return b.load(ctx, orderRef)
}

// Subscribe registra al observador y le encola el snapshot antes que cualquier
// actualización. La suscripción termina cuando ctx se cancela, cuando el
// observador falla o con Close.
func (b *Broadcaster) Subscribe(ctx context.Context, orderRef string, obs Observer) (*Subscription, error) {
	unlock := b.lockOrder(orderRef)
	defer unlock()

	st, err := b.load(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(orderRef, obs, b.queue)
	sub.enqueue(Message{
		Type:      MessageSnapshot,
		OrderRef:  orderRef,
		Milestone: st.CurrentMilestone,
		Location:  st.CurrentLocation,
		State:     st,
		Timestamp: b.now().UTC(),
	})

	s := b.stripeFor(orderRef)
	s.mu.Lock()
	if s.subs[orderRef] == nil {
		s.subs[orderRef] = make(map[string]*Subscription)
	}
	s.subs[orderRef][sub.id] = sub
	s.mu.Unlock()
	metrics.TrackingObservers.Inc()

	go func() {
		sub.run(ctx)
		b.remove(sub)
	}()
	return sub, nil
}

func (b *Broadcaster) remove(sub *Subscription) {
	s := b.stripeFor(sub.orderRef)
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[sub.orderRef]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(s.subs, sub.orderRef)
	}
	metrics.TrackingObservers.Dec()
}

// Publish avanza el hito y/o la ubicación, persiste y reparte a los
// observadores de la orden. Un hito que no avanza o que no corresponde al
// estado de la orden se rechaza sin tocar el historial.
func (b *Broadcaster) Publish(ctx context.Context, orderRef string, u Update) (*model.DeliveryTrackingState, error) {
	if u.Milestone == "" && u.Location == "" {
		return nil, ErrEmptyUpdate
	}
	if u.Milestone != "" && !u.Milestone.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMilestone, u.Milestone)
	}
	if err := b.resolveOrder(ctx, orderRef, &u); err != nil {
		return nil, err
	}
	m := u.Milestone
	if m == "" {
		m = model.MilestonePlaced
	}
	if !orderstate.AllowsMilestone(u.OrderStatus, m) {
		return nil, fmt.Errorf("%w: %s con la orden en %s", ErrNotAllowedForOrder, m, u.OrderStatus)
	}

	unlock := b.lockOrder(orderRef)
	st, err := b.apply(ctx, orderRef, u)
	if err != nil {
		unlock()
		return nil, err
	}

	msg := Message{
		Type:            MessageLocationUpdate,
		OrderRef:        orderRef,
		Location:        u.Location,
		DeliveryPartner: st.DeliveryPartner,
		TrackingNumber:  st.TrackingNumber,
		Timestamp:       st.LastActivityAt,
	}
	if u.Milestone != "" {
		msg.Type = MessageStatusUpdate
		msg.Milestone = u.Milestone
		msg.Note = u.Note
		if p, ok := LookupPartner(st.DeliveryPartner); ok {
			msg.TrackingURL = p.TrackingURL
		}
	}
	b.fanOut(orderRef, msg)
	unlock()

	metrics.TrackingPublishesTotal.WithLabelValues(string(msg.Type)).Inc()
	b.log.Info("tracking actualizado", "order_ref", orderRef, "type", msg.Type, "milestone", st.CurrentMilestone)

	if u.Milestone == model.MilestoneShipped || u.Milestone == model.MilestoneDelivered {
		b.notify(orderRef, u, st)
	}
	return st, nil
}

// resolveOrder completa estado y destinatario desde la orden. Una orden
// inexistente devuelve el error del lookup.
func (b *Broadcaster) resolveOrder(ctx context.Context, orderRef string, u *Update) error {
	if u.OrderStatus != "" && u.Recipient != nil {
		return nil
	}
	o, err := b.orders.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return fmt.Errorf("tracking de %s: %w", orderRef, err)
	}
	if u.OrderStatus == "" {
		u.OrderStatus = o.Status
	}
	if u.Recipient == nil {
		c := o.Customer
		u.Recipient = &c
	}
	return nil
}

// apply reintenta si otro proceso movió el hito entre la lectura y la escritura.
func (b *Broadcaster) apply(ctx context.Context, orderRef string, u Update) (*model.DeliveryTrackingState, error) {
	for i := 0; ; i++ {
		cur, err := b.load(ctx, orderRef)
		if err != nil {
			return nil, err
		}

		now := b.now().UTC()
		upd := repository.TrackingUpdate{
			OrderRef:       orderRef,
			Expect:         cur.CurrentMilestone,
			Location:       u.Location,
			Partner:        u.DeliveryPartner,
			TrackingNumber: u.TrackingNumber,
			At:             now,
		}
		if u.Milestone != "" {
			if u.Milestone.Rank() <= cur.CurrentMilestone.Rank() {
				return nil, fmt.Errorf("%w: %s después de %s", ErrInvalidMilestoneOrder, u.Milestone, cur.CurrentMilestone)
			}
			upd.Record = &model.MilestoneRecord{Milestone: u.Milestone, Note: u.Note, Timestamp: now}
		}

		st, err := b.store.Apply(ctx, upd)
		if errors.Is(err, repository.ErrConflict) && i < 2 {
			continue
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMilestoneOrder, u.Milestone)
		}
		return st, err
	}
}

// fanOut se llama con el lock de la orden tomado; el del stripe solo cubre
// el registro de observadores. Un observador con la cola llena se descarta
// sin afectar a los demás.
func (b *Broadcaster) fanOut(orderRef string, msg Message) {
	s := b.stripeFor(orderRef)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs[orderRef] {
		if !sub.enqueue(msg) {
			b.log.Warn("observador lento descartado", "order_ref", orderRef, "observer", sub.id)
			metrics.TrackingPrunedTotal.Inc()
			sub.Close()
		}
	}
}

func (b *Broadcaster) notify(orderRef string, u Update, st *model.DeliveryTrackingState) {
	if b.notifier == nil || u.Recipient == nil {
		return
	}

	t := events.OrderShipped
	if u.Milestone == model.MilestoneDelivered {
		t = events.OrderDelivered
	}
	data := map[string]string{
		"orderRef":  orderRef,
		"milestone": string(u.Milestone),
	}
	if st.TrackingNumber != "" {
		data["trackingNumber"] = st.TrackingNumber
	}
	if p, ok := LookupPartner(st.DeliveryPartner); ok {
		data["deliveryPartner"] = p.Name
		data["trackingUrl"] = p.TrackingURL
	} else if st.DeliveryPartner != "" {
		data["deliveryPartner"] = st.DeliveryPartner
	}

	b.notifier.Notify(events.Notification{
		EventType:    t,
		OrderRef:     orderRef,
		Recipient:    *u.Recipient,
		TemplateData: data,
	})
}

// Run envía un ping periódico a cada observador. Los que no pueden recibirlo
// se descartan individualmente.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.pingAll(now)
		}
	}
}

func (b *Broadcaster) pingAll(now time.Time) {
	for _, s := range b.stripes {
		s.mu.Lock()
		for ref, subs := range s.subs {
			ping := Message{Type: MessagePing, OrderRef: ref, Timestamp: now.UTC()}
			for _, sub := range subs {
				if !sub.alive() || !sub.enqueue(ping) {
					b.log.Info("observador sin respuesta descartado", "order_ref", ref, "observer", sub.id)
					metrics.TrackingPrunedTotal.Inc()
					sub.Close()
				}
			}
		}
		s.mu.Unlock()
	}
}

type Stats struct {
	Observers     int   `json:"observers"`
	WatchedOrders int   `json:"watchedOrders"`
	TrackedOrders int64 `json:"trackedOrders"`
}

func (b *Broadcaster) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, s := range b.stripes {
		s.mu.Lock()
		st.WatchedOrders += len(s.subs)
		for _, subs := range s.subs {
			st.Observers += len(subs)
		}
		s.mu.Unlock()
	}

	n, err := b.store.Count(ctx)
	if err != nil {
		return st, err
	}
	st.TrackedOrders = n
	return st, nil
}

// Cleanup borra estados sin actividad hace más de olderThan.
func (b *Broadcaster) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return b.store.DeleteInactive(ctx, b.now().Add(-olderThan))
}
