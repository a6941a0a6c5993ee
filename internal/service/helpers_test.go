package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"checkout-service/internal/config"
	"checkout-service/internal/dto"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/model"
	"checkout-service/internal/repository"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return baseTime }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	notes  []events.Notification
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Notify(n events.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) eventTypes() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) noteTypes() []events.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.NotificationType, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.EventType)
	}
	return out
}

// fakeAdapter simula un proveedor: los callbacks traen txn, sig=ok y status=ok|fail.
type fakeAdapter struct {
	g model.Gateway

	mu        sync.Mutex
	calls     int
	failTimes int
	err       error
	delay     time.Duration
	unhandled bool
	verified  *gateway.Verification
}

func (f *fakeAdapter) Gateway() model.Gateway { return f.g }

func (f *fakeAdapter) Initiate(_ context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.failTimes {
		return nil, fmt.Errorf("%w: simulado", gateway.ErrProviderUnavailable)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.InitiateResult{
		Gateway:               f.g,
		ProviderTransactionID: fmt.Sprintf("%s-%s-%d", f.g, req.OrderRef, n),
		RedirectURL:           "https://provider.test/pay",
		Currency:              "PKR",
		ExpiresAt:             baseTime.Add(30 * time.Minute),
		Raw:                   map[string]any{"call": n},
	}, nil
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) CallbackReference(cb gateway.Callback) (string, error) {
	if f.unhandled {
		return "", gateway.ErrUnhandledEvent
	}
	if cb.Field("txn") == "" {
		return "", gateway.ErrMissingField
	}
	return cb.Field("txn"), nil
}

func (f *fakeAdapter) Verify(_ context.Context, cb gateway.Callback) (*gateway.Verification, error) {
	if cb.Field("sig") != "ok" {
		return nil, gateway.ErrSignatureMismatch
	}
	if f.verified != nil {
		v := *f.verified
		return &v, nil
	}
	return &gateway.Verification{
		Accepted:              cb.Field("status") == "ok",
		ProviderTransactionID: cb.Field("txn"),
		Reason:                cb.Field("reason"),
	}, nil
}

func fakeCallback(txn, status string) gateway.Callback {
	return gateway.Callback{Fields: map[string]string{"txn": txn, "sig": "ok", "status": status, "reason": "declined"}}
}

type fakeResolver struct {
	adapters map[model.Gateway]gateway.Adapter
	cod      *gateway.COD
}

func newFakeResolver(adapters ...gateway.Adapter) *fakeResolver {
	cod := gateway.NewCOD(testPayments().COD)
	r := &fakeResolver{adapters: map[model.Gateway]gateway.Adapter{model.GatewayCOD: cod}, cod: cod}
	for _, a := range adapters {
		r.adapters[a.Gateway()] = a
	}
	return r
}

func (r *fakeResolver) Resolve(label string) (gateway.Adapter, error) {
	g, ok := model.ParseGateway(strings.ToLower(label))
	if !ok {
		return nil, gateway.ErrUnsupportedGateway
	}
	return r.Adapter(g)
}

func (r *fakeResolver) Adapter(g model.Gateway) (gateway.Adapter, error) {
	a, ok := r.adapters[g]
	if !ok {
		return nil, gateway.ErrUnsupportedGateway
	}
	return a, nil
}

func (r *fakeResolver) Fees(model.Gateway, int64) (gateway.FeeBreakdown, bool) {
	return gateway.FeeBreakdown{}, false
}

func (r *fakeResolver) COD() *gateway.COD { return r.cod }

func testPayments() config.Payments {
	return config.Payments{
		JazzCash: config.GatewayConfig{
			Enabled: true, Mode: config.ModeSandbox,
			MerchantID: "MC123", Password: "pass", IntegritySalt: "salt123",
			SandboxURL: "https://sandbox.jazzcash.test", Currency: "PKR",
			MinAmount: 100, MaxAmount: 500000, Expiry: 30 * time.Minute,
		},
		COD: config.COD{
			Enabled:               true,
			MaxOrderValue:         50000,
			FreeShippingThreshold: 1000,
			Cities:                config.DefaultCODCities(),
		},
	}
}

type harness struct {
	repo     *repository.MemoryOrderRepository
	orders   *OrderService
	payments *PaymentService
	rec      *recorder
}

func newHarness(t *testing.T, resolver GatewayResolver) *harness {
	t.Helper()
	repo := repository.NewMemoryOrderRepository()
	rec := &recorder{}
	orders := NewOrderService(repo, resolver.COD(), rec)
	orders.now = clock
	payments := NewPaymentService(repo, resolver, rec, rec, PaymentOptions{
		ProviderTimeout: 2 * time.Second,
		MaxTries:        3,
		InitialBackoff:  time.Millisecond,
		Now:             clock,
	})
	return &harness{repo: repo, orders: orders, payments: payments, rec: rec}
}

func (h *harness) createOrder(t *testing.T, ref, city string, qty int, price int64) *model.Order {
	t.Helper()
	o, err := h.orders.CreateOrder(context.Background(), dto.CreateOrderRequest{
		OrderRef: ref,
		UserID:   "user-1",
		Customer: dto.ContactDTO{Name: "Ayesha Khan", Email: "ayesha@example.com", Phone: "03001234567"},
		Items:    []dto.LineItemDTO{{ProductRef: "almonds-500g", Name: "Almonds 500g", Quantity: qty, UnitPrice: price}},
		Shipping: dto.ShippingDTO{Address: "House 12, Street 4", City: city},
	})
	require.NoError(t, err)
	return o
}

func (h *harness) order(t *testing.T, ref string) *model.Order {
	t.Helper()
	o, err := h.repo.FindByOrderRef(context.Background(), ref)
	require.NoError(t, err)
	return o
}

// jazzCashSign replica el hash de JazzCash: sha256(k=v&... + salt).
func jazzCashSign(fields map[string]string, salt string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "pp_SecureHash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "&") + salt))
	return hex.EncodeToString(sum[:])
}
