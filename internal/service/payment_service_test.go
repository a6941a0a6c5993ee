package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/model"
	"checkout-service/internal/orderstate"
	"checkout-service/internal/repository"
)

func TestPayment_WalletRedirectConfirmsOrder(t *testing.T) {
	ctx := context.Background()
	registry, err := gateway.NewRegistry(testPayments(), gateway.WithClock(clock))
	require.NoError(t, err)
	h := newHarness(t, registry)
	h.createOrder(t, "ORD-A", "Karachi", 2, 2500)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-A", Method: "wallet-a", Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, model.GatewayJazzCash, session.Gateway)
	assert.Equal(t, model.PaymentPending, session.Status)
	require.NotEmpty(t, session.Payload["pp_SecureHash"])
	require.NotNil(t, session.Fees)

	fields := map[string]string{
		"pp_TxnRefNo":      session.ProviderTransactionID,
		"pp_ResponseCode":  "000",
		"pp_BillReference": "ORD-A",
		"pp_Amount":        "500000",
	}
	fields["pp_SecureHash"] = jazzCashSign(fields, "salt123")

	out, err := h.payments.HandleVerification(ctx, model.GatewayJazzCash, gateway.Callback{Fields: fields})
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, model.PaymentCompleted, out.PaymentStatus)
	assert.Equal(t, model.StatusConfirmed, out.OrderStatus)

	o := h.order(t, "ORD-A")
	assert.Equal(t, model.StatusConfirmed, o.Status)
	assert.Equal(t, model.PaymentCompleted, o.Payment.Status)
	require.NotNil(t, o.Payment.VerificationTimestamp)
	require.NotNil(t, o.PaymentConfirmedAt)
	assert.Equal(t, "wallet-a", o.PaymentMethod)
	assert.Equal(t, model.StatusConfirmed, o.LatestRecord().Status)

	assert.Equal(t, []events.Type{events.PaymentConfirmed}, h.rec.eventTypes())
	assert.Equal(t, []events.NotificationType{events.OrderConfirmation}, h.rec.noteTypes())

	// el mismo callback otra vez no produce efectos
	again, err := h.payments.HandleVerification(ctx, model.GatewayJazzCash, gateway.Callback{Fields: fields})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, model.PaymentCompleted, again.PaymentStatus)
	assert.Len(t, h.rec.eventTypes(), 1)
	assert.Len(t, h.rec.noteTypes(), 1)
}

func TestPayment_TamperedCallbackNeverConfirms(t *testing.T) {
	ctx := context.Background()
	registry, err := gateway.NewRegistry(testPayments(), gateway.WithClock(clock))
	require.NoError(t, err)
	h := newHarness(t, registry)
	h.createOrder(t, "ORD-T", "Lahore", 1, 5000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-T", Method: "JazzCash", Amount: 5000})
	require.NoError(t, err)

	fields := map[string]string{
		"pp_TxnRefNo":     session.ProviderTransactionID,
		"pp_ResponseCode": "124",
	}
	fields["pp_SecureHash"] = jazzCashSign(fields, "salt123")
	fields["pp_ResponseCode"] = "000"

	_, err = h.payments.HandleVerification(ctx, model.GatewayJazzCash, gateway.Callback{Fields: fields})
	assert.ErrorIs(t, err, gateway.ErrSignatureMismatch)
	assert.Equal(t, KindIntegrity, Classify(err))

	o := h.order(t, "ORD-T")
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Equal(t, model.PaymentPending, o.Payment.Status)
	assert.Nil(t, o.Payment.VerificationTimestamp)
	assert.Empty(t, h.rec.eventTypes())
}

func TestPayment_CrossCheckRejectsForeignOrder(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeAdapter{g: model.GatewayStripe}
	h := newHarness(t, newFakeResolver(stripe))
	h.createOrder(t, "ORD-X", "Lahore", 1, 5000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-X", Method: "stripe", Amount: 5000})
	require.NoError(t, err)

	stripe.verified = &gateway.Verification{Accepted: true, ProviderTransactionID: session.ProviderTransactionID, OrderRef: "ORD-OTHER"}
	_, err = h.payments.HandleVerification(ctx, model.GatewayStripe, fakeCallback(session.ProviderTransactionID, "ok"))
	assert.ErrorIs(t, err, gateway.ErrSignatureMismatch)

	stripe.verified = &gateway.Verification{Accepted: true, ProviderTransactionID: session.ProviderTransactionID, Amount: 10}
	_, err = h.payments.HandleVerification(ctx, model.GatewayStripe, fakeCallback(session.ProviderTransactionID, "ok"))
	assert.ErrorIs(t, err, gateway.ErrSignatureMismatch)

	assert.Equal(t, model.StatusPending, h.order(t, "ORD-X").Status)
}

func TestPayment_AmountMustMatchGrandTotal(t *testing.T) {
	h := newHarness(t, newFakeResolver(&fakeAdapter{g: model.GatewayJazzCash}))
	h.createOrder(t, "ORD-M", "Lahore", 1, 5000)

	_, err := h.payments.InitiatePayment(context.Background(), InitiateInput{OrderRef: "ORD-M", Method: "jazzcash", Amount: 4999})
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Nil(t, h.order(t, "ORD-M").Payment)
}

func TestPayment_UnknownMethodAndOrder(t *testing.T) {
	h := newHarness(t, newFakeResolver())

	_, err := h.payments.InitiatePayment(context.Background(), InitiateInput{OrderRef: "ORD-1", Method: "bitcoin", Amount: 100})
	assert.ErrorIs(t, err, gateway.ErrUnsupportedGateway)

	_, err = h.payments.InitiatePayment(context.Background(), InitiateInput{OrderRef: "missing", Method: "cod", Amount: 100})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPayment_ConcurrentInitiateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa, delay: 5 * time.Millisecond}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-C", "Lahore", 1, 5000)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-C", Method: "easypaisa", Amount: 5000})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAttemptAlreadyInProgress)
	}
	assert.Equal(t, 1, ok)

	o := h.order(t, "ORD-C")
	require.NotNil(t, o.Payment)
	assert.Equal(t, model.PaymentPending, o.Payment.Status)
	assert.Empty(t, o.PaymentHistory)
}

func TestPayment_TransientErrorsAreRetried(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa, failTimes: 2}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-R", "Lahore", 1, 5000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-R", Method: "easypaisa", Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, 3, wallet.Calls())
	assert.Equal(t, "easypaisa-ORD-R-3", session.ProviderTransactionID)
}

func TestPayment_ProviderDownLeavesOrderUntouched(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa, failTimes: 100}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-D", "Lahore", 1, 5000)

	_, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-D", Method: "easypaisa", Amount: 5000})
	assert.ErrorIs(t, err, gateway.ErrProviderUnavailable)
	assert.Equal(t, KindTransient, Classify(err))
	assert.Equal(t, 3, wallet.Calls())

	o := h.order(t, "ORD-D")
	assert.Nil(t, o.Payment)
	assert.Equal(t, model.StatusPending, o.Status)
}

func TestPayment_PermanentErrorsAreNotRetried(t *testing.T) {
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa, err: gateway.ErrAmountOutOfRange}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-P", "Lahore", 1, 5000)

	_, err := h.payments.InitiatePayment(context.Background(), InitiateInput{OrderRef: "ORD-P", Method: "easypaisa", Amount: 5000})
	assert.ErrorIs(t, err, gateway.ErrAmountOutOfRange)
	assert.Equal(t, 1, wallet.Calls())
}

func TestPayment_RetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	walletB := &fakeAdapter{g: model.GatewayEasyPaisa}
	walletA := &fakeAdapter{g: model.GatewayJazzCash}
	h := newHarness(t, newFakeResolver(walletA, walletB))
	h.createOrder(t, "ORD-B", "Lahore", 1, 5000)

	first, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-B", Method: "easypaisa", Amount: 5000})
	require.NoError(t, err)

	// reintentar con el intento pendiente no está permitido
	_, err = h.payments.RetryPayment(ctx, "ORD-B", "jazzcash")
	assert.ErrorIs(t, err, ErrRetryNotAllowed)

	out, err := h.payments.HandleVerification(ctx, model.GatewayEasyPaisa, fakeCallback(first.ProviderTransactionID, "fail"))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, out.PaymentStatus)
	assert.Equal(t, model.StatusPaymentFailed, out.OrderStatus)

	o := h.order(t, "ORD-B")
	assert.Equal(t, "declined", o.Payment.FailureReason)

	second, err := h.payments.RetryPayment(ctx, "ORD-B", "jazzcash")
	require.NoError(t, err)
	assert.Equal(t, model.GatewayJazzCash, second.Gateway)
	assert.Equal(t, model.PaymentPending, second.Status)
	assert.NotEqual(t, first.AttemptID, second.AttemptID)

	o = h.order(t, "ORD-B")
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Equal(t, "jazzcash", o.PaymentMethod)
	require.Len(t, o.PaymentHistory, 1)
	assert.Equal(t, model.PaymentFailed, o.PaymentHistory[0].Status)
	assert.Equal(t, first.ProviderTransactionID, o.PaymentHistory[0].ProviderTransactionID)
	assert.Nil(t, o.PaymentHistory[0].RawProviderPayload)

	// un callback tardío del intento archivado es un duplicado
	late, err := h.payments.HandleVerification(ctx, model.GatewayEasyPaisa, fakeCallback(first.ProviderTransactionID, "ok"))
	require.NoError(t, err)
	assert.True(t, late.Duplicate)
	assert.Equal(t, model.PaymentPending, h.order(t, "ORD-B").Payment.Status)

	final, err := h.payments.HandleVerification(ctx, model.GatewayJazzCash, fakeCallback(second.ProviderTransactionID, "ok"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, final.OrderStatus)

	assert.Equal(t, []events.Type{events.PaymentFailed, events.OrderStatusChanged, events.PaymentConfirmed}, h.rec.eventTypes())
}

func TestPayment_RetryFailureKeepsFailedAttempt(t *testing.T) {
	ctx := context.Background()
	walletB := &fakeAdapter{g: model.GatewayEasyPaisa}
	card := &fakeAdapter{g: model.GatewayStripe, err: gateway.ErrAmountOutOfRange}
	h := newHarness(t, newFakeResolver(walletB, card))
	h.createOrder(t, "ORD-F", "Lahore", 1, 5000)

	first, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-F", Method: "easypaisa", Amount: 5000})
	require.NoError(t, err)
	_, err = h.payments.HandleVerification(ctx, model.GatewayEasyPaisa, fakeCallback(first.ProviderTransactionID, "fail"))
	require.NoError(t, err)

	_, err = h.payments.RetryPayment(ctx, "ORD-F", "stripe")
	assert.ErrorIs(t, err, gateway.ErrAmountOutOfRange)

	o := h.order(t, "ORD-F")
	assert.Equal(t, first.AttemptID, o.Payment.AttemptID)
	assert.Equal(t, model.PaymentFailed, o.Payment.Status)
	assert.Equal(t, model.StatusPaymentFailed, o.Status)
}

func TestPayment_CODEligibleConfirmsWithPendingPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newFakeResolver())
	h.createOrder(t, "ORD-COD", "Karachi", 1, 3000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-COD", Method: "cod", Amount: 3000})
	require.NoError(t, err)
	require.NotNil(t, session.COD)
	assert.True(t, session.COD.Available)
	assert.Equal(t, model.StatusConfirmed, session.OrderStatus)

	o := h.order(t, "ORD-COD")
	assert.Equal(t, model.StatusConfirmed, o.Status)
	assert.Equal(t, model.PaymentPending, o.Payment.Status)
	assert.Nil(t, o.Payment.ExpiresAt)
	assert.Equal(t, []events.NotificationType{events.OrderConfirmation}, h.rec.noteTypes())

	// el cobro se completa al entregar
	for _, st := range []model.OrderStatus{model.StatusProcessing, model.StatusShipped, model.StatusOutForDelivery, model.StatusDelivered} {
		_, err := h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-COD", Status: st, ActorID: "admin-1", IsAdmin: true})
		require.NoError(t, err, st)
	}
	o = h.order(t, "ORD-COD")
	assert.Equal(t, model.StatusDelivered, o.Status)
	assert.Equal(t, model.PaymentCompleted, o.Payment.Status)
	assert.NotNil(t, o.Payment.VerificationTimestamp)
}

func TestPayment_CODUnavailable(t *testing.T) {
	h := newHarness(t, newFakeResolver())
	h.createOrder(t, "ORD-Q", "Quetta", 1, 1500)

	session, err := h.payments.InitiatePayment(context.Background(), InitiateInput{OrderRef: "ORD-Q", Method: "cod", Amount: 1500})
	assert.ErrorIs(t, err, gateway.ErrCODUnavailable)
	require.NotNil(t, session)
	assert.False(t, session.COD.Available)
	assert.Equal(t, KindValidation, Classify(err))

	o := h.order(t, "ORD-Q")
	assert.Nil(t, o.Payment)
	assert.Equal(t, model.StatusPending, o.Status)
}

func TestPayment_ExpirePending(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-E", "Lahore", 1, 5000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-E", Method: "easypaisa", Amount: 5000})
	require.NoError(t, err)

	n, err := h.payments.ExpirePending(ctx, baseTime.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.payments.ExpirePending(ctx, baseTime.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o := h.order(t, "ORD-E")
	assert.Equal(t, model.StatusPaymentFailed, o.Status)
	assert.Equal(t, model.PaymentFailed, o.Payment.Status)
	assert.Equal(t, "Expired", o.Payment.FailureReason)

	// el callback posterior a la expiración es un duplicado
	out, err := h.payments.HandleVerification(ctx, model.GatewayEasyPaisa, fakeCallback(session.ProviderTransactionID, "ok"))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, model.PaymentFailed, out.PaymentStatus)
}

func TestPayment_UnhandledEventIsIgnored(t *testing.T) {
	card := &fakeAdapter{g: model.GatewayStripe, unhandled: true}
	h := newHarness(t, newFakeResolver(card))

	out, err := h.payments.HandleVerification(context.Background(), model.GatewayStripe, gateway.Callback{})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestPayment_CallbackForUnknownTransaction(t *testing.T) {
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa}
	h := newHarness(t, newFakeResolver(wallet))

	_, err := h.payments.HandleVerification(context.Background(), model.GatewayEasyPaisa, fakeCallback("nope", "ok"))
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, KindNotFound, Classify(err))
}

func TestPayment_ConcurrentCallbacksConfirmOnce(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-CC", "Lahore", 1, 5000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-CC", Method: "easypaisa", Amount: 5000})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	dups := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.payments.HandleVerification(ctx, model.GatewayEasyPaisa, fakeCallback(session.ProviderTransactionID, "ok"))
			if !assert.NoError(t, err) {
				return
			}
			if out.Duplicate {
				mu.Lock()
				dups++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, dups)
	assert.Equal(t, []events.Type{events.PaymentConfirmed}, h.rec.eventTypes())
}

func TestPayment_GetStatus(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-S", "Lahore", 1, 5000)

	_, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-S", Method: "easypaisa", Amount: 5000})
	require.NoError(t, err)

	v, err := h.payments.GetStatus(ctx, "ORD-S")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, v.OrderStatus)
	assert.Equal(t, model.PaymentPending, v.PaymentStatus)
	assert.Equal(t, model.GatewayEasyPaisa, v.Gateway)
	assert.Equal(t, int64(5000), v.Amount)
	assert.Equal(t, 1, v.Attempts)
	require.NotNil(t, v.ExpiresAt)
}

func TestPayment_PaymentForCancelledOrderDoesNotReopenIt(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa}
	h := newHarness(t, newFakeResolver(wallet))
	h.createOrder(t, "ORD-K", "Lahore", 1, 5000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-K", Method: "easypaisa", Amount: 5000})
	require.NoError(t, err)
	_, err = h.orders.UpdateStatus(ctx, StatusUpdate{OrderRef: "ORD-K", Status: model.StatusCancelled, ActorID: "user-1"})
	require.NoError(t, err)

	out, err := h.payments.HandleVerification(ctx, model.GatewayEasyPaisa, fakeCallback(session.ProviderTransactionID, "ok"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.OrderStatus)

	o := h.order(t, "ORD-K")
	assert.Equal(t, model.StatusCancelled, o.Status)
	assert.Equal(t, model.PaymentCompleted, o.Payment.Status)
}

func TestClassify(t *testing.T) {
	cases := map[error]Kind{
		gateway.ErrSignatureMismatch:        KindIntegrity,
		gateway.ErrProviderUnavailable:      KindTransient,
		gateway.ErrAmountOutOfRange:         KindValidation,
		gateway.ErrUnsupportedGateway:       KindValidation,
		ErrAmountMismatch:                   KindValidation,
		ErrAttemptAlreadyInProgress:         KindConflict,
		orderstate.ErrInvalidTransition:     KindConflict,
		ErrOrderNotFound:                    KindNotFound,
		ErrForbidden:                        KindForbidden,
		errors.New("boom"):                  KindInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, Classify(err), err.Error())
	}
	assert.Equal(t, 409, KindConflict.HTTPStatus())
	assert.Equal(t, 503, KindTransient.HTTPStatus())
}

func TestPayment_ForgedRepeatOfResolvedCallbackIsRejected(t *testing.T) {
	ctx := context.Background()
	registry, err := gateway.NewRegistry(testPayments(), gateway.WithClock(clock))
	require.NoError(t, err)
	h := newHarness(t, registry)
	h.createOrder(t, "ORD-FD", "Lahore", 1, 5000)

	session, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-FD", Method: "jazzcash", Amount: 5000})
	require.NoError(t, err)

	fields := map[string]string{
		"pp_TxnRefNo":      session.ProviderTransactionID,
		"pp_ResponseCode":  "000",
		"pp_BillReference": "ORD-FD",
		"pp_Amount":        "500000",
	}
	fields["pp_SecureHash"] = jazzCashSign(fields, "salt123")
	_, err = h.payments.HandleVerification(ctx, model.GatewayJazzCash, gateway.Callback{Fields: fields})
	require.NoError(t, err)

	forged := map[string]string{
		"pp_TxnRefNo":     session.ProviderTransactionID,
		"pp_ResponseCode": "000",
		"pp_SecureHash":   "deadbeef",
	}
	out, err := h.payments.HandleVerification(ctx, model.GatewayJazzCash, gateway.Callback{Fields: forged})
	assert.ErrorIs(t, err, gateway.ErrSignatureMismatch)
	assert.Nil(t, out)
}

// failingRepo falla la escritura número failOn.
type failingRepo struct {
	*repository.MemoryOrderRepository

	mu      sync.Mutex
	applies int
	failOn  int
}

func (f *failingRepo) Apply(ctx context.Context, c repository.Change) (*model.Order, error) {
	f.mu.Lock()
	f.applies++
	n := f.applies
	f.mu.Unlock()
	if n == f.failOn {
		return nil, errors.New("connection reset by peer")
	}
	return f.MemoryOrderRepository.Apply(ctx, c)
}

func (f *failingRepo) Applies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies
}

func TestPayment_CODInitiationIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	resolver := newFakeResolver()
	h := newHarness(t, resolver)
	h.createOrder(t, "ORD-AN", "Karachi", 1, 3000)

	repo := &failingRepo{MemoryOrderRepository: h.repo, failOn: 1}
	payments := NewPaymentService(repo, resolver, h.rec, h.rec, PaymentOptions{InitialBackoff: time.Millisecond, Now: clock})

	_, err := payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-AN", Method: "cod", Amount: 3000})
	require.Error(t, err)

	o := h.order(t, "ORD-AN")
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Nil(t, o.Payment)
	assert.Empty(t, h.rec.eventTypes())

	// la orden no queda trabada: se puede volver a iniciar
	session, err := payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-AN", Method: "cod", Amount: 3000})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, session.OrderStatus)
	assert.Equal(t, 2, repo.Applies())

	o = h.order(t, "ORD-AN")
	assert.Equal(t, model.StatusConfirmed, o.Status)
	assert.Equal(t, model.GatewayCOD, o.Payment.Gateway)
	assert.Equal(t, model.PaymentPending, o.Payment.Status)
	assert.NotNil(t, o.PaymentConfirmedAt)
	assert.Equal(t, model.StatusConfirmed, o.LatestRecord().Status)
	assert.Equal(t, []events.Type{events.OrderStatusChanged}, h.rec.eventTypes())
}

func TestPayment_RetryWithCODConfirmsInOneWrite(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeAdapter{g: model.GatewayEasyPaisa}
	resolver := newFakeResolver(wallet)
	h := newHarness(t, resolver)
	h.createOrder(t, "ORD-RC", "Karachi", 1, 3000)

	first, err := h.payments.InitiatePayment(ctx, InitiateInput{OrderRef: "ORD-RC", Method: "easypaisa", Amount: 3000})
	require.NoError(t, err)
	_, err = h.payments.HandleVerification(ctx, model.GatewayEasyPaisa, fakeCallback(first.ProviderTransactionID, "fail"))
	require.NoError(t, err)

	repo := &failingRepo{MemoryOrderRepository: h.repo, failOn: 1}
	payments := NewPaymentService(repo, resolver, h.rec, h.rec, PaymentOptions{InitialBackoff: time.Millisecond, Now: clock})

	_, err = payments.RetryPayment(ctx, "ORD-RC", "cod")
	require.Error(t, err)
	o := h.order(t, "ORD-RC")
	assert.Equal(t, model.StatusPaymentFailed, o.Status)
	assert.Equal(t, model.PaymentFailed, o.Payment.Status)
	assert.Empty(t, o.PaymentHistory)

	session, err := payments.RetryPayment(ctx, "ORD-RC", "cod")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, session.OrderStatus)
	assert.Equal(t, 2, repo.Applies())

	o = h.order(t, "ORD-RC")
	assert.Equal(t, model.StatusConfirmed, o.Status)
	assert.Equal(t, model.GatewayCOD, o.Payment.Gateway)
	require.Len(t, o.PaymentHistory, 1)
	assert.Equal(t, first.ProviderTransactionID, o.PaymentHistory[0].ProviderTransactionID)
	assert.Equal(t, model.StatusConfirmed, o.LatestRecord().Status)
	assert.Equal(t, []events.Type{events.PaymentFailed, events.OrderStatusChanged}, h.rec.eventTypes())
}
