package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/metrics"
	"checkout-service/internal/model"
	"checkout-service/internal/orderstate"
	"checkout-service/internal/repository"
)

// Interfaz que debe implementar repository
type OrderRepository interface {
	Create(ctx context.Context, o *model.Order) error
	FindByOrderRef(ctx context.Context, orderRef string) (*model.Order, error)
	FindByProviderTxn(ctx context.Context, txnID string) (*model.Order, error)
	Apply(ctx context.Context, c repository.Change) (*model.Order, error)
	FindAll(ctx context.Context) ([]*model.Order, error)
	FindByStatus(ctx context.Context, status model.OrderStatus) ([]*model.Order, error)
	FindByUserID(ctx context.Context, userID string) ([]*model.Order, error)
	FindExpiredAttempts(ctx context.Context, now time.Time, limit int64) ([]*model.Order, error)
}

// GatewayResolver es lo que el orquestador necesita del registry.
type GatewayResolver interface {
	Resolve(label string) (gateway.Adapter, error)
	Adapter(g model.Gateway) (gateway.Adapter, error)
	Fees(g model.Gateway, amount int64) (gateway.FeeBreakdown, bool)
	COD() *gateway.COD
}

type PaymentOptions struct {
	ProviderTimeout time.Duration
	MaxTries        uint
	InitialBackoff  time.Duration
	Now             func() time.Time
}

type PaymentService struct {
	repo     OrderRepository
	gateways GatewayResolver
	events   events.Publisher
	notifier events.Notifier
	log      *slog.Logger

	timeout        time.Duration
	maxTries       uint
	initialBackoff time.Duration
	now            func() time.Time
}

func NewPaymentService(repo OrderRepository, gateways GatewayResolver, pub events.Publisher, notifier events.Notifier, opts PaymentOptions) *PaymentService {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 20 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PaymentService{
		repo:           repo,
		gateways:       gateways,
		events:         pub,
		notifier:       notifier,
		log:            slog.Default().With("component", "payments"),
		timeout:        opts.ProviderTimeout,
		maxTries:       opts.MaxTries,
		initialBackoff: opts.InitialBackoff,
		now:            opts.Now,
	}
}

type InitiateInput struct {
	OrderRef string
	Method   string
	Amount   int64
	Contact  *model.Contact // opcional, si no se usa el de la orden
}

// PaymentSession es lo que el cliente necesita para completar el pago.
type PaymentSession struct {
	OrderRef              string                `json:"orderRef"`
	AttemptID             string                `json:"attemptId,omitempty"`
	Gateway               model.Gateway         `json:"gateway"`
	Method                string                `json:"method"`
	Status                model.PaymentStatus   `json:"paymentStatus,omitempty"`
	OrderStatus           model.OrderStatus     `json:"orderStatus,omitempty"`
	Amount                int64                 `json:"amount"`
	Currency              string                `json:"currency"`
	ExpiresAt             *time.Time            `json:"expiresAt,omitempty"`
	ProviderTransactionID string                `json:"providerTransactionId,omitempty"`
	RedirectURL           string                `json:"redirectUrl,omitempty"`
	ClientSecret          string                `json:"clientSecret,omitempty"`
	ApprovalURL           string                `json:"approvalUrl,omitempty"`
	Payload               map[string]string     `json:"payload,omitempty"`
	COD                   *gateway.CODQuote     `json:"cod,omitempty"`
	Fees                  *gateway.FeeBreakdown `json:"fees,omitempty"`
}

// Outcome es el resultado definitivo de procesar un callback.
type Outcome struct {
	OrderRef              string              `json:"orderRef,omitempty"`
	Gateway               model.Gateway       `json:"gateway"`
	PaymentStatus         model.PaymentStatus `json:"paymentStatus,omitempty"`
	OrderStatus           model.OrderStatus   `json:"orderStatus,omitempty"`
	ProviderTransactionID string              `json:"providerTransactionId,omitempty"`
	Reason                string              `json:"reason,omitempty"`
	Duplicate             bool                `json:"duplicate,omitempty"`
	Ignored               bool                `json:"ignored,omitempty"`
}

type PaymentStatusView struct {
	OrderRef              string              `json:"orderRef"`
	OrderStatus           model.OrderStatus   `json:"orderStatus"`
	PaymentStatus         model.PaymentStatus `json:"paymentStatus,omitempty"`
	Gateway               model.Gateway       `json:"gateway,omitempty"`
	Method                string              `json:"paymentMethod,omitempty"`
	Amount                int64               `json:"amount"`
	ProviderTransactionID string              `json:"providerTransactionId,omitempty"`
	FailureReason         string              `json:"failureReason,omitempty"`
	ExpiresAt             *time.Time          `json:"expiresAt,omitempty"`
	PaymentConfirmedAt    *time.Time          `json:"paymentConfirmedAt,omitempty"`
	Attempts              int                 `json:"attempts"`
}

func (s *PaymentService) findOrder(ctx context.Context, orderRef string) (*model.Order, error) {
	o, err := s.repo.FindByOrderRef(ctx, orderRef)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderRef)
	}
	return o, err
}

// InitiatePayment abre el único intento pendiente de la orden. La llamada al
// proveedor se hace sin lock; la exclusión la da la escritura condicional.
func (s *PaymentService) InitiatePayment(ctx context.Context, in InitiateInput) (*PaymentSession, error) {
	adapter, err := s.gateways.Resolve(in.Method)
	if err != nil {
		return nil, err
	}

	order, err := s.findOrder(ctx, in.OrderRef)
	if err != nil {
		return nil, err
	}
	if order.Payment != nil && order.Payment.Status == model.PaymentPending {
		return nil, ErrAttemptAlreadyInProgress
	}
	if order.Status != model.StatusPending || order.Payment != nil {
		return nil, fmt.Errorf("%w: la orden %s está en %s", orderstate.ErrInvalidTransition, order.OrderRef, order.Status)
	}
	if in.Amount != order.GrandTotal {
		return nil, fmt.Errorf("%w: recibido %d, total %d", ErrAmountMismatch, in.Amount, order.GrandTotal)
	}

	contact := order.Customer
	if in.Contact != nil {
		contact = *in.Contact
	}

	attemptID := uuid.NewString()
	res, err := s.callProvider(ctx, adapter, gateway.InitiateRequest{
		OrderRef:       order.OrderRef,
		Amount:         order.GrandTotal,
		Contact:        contact,
		City:           order.Shipping.City,
		IdempotencyKey: attemptID,
	})
	if err != nil {
		return s.failedSession(order, in.Method, adapter.Gateway(), res), err
	}

	attempt := s.newAttempt(attemptID, adapter.Gateway(), in.Method, order.GrandTotal, res)
	change := repository.Change{
		OrderRef:         order.OrderRef,
		FromStatus:       model.StatusPending,
		RequireNoAttempt: true,
		Attempt:          attempt,
		PaymentMethod:    in.Method,
		At:               s.now().UTC(),
	}
	cod := attempt.Gateway == model.GatewayCOD
	if cod {
		if err := confirmCOD(&change, order, *attempt); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.Apply(ctx, change)
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrAttemptAlreadyInProgress
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("intento de pago iniciado",
		"order_ref", order.OrderRef, "gateway", attempt.Gateway, "attempt_id", attempt.AttemptID,
		"provider_txn", attempt.ProviderTransactionID)

	if cod {
		s.announceCOD(ctx, updated)
	}
	return s.session(updated, res), nil
}

// RetryPayment reemplaza un intento fallido por uno nuevo, posiblemente en otro gateway.
func (s *PaymentService) RetryPayment(ctx context.Context, orderRef, method string) (*PaymentSession, error) {
	adapter, err := s.gateways.Resolve(method)
	if err != nil {
		return nil, err
	}

	order, err := s.findOrder(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	old := order.Payment
	if old == nil || old.Status != model.PaymentFailed {
		return nil, ErrRetryNotAllowed
	}
	if err := orderstate.Validate(order.Status, model.StatusPending); err != nil {
		return nil, err
	}

	attemptID := uuid.NewString()
	res, err := s.callProvider(ctx, adapter, gateway.InitiateRequest{
		OrderRef:       order.OrderRef,
		Amount:         order.GrandTotal,
		Contact:        order.Customer,
		City:           order.Shipping.City,
		IdempotencyKey: attemptID,
	})
	if err != nil {
		return s.failedSession(order, method, adapter.Gateway(), res), err
	}

	// el intento archivado conserva la referencia del proveedor para
	// reconocer callbacks tardíos, pero no el payload
	archived := *old
	archived.RawProviderPayload = nil

	attempt := s.newAttempt(attemptID, adapter.Gateway(), method, order.GrandTotal, res)

	now := s.now().UTC()
	change := repository.Change{
		OrderRef:      order.OrderRef,
		FromStatus:    model.StatusPaymentFailed,
		AttemptID:     old.AttemptID,
		AttemptStatus: model.PaymentFailed,
		ToStatus:      model.StatusPending,
		Attempt:       attempt,
		Archive:       &archived,
		PaymentMethod: method,
		Record: &model.StatusRecord{
			Status:    model.StatusPending,
			Reason:    "Reintento de pago con " + method,
			UserID:    order.UserID,
			Timestamp: now,
		},
		At: now,
	}
	// contra reembolso el reintento confirma en la misma escritura
	cod := attempt.Gateway == model.GatewayCOD
	if cod {
		if err := confirmCOD(&change, order, *attempt); err != nil {
			return nil, err
		}
	} else if err := orderstate.ValidatePayment(order.Status, model.StatusPending, *attempt); err != nil {
		return nil, err
	}

	updated, err := s.repo.Apply(ctx, change)
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrAttemptAlreadyInProgress
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("reintento de pago",
		"order_ref", order.OrderRef, "from_gateway", old.Gateway, "to_gateway", attempt.Gateway,
		"attempt_id", attempt.AttemptID)

	if cod {
		s.announceCOD(ctx, updated)
	} else {
		s.publish(ctx, events.New(events.OrderStatusChanged, updated))
	}
	return s.session(updated, res), nil
}

// HandleVerification procesa un callback del proveedor. Siempre devuelve un
// resultado definitivo: confirmado, fallido, duplicado o ignorado.
func (s *PaymentService) HandleVerification(ctx context.Context, g model.Gateway, cb gateway.Callback) (*Outcome, error) {
	adapter, err := s.gateways.Adapter(g)
	if err != nil {
		return nil, err
	}

	ref, err := adapter.CallbackReference(cb)
	if errors.Is(err, gateway.ErrUnhandledEvent) {
		metrics.CallbacksTotal.WithLabelValues(string(g), "ignored").Inc()
		s.log.Info("evento del proveedor ignorado", "gateway", g, "error", err)
		return &Outcome{Gateway: g, Ignored: true}, nil
	}
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(string(g), "invalid").Inc()
		return nil, err
	}

	order, err := s.repo.FindByProviderTxn(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.CallbacksTotal.WithLabelValues(string(g), "unknown").Inc()
		return nil, fmt.Errorf("%w: transacción %s", ErrOrderNotFound, ref)
	}
	if err != nil {
		return nil, err
	}

	// con firma se verifica antes de contestar un duplicado; en PayPal verificar
	// es capturar, así que un duplicado se contesta sin volver al proveedor
	signed := g != model.GatewayPayPal
	var v *gateway.Verification
	if signed {
		if v, err = adapter.Verify(ctx, cb); err != nil {
			return s.rejectVerification(order, g, ref, err)
		}
	}
	if dup := s.duplicateOutcome(order, g, ref); dup != nil {
		return dup, nil
	}
	attempt := *order.Payment

	if !signed {
		if v, err = adapter.Verify(ctx, cb); err != nil {
			return s.rejectVerification(order, g, ref, err)
		}
	}
	if err := crossCheck(order, &attempt, ref, v); err != nil {
		return s.rejectVerification(order, g, ref, err)
	}

	status := model.PaymentFailed
	reason := v.Reason
	if v.Accepted {
		status = model.PaymentCompleted
		reason = ""
	}

	updated, err := s.resolveAttempt(ctx, order, attempt, status, reason, v.Raw)
	if errors.Is(err, repository.ErrConflict) {
		// otro callback ganó la carrera
		fresh, ferr := s.repo.FindByProviderTxn(ctx, ref)
		if ferr == nil {
			if dup := s.duplicateOutcome(fresh, g, ref); dup != nil {
				return dup, nil
			}
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	metrics.CallbacksTotal.WithLabelValues(string(g), string(status)).Inc()
	return &Outcome{
		OrderRef:              updated.OrderRef,
		Gateway:               g,
		PaymentStatus:         status,
		OrderStatus:           updated.Status,
		ProviderTransactionID: ref,
		Reason:                reason,
	}, nil
}

// rejectVerification contesta un Verify fallido: los eventos no procesables se
// ignoran y los fallos de integridad quedan auditados.
func (s *PaymentService) rejectVerification(order *model.Order, g model.Gateway, ref string, err error) (*Outcome, error) {
	if errors.Is(err, gateway.ErrUnhandledEvent) {
		metrics.CallbacksTotal.WithLabelValues(string(g), "ignored").Inc()
		return &Outcome{OrderRef: order.OrderRef, Gateway: g, Ignored: true}, nil
	}
	if errors.Is(err, gateway.ErrSignatureMismatch) {
		metrics.SignatureMismatchTotal.WithLabelValues(string(g)).Inc()
		metrics.CallbacksTotal.WithLabelValues(string(g), "rejected").Inc()
		attemptID := ""
		if order.Payment != nil {
			attemptID = order.Payment.AttemptID
		}
		s.log.Warn("callback rechazado por integridad",
			"audit", true, "gateway", g, "order_ref", order.OrderRef,
			"attempt_id", attemptID, "provider_txn", ref, "error", err)
	}
	return nil, err
}

// duplicateOutcome devuelve un resultado si el callback apunta a un intento
// archivado o ya resuelto.
func (s *PaymentService) duplicateOutcome(order *model.Order, g model.Gateway, ref string) *Outcome {
	cur := order.Payment
	if cur != nil && cur.ProviderTransactionID == ref && !cur.Status.IsTerminal() {
		return nil
	}

	out := &Outcome{
		OrderRef:              order.OrderRef,
		Gateway:               g,
		OrderStatus:           order.Status,
		ProviderTransactionID: ref,
		Duplicate:             true,
	}
	if cur != nil && cur.ProviderTransactionID == ref {
		out.PaymentStatus = cur.Status
		out.Reason = cur.FailureReason
	} else {
		for _, a := range order.PaymentHistory {
			if a.ProviderTransactionID == ref {
				out.PaymentStatus = a.Status
				out.Reason = a.FailureReason
			}
		}
	}

	metrics.CallbacksTotal.WithLabelValues(string(g), "duplicate").Inc()
	s.log.Info("DuplicateCallback", "gateway", g, "order_ref", order.OrderRef, "provider_txn", ref, "payment_status", out.PaymentStatus)
	return out
}

// crossCheck compara lo que informa el proveedor con el intento guardado.
func crossCheck(order *model.Order, attempt *model.PaymentAttempt, ref string, v *gateway.Verification) error {
	if v.ProviderTransactionID != "" && v.ProviderTransactionID != ref {
		return fmt.Errorf("%w: transacción %s distinta de %s", gateway.ErrSignatureMismatch, v.ProviderTransactionID, ref)
	}
	if v.OrderRef != "" && v.OrderRef != order.OrderRef {
		return fmt.Errorf("%w: orden %s distinta de %s", gateway.ErrSignatureMismatch, v.OrderRef, order.OrderRef)
	}
	if v.Amount != 0 && v.Amount != attempt.Amount {
		return fmt.Errorf("%w: monto %d distinto de %d", gateway.ErrSignatureMismatch, v.Amount, attempt.Amount)
	}
	return nil
}

// resolveAttempt lleva el intento pendiente a completed/failed y la orden al
// estado correspondiente, con una sola escritura condicional.
func (s *PaymentService) resolveAttempt(ctx context.Context, order *model.Order, attempt model.PaymentAttempt, status model.PaymentStatus, reason string, raw map[string]any) (*model.Order, error) {
	now := s.now().UTC()
	patch := &repository.PaymentPatch{Status: status, VerifiedAt: &now, FailureReason: reason, Raw: raw}

	to, err := orderstate.ForPaymentOutcome(status)
	if err != nil {
		return nil, err
	}
	resolved := attempt
	resolved.Status = status

	if err := orderstate.ValidatePayment(order.Status, to, resolved); err != nil {
		// la orden ya no espera este pago (p. ej. cancelada): se registra el
		// resultado del intento sin mover la orden
		s.log.Warn("resultado de pago para una orden que no está pendiente",
			"order_ref", order.OrderRef, "order_status", order.Status, "payment_status", status)
		return s.repo.Apply(ctx, repository.Change{
			OrderRef:      order.OrderRef,
			AttemptID:     attempt.AttemptID,
			AttemptStatus: model.PaymentPending,
			Payment:       patch,
			At:            now,
		})
	}

	change := repository.Change{
		OrderRef:      order.OrderRef,
		FromStatus:    model.StatusPending,
		AttemptID:     attempt.AttemptID,
		AttemptStatus: model.PaymentPending,
		ToStatus:      to,
		Payment:       patch,
		Record: &model.StatusRecord{
			Status:    to,
			Reason:    paymentReason(attempt.Gateway, status, reason),
			UserID:    order.UserID,
			Timestamp: now,
		},
		At: now,
	}
	if status == model.PaymentCompleted {
		change.PaymentConfirmedAt = &now
	}

	updated, err := s.repo.Apply(ctx, change)
	if err != nil {
		return nil, err
	}

	s.log.Info("pago resuelto",
		"order_ref", updated.OrderRef, "gateway", attempt.Gateway, "attempt_id", attempt.AttemptID,
		"payment_status", status, "order_status", updated.Status)

	if status == model.PaymentCompleted {
		s.publish(ctx, events.New(events.PaymentConfirmed, updated))
		s.notify(events.OrderConfirmation, updated)
	} else {
		e := events.New(events.PaymentFailed, updated)
		e.Reason = reason
		s.publish(ctx, e)
		s.notify(events.PaymentFailure, updated)
	}
	return updated, nil
}

func paymentReason(g model.Gateway, status model.PaymentStatus, reason string) string {
	if status == model.PaymentCompleted {
		return "Pago verificado por " + string(g)
	}
	if reason == "" {
		return "Pago rechazado por " + string(g)
	}
	return "Pago rechazado por " + string(g) + ": " + reason
}

// ExpirePending marca como fallidos los intentos pendientes vencidos.
func (s *PaymentService) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	orders, err := s.repo.FindExpiredAttempts(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range orders {
		if o.Payment == nil {
			continue
		}
		_, err := s.resolveAttempt(ctx, o, *o.Payment, model.PaymentFailed, "Expired", nil)
		if errors.Is(err, repository.ErrConflict) {
			// resuelto por un callback entre la consulta y la escritura
			continue
		}
		if err != nil {
			s.log.Error("no se pudo expirar el intento", "order_ref", o.OrderRef, "error", err)
			continue
		}
		expired++
		metrics.ExpiredAttemptsTotal.Inc()
	}
	return expired, nil
}

func (s *PaymentService) GetStatus(ctx context.Context, orderRef string) (*PaymentStatusView, error) {
	o, err := s.findOrder(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	v := &PaymentStatusView{
		OrderRef:           o.OrderRef,
		OrderStatus:        o.Status,
		Method:             o.PaymentMethod,
		Amount:             o.GrandTotal,
		PaymentConfirmedAt: o.PaymentConfirmedAt,
		Attempts:           len(o.PaymentHistory),
	}
	if p := o.Payment; p != nil {
		v.Attempts++
		v.PaymentStatus = p.Status
		v.Gateway = p.Gateway
		v.Amount = p.Amount
		v.ProviderTransactionID = p.ProviderTransactionID
		v.FailureReason = p.FailureReason
		v.ExpiresAt = p.ExpiresAt
	}
	return v, nil
}

// CheckCOD evalúa la elegibilidad contra reembolso sin crear intentos.
func (s *PaymentService) CheckCOD(city string, amount int64) gateway.CODQuote {
	return s.gateways.COD().Quote(city, amount)
}

// confirmCOD completa el cambio para que la orden pase a confirmed junto con
// el intento COD, que queda pendiente: el cobro se completa en la entrega.
func confirmCOD(change *repository.Change, order *model.Order, attempt model.PaymentAttempt) error {
	if err := orderstate.ValidatePayment(order.Status, model.StatusConfirmed, attempt); err != nil {
		return err
	}
	at := change.At
	change.ToStatus = model.StatusConfirmed
	change.PaymentConfirmedAt = &at
	change.Record = &model.StatusRecord{
		Status:    model.StatusConfirmed,
		Reason:    "Pedido contra reembolso confirmado",
		UserID:    order.UserID,
		Timestamp: at,
	}
	return nil
}

func (s *PaymentService) announceCOD(ctx context.Context, updated *model.Order) {
	s.publish(ctx, events.New(events.OrderStatusChanged, updated))
	s.notify(events.OrderConfirmation, updated)
}

// callProvider reintenta solo ErrProviderUnavailable, con backoff exponencial y
// acotado por el timeout del proveedor.
func (s *PaymentService) callProvider(ctx context.Context, adapter gateway.Adapter, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	g := adapter.Gateway()
	start := time.Now()
	defer func() {
		metrics.ProviderCallDuration.WithLabelValues(string(g)).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var last *gateway.InitiateResult
	op := func() (*gateway.InitiateResult, error) {
		res, err := adapter.Initiate(ctx, req)
		last = res
		if err == nil {
			return res, nil
		}
		if errors.Is(err, gateway.ErrProviderUnavailable) {
			s.log.Warn("proveedor no disponible, se reintenta", "gateway", g, "order_ref", req.OrderRef, "error", err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff

	res, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries))
	if err != nil {
		if !errors.Is(err, gateway.ErrProviderUnavailable) && ctx.Err() != nil {
			err = fmt.Errorf("%w: %s: %v", gateway.ErrProviderUnavailable, g, err)
		}
		metrics.PaymentInitiationsTotal.WithLabelValues(string(g), Classify(err).String()).Inc()
		return last, err
	}
	metrics.PaymentInitiationsTotal.WithLabelValues(string(g), "ok").Inc()
	return res, nil
}

func (s *PaymentService) newAttempt(id string, g model.Gateway, method string, amount int64, res *gateway.InitiateResult) *model.PaymentAttempt {
	a := &model.PaymentAttempt{
		AttemptID:             id,
		Gateway:               g,
		Method:                method,
		Status:                model.PaymentPending,
		ProviderTransactionID: res.ProviderTransactionID,
		Amount:                amount,
		Currency:              res.Currency,
		RawProviderPayload:    res.Raw,
		CreatedAt:             s.now().UTC(),
	}
	if !res.ExpiresAt.IsZero() {
		exp := res.ExpiresAt.UTC()
		a.ExpiresAt = &exp
	}
	return a
}

func (s *PaymentService) session(o *model.Order, res *gateway.InitiateResult) *PaymentSession {
	p := o.Payment
	ps := &PaymentSession{
		OrderRef:              o.OrderRef,
		AttemptID:             p.AttemptID,
		Gateway:               p.Gateway,
		Method:                p.Method,
		Status:                p.Status,
		OrderStatus:           o.Status,
		Amount:                p.Amount,
		Currency:              p.Currency,
		ExpiresAt:             p.ExpiresAt,
		ProviderTransactionID: p.ProviderTransactionID,
		RedirectURL:           res.RedirectURL,
		ClientSecret:          res.ClientSecret,
		ApprovalURL:           res.ApprovalURL,
		Payload:               res.SignedPayload,
		COD:                   res.COD,
	}
	if fees, ok := s.gateways.Fees(p.Gateway, p.Amount); ok {
		ps.Fees = &fees
	}
	return ps
}

// failedSession solo lleva datos cuando el adapter devolvió algo útil (cotización COD).
func (s *PaymentService) failedSession(o *model.Order, method string, g model.Gateway, res *gateway.InitiateResult) *PaymentSession {
	if res == nil || res.COD == nil {
		return nil
	}
	return &PaymentSession{
		OrderRef:    o.OrderRef,
		Gateway:     g,
		Method:      method,
		OrderStatus: o.Status,
		Amount:      o.GrandTotal,
		Currency:    "PKR",
		COD:         res.COD,
	}
}

func (s *PaymentService) publish(ctx context.Context, e events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Error("no se pudo publicar el evento", "event", e.Type, "order_ref", e.OrderRef, "error", err)
	}
}

func (s *PaymentService) notify(t events.NotificationType, o *model.Order) {
	if s.notifier == nil {
		return
	}
	data := map[string]string{
		"orderRef": o.OrderRef,
		"total":    strconv.FormatInt(o.GrandTotal, 10),
		"status":   string(o.Status),
	}
	if p := o.Payment; p != nil {
		data["gateway"] = string(p.Gateway)
		data["paymentMethod"] = p.Method
		data["transactionId"] = p.ProviderTransactionID
		if p.FailureReason != "" {
			data["reason"] = p.FailureReason
		}
	}
	s.notifier.Notify(events.Notification{
		EventType:    t,
		OrderRef:     o.OrderRef,
		Recipient:    o.Customer,
		TemplateData: data,
	})
}
