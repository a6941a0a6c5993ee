package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	stripeTolerance       = 5 * time.Minute

	stripeEventSucceeded = "payment_intent.succeeded"
	stripeEventFailed    = "payment_intent.payment_failed"
)

// Stripe usa payment intents: el cliente confirma con el client_secret y el
// resultado llega por webhook firmado.
type Stripe struct {
	cfg     config.GatewayConfig
	intents *paymentintent.Client
	now     func() time.Time
}

func NewStripe(cfg config.GatewayConfig, client *http.Client, now func() time.Time) *Stripe {
	if now == nil {
		now = time.Now
	}
	// los reintentos los maneja el servicio de pagos con backoff
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(cfg.BaseURL()),
		HTTPClient:        client,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	})
	return &Stripe{
		cfg:     cfg,
		intents: &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		now:     now,
	}
}

func (s *Stripe) Gateway() model.Gateway { return model.GatewayStripe }

func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validateRequest(req, s.cfg); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(toMinorUnits(req.Amount)),
		Currency:    stripe.String(s.cfg.Currency),
		Description: stripe.String("Order " + req.OrderRef),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("orderRef", req.OrderRef)
	if req.Contact.Email != "" {
		params.ReceiptEmail = stripe.String(req.Contact.Email)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := s.intents.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode != 0 {
			return nil, classifyStatus("stripe", se.HTTPStatusCode, se.Msg)
		}
		return nil, transportError("stripe", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, fmt.Errorf("%w: stripe: intent sin id o client_secret", ErrProviderRejected)
	}

	return &InitiateResult{
		Gateway:               model.GatewayStripe,
		ProviderTransactionID: intent.ID,
		ClientSecret:          intent.ClientSecret,
		Currency:              strings.ToUpper(s.cfg.Currency),
		ExpiresAt:             s.now().Add(s.cfg.Expiry),
		Raw: map[string]any{
			"paymentIntentId": intent.ID,
			"status":          string(intent.Status),
			"publishableKey":  s.cfg.APIKey,
		},
	}, nil
}

// intentEvent separa el payment intent del evento. Los tipos de evento que
// no se procesan devuelven ErrUnhandledEvent.
func intentEvent(ev stripe.Event) (*stripe.PaymentIntent, error) {
	t := string(ev.Type)
	if t != stripeEventSucceeded && t != stripeEventFailed {
		return nil, fmt.Errorf("%w: stripe %s", ErrUnhandledEvent, t)
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: data.object", ErrMissingField)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: payment intent ilegible", ErrMissingField)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("%w: data.object.id", ErrMissingField)
	}
	return &intent, nil
}

// CallbackReference lee el id del payment intent sin validar la firma; la
// firma se valida en Verify.
func (s *Stripe) CallbackReference(cb Callback) (string, error) {
	var ev stripe.Event
	if err := json.Unmarshal(cb.Body, &ev); err != nil {
		return "", fmt.Errorf("%w: evento stripe ilegible", ErrMissingField)
	}
	intent, err := intentEvent(ev)
	if err != nil {
		return "", err
	}
	return intent.ID, nil
}

func (s *Stripe) Verify(_ context.Context, cb Callback) (*Verification, error) {
	ev, err := webhook.ConstructEventWithOptions(cb.Body, cb.Header.Get(stripeSignatureHeader), s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{Tolerance: stripeTolerance, IgnoreAPIVersionMismatch: true})
	switch {
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrTooOld):
		return nil, fmt.Errorf("%w: stripe: %v", ErrSignatureMismatch, err)
	case err != nil:
		return nil, fmt.Errorf("%w: evento stripe ilegible: %v", ErrMissingField, err)
	}

	intent, err := intentEvent(ev)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		ProviderTransactionID: intent.ID,
		OrderRef:              intent.Metadata["orderRef"],
		Amount:                intent.Amount / 100,
		EventID:               ev.ID,
		Raw: map[string]any{
			"eventId":   ev.ID,
			"eventType": string(ev.Type),
			"status":    string(intent.Status),
			"amount":    intent.Amount,
		},
	}

	if string(ev.Type) == stripeEventSucceeded {
		v.Accepted = true
		return v, nil
	}
	v.Reason = "card payment failed"
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		v.Reason = intent.LastPaymentError.Msg
	}
	return v, nil
}
