// Package gateway implementa un adapter por proveedor de pago. Cada adapter
// conoce el formato de su payload, cómo firmarlo y cómo verificar los callbacks.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

var (
	ErrAmountOutOfRange        = errors.New("monto fuera de rango para el gateway")
	ErrUnsupportedGateway      = errors.New("gateway no soportado")
	ErrSignatureMismatch       = errors.New("firma del callback inválida")
	ErrProviderUnavailable     = errors.New("proveedor no disponible")
	ErrProviderRejected        = errors.New("el proveedor rechazó la solicitud")
	ErrMissingField            = errors.New("falta un campo requerido")
	ErrCODUnavailable          = errors.New("contra reembolso no disponible")
	ErrUnhandledEvent          = errors.New("evento del proveedor no manejado")
	ErrVerificationUnsupported = errors.New("el gateway no recibe callbacks")
)

// Adapter es la capacidad común {initiate, verify} de todos los proveedores.
type Adapter interface {
	Gateway() model.Gateway
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// CallbackReference extrae el providerTransactionId del callback sin verificarlo.
	CallbackReference(cb Callback) (string, error)
	Verify(ctx context.Context, cb Callback) (*Verification, error)
}

type InitiateRequest struct {
	OrderRef string
	Amount   int64 // PKR
	Contact  model.Contact
	City     string
	// Clave de idempotencia para proveedores que la soportan (Stripe, PayPal)
	IdempotencyKey string
}

type InitiateResult struct {
	Gateway               model.Gateway     `json:"gateway"`
	ProviderTransactionID string            `json:"providerTransactionId,omitempty"`
	RedirectURL           string            `json:"redirectUrl,omitempty"`
	ClientSecret          string            `json:"clientSecret,omitempty"`
	ApprovalURL           string            `json:"approvalUrl,omitempty"`
	SignedPayload         map[string]string `json:"payload,omitempty"`
	Currency              string            `json:"currency"`
	ExpiresAt             time.Time         `json:"expiresAt,omitempty"`
	COD                   *CODQuote         `json:"cod,omitempty"`
	// Diagnóstico, sin secretos. Se guarda en el intento y no se interpreta después.
	Raw map[string]any `json:"-"`
}

// Callback es lo que llega del proveedor: campos planos (form o JSON),
// el body crudo (necesario para firmas sobre el body) y los headers.
type Callback struct {
	Fields map[string]string
	Body   []byte
	Header http.Header
}

func (c Callback) Field(key string) string {
	if c.Fields == nil {
		return ""
	}
	return c.Fields[key]
}

// Verification es el resultado de un callback con integridad válida.
// OrderRef y Amount (PKR) se informan cuando el proveedor los devuelve; el
// orquestador los compara contra la orden.
type Verification struct {
	Accepted              bool
	ProviderTransactionID string
	OrderRef              string
	Amount                int64
	Reason                string
	EventID               string
	Raw                   map[string]any
}

func validateRequest(req InitiateRequest, cfg config.GatewayConfig) error {
	if strings.TrimSpace(req.OrderRef) == "" {
		return fmt.Errorf("%w: orderRef", ErrMissingField)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: %d debe ser positivo", ErrAmountOutOfRange, req.Amount)
	}
	if cfg.MinAmount > 0 && req.Amount < cfg.MinAmount {
		return fmt.Errorf("%w: mínimo Rs. %d", ErrAmountOutOfRange, cfg.MinAmount)
	}
	if cfg.MaxAmount > 0 && req.Amount > cfg.MaxAmount {
		return fmt.Errorf("%w: máximo Rs. %d", ErrAmountOutOfRange, cfg.MaxAmount)
	}
	return nil
}

// newTxnRef genera referencias del estilo JC1712345678901a1b2c3d4e.
func newTxnRef(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return prefix + strconv.FormatInt(now.UnixMilli(), 10) + suffix
}

// classifyStatus convierte una respuesta HTTP del proveedor en error.
// 5xx y 429 son transitorios; el resto de 4xx es un rechazo definitivo.
func classifyStatus(provider string, status int, msg string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s respondió %d", ErrProviderUnavailable, provider, status)
	default:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fmt.Errorf("%w: %s: %s", ErrProviderRejected, provider, msg)
	}
}

// fromMinorUnits interpreta un monto en paisa/centavos; 0 si no se puede leer.
func fromMinorUnits(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n / 100
}

func transportError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
}
