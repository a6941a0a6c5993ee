package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

// TokenCache guarda tokens de acceso de proveedores hasta su expiración.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const paypalTokenMargin = time.Minute

// PayPal crea una orden con intent CAPTURE; la verificación es la captura.
type PayPal struct {
	cfg    config.GatewayConfig
	client *http.Client
	tokens TokenCache
	now    func() time.Time
}

func NewPayPal(cfg config.GatewayConfig, client *http.Client, tokens TokenCache, now func() time.Time) *PayPal {
	if now == nil {
		now = time.Now
	}
	return &PayPal{cfg: cfg, client: client, tokens: tokens, now: now}
}

func (p *PayPal) Gateway() model.Gateway { return model.GatewayPayPal }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string        `json:"reference_id"`
	Description string        `json:"description,omitempty"`
	Amount      *paypalAmount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []struct {
			ID     string       `json:"id"`
			Status string       `json:"status"`
			Amount paypalAmount `json:"amount"`
		} `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	// errores
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (p *PayPal) tokenKey() string {
	return "paypal:token:" + string(p.cfg.Mode) + ":" + p.cfg.ClientID
}

// accessToken obtiene un token client_credentials, usando el cache si hay uno vigente.
func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	if p.tokens != nil {
		tok, ok, err := p.tokens.Get(ctx, p.tokenKey())
		if err != nil {
			slog.Warn("cache de tokens no disponible", "gateway", "paypal", "error", err)
		} else if ok {
			return tok, nil
		}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL()+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", transportError("paypal", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error_description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 300 {
		// credenciales rechazadas: no tiene sentido reintentar la misma llamada
		if resp.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("%w: paypal: credenciales inválidas", ErrProviderRejected)
		}
		return "", classifyStatus("paypal", resp.StatusCode, out.Error)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: paypal: token vacío", ErrProviderUnavailable)
	}

	if p.tokens != nil {
		ttl := time.Duration(out.ExpiresIn)*time.Second - paypalTokenMargin
		if ttl > 0 {
			if err := p.tokens.Set(ctx, p.tokenKey(), out.AccessToken, ttl); err != nil {
				slog.Warn("no se pudo cachear el token", "gateway", "paypal", "error", err)
			}
		}
	}
	return out.AccessToken, nil
}

func (p *PayPal) call(ctx context.Context, method, path string, body any, idempotencyKey string) (*paypalOrder, int, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL()+path, rdr)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idempotencyKey != "" {
		req.Header.Set("PayPal-Request-Id", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, transportError("paypal", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && p.tokens != nil {
		// token revocado antes de tiempo
		_ = p.tokens.Delete(ctx, p.tokenKey())
		return nil, resp.StatusCode, fmt.Errorf("%w: paypal: token expirado", ErrProviderUnavailable)
	}

	var out paypalOrder
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode < 300 {
		return nil, resp.StatusCode, fmt.Errorf("%w: paypal: respuesta ilegible: %v", ErrProviderUnavailable, err)
	}
	return &out, resp.StatusCode, nil
}

func (p *PayPal) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validateRequest(req, p.cfg); err != nil {
		return nil, err
	}

	value := convertAmount(req.Amount, p.cfg.ConversionRate)
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []paypalPurchaseUnit{{
			ReferenceID: req.OrderRef,
			Description: "Order " + req.OrderRef,
			Amount:      &paypalAmount{CurrencyCode: p.cfg.Currency, Value: value},
		}},
		"application_context": map[string]string{
			"landing_page": "BILLING",
			"user_action":  "PAY_NOW",
			"return_url":   p.cfg.ReturnURL,
			"cancel_url":   p.cfg.CancelURL,
		},
	}

	order, status, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", body, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus("paypal", status, order.Message); err != nil {
		return nil, err
	}

	var approve string
	for _, l := range order.Links {
		if l.Rel == "approve" {
			approve = l.Href
			break
		}
	}
	if order.ID == "" || approve == "" {
		return nil, fmt.Errorf("%w: paypal: orden sin id o link de aprobación", ErrProviderRejected)
	}

	return &InitiateResult{
		Gateway:               model.GatewayPayPal,
		ProviderTransactionID: order.ID,
		ApprovalURL:           approve,
		RedirectURL:           approve,
		Currency:              p.cfg.Currency,
		ExpiresAt:             p.now().Add(p.cfg.Expiry),
		Raw: map[string]any{
			"paypalOrderId": order.ID,
			"status":        order.Status,
			"amountUsd":     value,
		},
	}, nil
}

func (p *PayPal) CallbackReference(cb Callback) (string, error) {
	ref := cb.Field("paypalOrderId")
	if ref == "" {
		return "", fmt.Errorf("%w: paypalOrderId", ErrMissingField)
	}
	return ref, nil
}

// Verify captura la orden aprobada. El id y reference_id devueltos por PayPal
// tienen que coincidir con lo pedido.
func (p *PayPal) Verify(ctx context.Context, cb Callback) (*Verification, error) {
	ref, err := p.CallbackReference(cb)
	if err != nil {
		return nil, err
	}

	order, status, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(ref)+"/capture", nil, "capture-"+ref)
	if err != nil {
		return nil, err
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return nil, classifyStatus("paypal", status, order.Message)
	}
	if status >= 300 {
		// captura rechazada (instrumento declinado, orden no aprobada)
		reason := order.Message
		if reason == "" {
			reason = order.Name
		}
		return &Verification{
			ProviderTransactionID: ref,
			Reason:                "PayPal capture rejected: " + reason,
			Raw:                   map[string]any{"name": order.Name, "httpStatus": status},
		}, nil
	}

	if order.ID != ref {
		return nil, fmt.Errorf("%w: paypal devolvió %q para %q", ErrSignatureMismatch, order.ID, ref)
	}

	v := &Verification{
		Accepted:              order.Status == "COMPLETED",
		ProviderTransactionID: ref,
		Raw:                   map[string]any{"status": order.Status},
	}
	if len(order.PurchaseUnits) > 0 {
		pu := order.PurchaseUnits[0]
		v.OrderRef = pu.ReferenceID
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			v.Raw["captureId"] = pu.Payments.Captures[0].ID
			v.Raw["captureStatus"] = pu.Payments.Captures[0].Status
		}
	}
	if v.OrderRef == "" {
		return nil, fmt.Errorf("%w: paypal sin reference_id", ErrSignatureMismatch)
	}
	if !v.Accepted {
		v.Reason = "PayPal capture status " + order.Status
	}
	return v, nil
}
