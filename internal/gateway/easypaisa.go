package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

const (
	easyPaisaSignatureField = "signature"
	easyPaisaSuccess        = "SUCCESS"
)

// EasyPaisa crea el pago vía API y confirma por un callback asíncrono.
type EasyPaisa struct {
	cfg    config.GatewayConfig
	client *http.Client
	now    func() time.Time
}

func NewEasyPaisa(cfg config.GatewayConfig, client *http.Client, now func() time.Time) *EasyPaisa {
	if now == nil {
		now = time.Now
	}
	return &EasyPaisa{cfg: cfg, client: client, now: now}
}

func (e *EasyPaisa) Gateway() model.Gateway { return model.GatewayEasyPaisa }

type easyPaisaPaymentRequest struct {
	StoreID         string `json:"storeId"`
	OrderID         string `json:"orderId"`
	TransactionID   string `json:"transactionId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	MobileNumber    string `json:"mobileNumber,omitempty"`
	Email           string `json:"emailAddress,omitempty"`
	ReturnURL       string `json:"returnUrl"`
	CancelURL       string `json:"cancelUrl"`
	CallbackURL     string `json:"callbackUrl"`
	ExpiryDateTime  string `json:"expiryDateTime"`
	TransactionType string `json:"transactionType"`
}

type easyPaisaPaymentResponse struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"paymentUrl"`
	Message    string `json:"message"`
}

func (e *EasyPaisa) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validateRequest(req, e.cfg); err != nil {
		return nil, err
	}

	now := e.now()
	expires := now.Add(e.cfg.Expiry)
	txnID := newTxnRef("EP", now)

	body, err := json.Marshal(easyPaisaPaymentRequest{
		StoreID:         e.cfg.StoreID,
		OrderID:         req.OrderRef,
		TransactionID:   txnID,
		Amount:          req.Amount,
		Currency:        "PKR",
		MobileNumber:    req.Contact.Phone,
		Email:           req.Contact.Email,
		ReturnURL:       e.cfg.ReturnURL,
		CancelURL:       e.cfg.CancelURL,
		CallbackURL:     e.cfg.CallbackURL,
		ExpiryDateTime:  expires.UTC().Format(time.RFC3339),
		TransactionType: "MA",
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL()+"/api/v2/payment", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, transportError("easypaisa", err)
	}
	defer resp.Body.Close()

	var out easyPaisaPaymentResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if err := classifyStatus("easypaisa", resp.StatusCode, out.Message); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: easypaisa: respuesta ilegible: %v", ErrProviderUnavailable, decodeErr)
	}
	if !out.Success || out.PaymentURL == "" {
		return nil, fmt.Errorf("%w: easypaisa: %s", ErrProviderRejected, out.Message)
	}

	return &InitiateResult{
		Gateway:               model.GatewayEasyPaisa,
		ProviderTransactionID: txnID,
		RedirectURL:           out.PaymentURL,
		Currency:              "PKR",
		ExpiresAt:             expires,
		Raw: map[string]any{
			"transactionId": txnID,
			"paymentUrl":    out.PaymentURL,
			"message":       out.Message,
		},
	}, nil
}

func (e *EasyPaisa) CallbackReference(cb Callback) (string, error) {
	ref := cb.Field("transactionId")
	if ref == "" {
		return "", fmt.Errorf("%w: transactionId", ErrMissingField)
	}
	return ref, nil
}

// Verify exige HMAC-SHA256(secretKey) sobre los campos ordenados, sin "signature".
func (e *EasyPaisa) Verify(_ context.Context, cb Callback) (*Verification, error) {
	ref, err := e.CallbackReference(cb)
	if err != nil {
		return nil, err
	}

	expected := hmacHex(e.cfg.SecretKey, canonicalize(cb.Fields, easyPaisaSignatureField))
	if !signatureEqual(expected, cb.Field(easyPaisaSignatureField)) {
		return nil, fmt.Errorf("%w: easypaisa %s", ErrSignatureMismatch, ref)
	}

	status := cb.Field("status")
	v := &Verification{
		Accepted:              status == easyPaisaSuccess,
		ProviderTransactionID: ref,
		OrderRef:              cb.Field("orderRef"),
		Raw:                   stripSecrets(cb.Fields, easyPaisaSignatureField),
	}
	if !v.Accepted {
		v.Reason = cb.Field("message")
		if v.Reason == "" {
			v.Reason = "EasyPaisa status " + status
		}
	}
	return v, nil
}
