package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

const (
	bankSignatureField = "signature"
	bankSuccessCode    = "00"
)

// Bank firma un redirect a la página de transferencia del banco. La confirmación
// llega horas después por callback firmado con la misma clave.
type Bank struct {
	cfg config.GatewayConfig
	now func() time.Time
}

func NewBank(cfg config.GatewayConfig, now func() time.Time) *Bank {
	if now == nil {
		now = time.Now
	}
	return &Bank{cfg: cfg, now: now}
}

func (b *Bank) Gateway() model.Gateway { return model.GatewayBank }

func (b *Bank) Initiate(_ context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validateRequest(req, b.cfg); err != nil {
		return nil, err
	}

	now := b.now()
	expires := now.Add(b.cfg.Expiry)
	txnID := newTxnRef("BT", now)

	payload := map[string]string{
		"merchantId":    b.cfg.MerchantID,
		"orderRef":      req.OrderRef,
		"transactionId": txnID,
		"amount":        strconv.FormatInt(toMinorUnits(req.Amount), 10),
		"currency":      "PKR",
		"returnUrl":     b.cfg.ReturnURL,
		"callbackUrl":   b.cfg.CallbackURL,
		"expiry":        expires.UTC().Format(time.RFC3339),
	}
	payload[bankSignatureField] = hmacHex(b.cfg.SecretKey, canonicalize(payload, bankSignatureField))

	return &InitiateResult{
		Gateway:               model.GatewayBank,
		ProviderTransactionID: txnID,
		RedirectURL:           b.cfg.BaseURL() + "/api/payment",
		SignedPayload:         payload,
		Currency:              "PKR",
		ExpiresAt:             expires,
		Raw:                   stripSecrets(payload, bankSignatureField),
	}, nil
}

func (b *Bank) CallbackReference(cb Callback) (string, error) {
	ref := cb.Field("transactionId")
	if ref == "" {
		return "", fmt.Errorf("%w: transactionId", ErrMissingField)
	}
	return ref, nil
}

func (b *Bank) Verify(_ context.Context, cb Callback) (*Verification, error) {
	ref, err := b.CallbackReference(cb)
	if err != nil {
		return nil, err
	}

	expected := hmacHex(b.cfg.SecretKey, canonicalize(cb.Fields, bankSignatureField))
	if !signatureEqual(expected, cb.Field(bankSignatureField)) {
		return nil, fmt.Errorf("%w: bank %s", ErrSignatureMismatch, ref)
	}

	code := cb.Field("responseCode")
	v := &Verification{
		Accepted:              code == bankSuccessCode,
		ProviderTransactionID: ref,
		OrderRef:              cb.Field("orderRef"),
		Amount:                fromMinorUnits(cb.Field("amount")),
		Raw:                   stripSecrets(cb.Fields, bankSignatureField),
	}
	if !v.Accepted {
		v.Reason = cb.Field("responseMessage")
		if v.Reason == "" {
			v.Reason = "bank response code " + code
		}
	}
	return v, nil
}
