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
	jazzCashHashField   = "pp_SecureHash"
	jazzCashSuccessCode = "000"
	jazzCashTimeLayout  = "20060102150405"
)

// JazzCash arma un formulario firmado que el navegador envía a la página de checkout.
type JazzCash struct {
	cfg config.GatewayConfig
	now func() time.Time
}

func NewJazzCash(cfg config.GatewayConfig, now func() time.Time) *JazzCash {
	if now == nil {
		now = time.Now
	}
	return &JazzCash{cfg: cfg, now: now}
}

func (j *JazzCash) Gateway() model.Gateway { return model.GatewayJazzCash }

func (j *JazzCash) Initiate(_ context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validateRequest(req, j.cfg); err != nil {
		return nil, err
	}

	now := j.now()
	expires := now.Add(j.cfg.Expiry)
	txnRef := newTxnRef("JC", now)

	payload := map[string]string{
		"pp_Version":           "1.1",
		"pp_TxnType":           "MWALLET",
		"pp_Language":          "EN",
		"pp_MerchantID":        j.cfg.MerchantID,
		"pp_Password":          j.cfg.Password,
		"pp_TxnRefNo":          txnRef,
		"pp_Amount":            strconv.FormatInt(toMinorUnits(req.Amount), 10),
		"pp_TxnCurrency":       "PKR",
		"pp_TxnDateTime":       now.Format(jazzCashTimeLayout),
		"pp_BillReference":     req.OrderRef,
		"pp_Description":       "Order " + req.OrderRef,
		"pp_TxnExpiryDateTime": expires.Format(jazzCashTimeLayout),
		"pp_ReturnURL":         j.cfg.ReturnURL,
		"ppmpf_1":              req.Contact.Phone,
		"ppmpf_2":              req.Contact.Email,
	}
	payload[jazzCashHashField] = saltedHash(payload, j.cfg.IntegritySalt, jazzCashHashField)

	return &InitiateResult{
		Gateway:               model.GatewayJazzCash,
		ProviderTransactionID: txnRef,
		RedirectURL:           j.cfg.BaseURL() + "/CustomerPortal/transactionmanagement/merchantform",
		SignedPayload:         payload,
		Currency:              "PKR",
		ExpiresAt:             expires,
		Raw:                   stripSecrets(payload, "pp_Password"),
	}, nil
}

func (j *JazzCash) CallbackReference(cb Callback) (string, error) {
	ref := cb.Field("pp_TxnRefNo")
	if ref == "" {
		return "", fmt.Errorf("%w: pp_TxnRefNo", ErrMissingField)
	}
	return ref, nil
}

// Verify recalcula el hash sobre todos los campos recibidos salvo pp_SecureHash.
func (j *JazzCash) Verify(_ context.Context, cb Callback) (*Verification, error) {
	ref, err := j.CallbackReference(cb)
	if err != nil {
		return nil, err
	}

	expected := saltedHash(cb.Fields, j.cfg.IntegritySalt, jazzCashHashField)
	if !signatureEqual(expected, cb.Field(jazzCashHashField)) {
		return nil, fmt.Errorf("%w: jazzcash %s", ErrSignatureMismatch, ref)
	}

	v := &Verification{
		Accepted:              cb.Field("pp_ResponseCode") == jazzCashSuccessCode,
		ProviderTransactionID: ref,
		OrderRef:              cb.Field("pp_BillReference"),
		Amount:                fromMinorUnits(cb.Field("pp_Amount")),
		Raw:                   stripSecrets(cb.Fields, "pp_Password", jazzCashHashField),
	}
	if !v.Accepted {
		v.Reason = cb.Field("pp_ResponseMessage")
		if v.Reason == "" {
			v.Reason = "JazzCash response code " + cb.Field("pp_ResponseCode")
		}
	}
	return v, nil
}

// stripSecrets copia los campos omitiendo los que no deben persistirse.
func stripSecrets(fields map[string]string, secret ...string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for _, k := range secret {
		delete(out, k)
	}
	return out
}
