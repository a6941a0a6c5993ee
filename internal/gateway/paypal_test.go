package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/cache"
)

type fakePayPal struct {
	tokenCalls   atomic.Int32
	captureReply map[string]any
	captureCode  int
}

func (f *fakePayPal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 32400})
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var body struct {
			Intent        string               `json:"intent"`
			PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body.Intent)
		require.Len(t, body.PurchaseUnits, 1)
		assert.Equal(t, "ORD-1001", body.PurchaseUnits[0].ReferenceID)
		assert.Equal(t, "17.86", body.PurchaseUnits[0].Amount.Value)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "PP-1",
			"status": "CREATED",
			"links": []map[string]string{
				{"rel": "self", "href": "https://api.test/v2/checkout/orders/PP-1"},
				{"rel": "approve", "href": "https://paypal.test/checkoutnow?token=PP-1"},
			},
		})
	})
	mux.HandleFunc("/v2/checkout/orders/PP-1/capture", func(w http.ResponseWriter, r *http.Request) {
		if f.captureCode != 0 {
			w.WriteHeader(f.captureCode)
		}
		_ = json.NewEncoder(w).Encode(f.captureReply)
	})
	return mux
}

func completedCapture(ref string) map[string]any {
	return map[string]any{
		"id":     "PP-1",
		"status": "COMPLETED",
		"purchase_units": []map[string]any{{
			"reference_id": ref,
			"payments": map[string]any{
				"captures": []map[string]any{{"id": "CAP-1", "status": "COMPLETED"}},
			},
		}},
	}
}

func TestPayPal_InitiateUsesCachedToken(t *testing.T) {
	fake := &fakePayPal{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	pp := NewPayPal(testPayments(srv.URL).PayPal, srv.Client(), cache.NewMemory(), clock)

	for i := 0; i < 2; i++ {
		res, err := pp.Initiate(context.Background(), testRequest(5000))
		require.NoError(t, err)
		assert.Equal(t, "PP-1", res.ProviderTransactionID)
		assert.Equal(t, "https://paypal.test/checkoutnow?token=PP-1", res.ApprovalURL)
		assert.Equal(t, "USD", res.Currency)
	}
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestPayPal_VerifyCaptures(t *testing.T) {
	fake := &fakePayPal{captureReply: completedCapture("ORD-1001")}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	pp := NewPayPal(testPayments(srv.URL).PayPal, srv.Client(), cache.NewMemory(), clock)

	v, err := pp.Verify(context.Background(), Callback{Fields: map[string]string{"paypalOrderId": "PP-1"}})
	require.NoError(t, err)
	assert.True(t, v.Accepted)
	assert.Equal(t, "ORD-1001", v.OrderRef)
	assert.Equal(t, "CAP-1", v.Raw["captureId"])
}

func TestPayPal_VerifyDeclined(t *testing.T) {
	fake := &fakePayPal{
		captureCode:  http.StatusUnprocessableEntity,
		captureReply: map[string]any{"name": "UNPROCESSABLE_ENTITY", "message": "INSTRUMENT_DECLINED"},
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	pp := NewPayPal(testPayments(srv.URL).PayPal, srv.Client(), nil, clock)

	v, err := pp.Verify(context.Background(), Callback{Fields: map[string]string{"paypalOrderId": "PP-1"}})
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Reason, "INSTRUMENT_DECLINED")
}

func TestPayPal_VerifyMissingReference(t *testing.T) {
	fake := &fakePayPal{captureReply: map[string]any{"id": "PP-1", "status": "COMPLETED"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	pp := NewPayPal(testPayments(srv.URL).PayPal, srv.Client(), nil, clock)

	_, err := pp.Verify(context.Background(), Callback{Fields: map[string]string{"paypalOrderId": "PP-1"}})
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = pp.Verify(context.Background(), Callback{Fields: map[string]string{}})
	assert.ErrorIs(t, err, ErrMissingField)
}
