/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"entitlement-engine-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(models.GatewayConfig{
		BaseURL:   server.URL,
		SecretKey: "sk_test",
		Timeout:   5 * time.Second,
	}, "NGN")
	require.NoError(t, err)
	return client
}

func writeEnvelope(w http.ResponseWriter, status bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

func TestInitialize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(4500), body["amount"])
		assert.Equal(t, "NGN", body["currency"])
		assert.Equal(t, "ref-1", body["reference"])

		writeEnvelope(w, true, "Authorization URL created", map[string]string{
			"authorization_url": "https://checkout.example.com/abc",
			"access_code":       "abc",
			"reference":         "ref-1",
		})
	})

	checkout, err := client.Initialize(context.Background(), "ada@example.com", 4500, "ref-1", map[string]string{"owner_id": "o1"})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/abc", checkout.AuthorizationURL)
	assert.Equal(t, "ref-1", checkout.Reference)
}

func TestVerify(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref-9", r.URL.Path)
		writeEnvelope(w, true, "Verification successful", map[string]interface{}{
			"reference": "ref-9",
			"status":    "success",
			"amount":    50000,
			"currency":  "NGN",
			"paid_at":   "2030-01-02T10:00:00.000Z",
			"metadata":  map[string]string{"owner_id": "o1", "plan": "yearly"},
		})
	})

	v, err := client.Verify(context.Background(), "ref-9")
	require.NoError(t, err)
	assert.True(t, v.Paid())
	assert.Equal(t, int64(50000), v.Amount)
	assert.Equal(t, "yearly", v.Metadata["plan"])
	assert.Equal(t, 2030, v.PaidAt.Year())
}

func TestRejectedRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeEnvelope(w, false, "Transaction reference not found", nil)
	})

	_, err := client.Verify(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "Transaction reference not found")
}

func TestInitiateTransfer(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/transferrecipient":
			assert.Equal(t, "0123456789", body["account_number"])
			assert.Equal(t, "058", body["bank_code"])
			writeEnvelope(w, true, "Transfer recipient created", map[string]string{"recipient_code": "RCP_1"})
		case "/transfer":
			assert.Equal(t, "RCP_1", body["recipient"])
			assert.Equal(t, "wd-1", body["reference"])
			assert.Equal(t, float64(900), body["amount"])
			writeEnvelope(w, true, "Transfer has been queued", map[string]string{"transfer_code": "TRF_1", "status": "pending"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	code, err := client.InitiateTransfer(context.Background(),
		models.BankDetails{BankCode: "058", AccountNumber: "0123456789", AccountName: "Alice"}, 900, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", code)
	assert.Equal(t, []string{"/transferrecipient", "/transfer"}, paths)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(models.GatewayConfig{}, "NGN")
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	signature := Sign("whsec", body)

	assert.True(t, VerifySignature("whsec", body, signature))
	assert.False(t, VerifySignature("other", body, signature))
	assert.False(t, VerifySignature("whsec", []byte(`{"event":"charge.refunded"}`), signature))
	assert.False(t, VerifySignature("whsec", body, "not-hex"))
	assert.False(t, VerifySignature("", body, Sign("", body)))
	assert.Len(t, signature, 128)
}
