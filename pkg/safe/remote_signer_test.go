package safe_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/shiftflow/pkg/safe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteSigner_Sign(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sign", r.URL.Path)

		var body struct {
			Safe        string               `json:"safe"`
			Transaction safe.TransactionData `json:"transaction"`
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, safeAddress, body.Safe)
		assert.Equal(t, uint64(3), body.Transaction.Nonce)

		_, _ = w.Write([]byte(`{"safe_tx_hash":"0xhash","signature":"0xsig"}`))
	}))
	defer server.Close()

	signer := safe.NewRemoteSigner(server.URL+"/", "0xowner", newTestLogger())
	assert.Equal(t, "0xowner", signer.Address())

	hash, signature, err := signer.Sign(context.Background(), safeAddress, safe.TransactionData{To: "0xdeposit", Nonce: 3})
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)
	assert.Equal(t, "0xsig", signature)
}

func TestRemoteSigner_Sign_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "rejected", status: http.StatusForbidden, body: `{"error":"unknown safe"}`},
		{name: "incomplete", status: http.StatusOK, body: `{"safe_tx_hash":"0xhash"}`},
		{name: "malformed", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			signer := safe.NewRemoteSigner(server.URL, "0xowner", newTestLogger())

			_, _, err := signer.Sign(context.Background(), safeAddress, safe.TransactionData{})
			require.Error(t, err)

			if tt.status != http.StatusOK {
				var apiErr *safe.APIError

				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.status, apiErr.StatusCode)
			}
		})
	}
}

func TestRemoteSigner_Submit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submit", r.URL.Path)

		var body struct {
			Transaction safe.Transaction `json:"transaction"`
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xhash", body.Transaction.SafeTxHash)

		_, _ = w.Write([]byte(`{"transaction_hash":"0xreceipt"}`))
	}))
	defer server.Close()

	signer := safe.NewRemoteSigner(server.URL, "0xowner", newTestLogger())

	receipt, err := signer.Submit(context.Background(), &safe.Transaction{SafeTxHash: "0xhash", SafeAddress: safeAddress})
	require.NoError(t, err)
	assert.Equal(t, "0xreceipt", receipt)
}
