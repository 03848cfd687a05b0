package sideshift_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/sideshift"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClient_RequestQuote(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/quotes", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-sideshift-secret"))

		var body map[string]any

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "eth", body["depositCoin"])
		assert.Equal(t, "btc", body["settleCoin"])
		assert.Equal(t, "0.01", body["depositAmount"])
		assert.Equal(t, "affiliate", body["affiliateId"])

		_, _ = w.Write([]byte(`{"id":"quote-1","depositCoin":"eth","depositNetwork":"ethereum",
			"settleCoin":"btc","settleNetwork":"bitcoin","depositAmount":"0.01","settleAmount":"0.0005",
			"rate":"0.05","expiresAt":"2025-01-01T00:15:00Z"}`))
	}))
	defer server.Close()

	client := sideshift.NewClient("secret", "affiliate", newTestLogger(), sideshift.WithBaseURL(server.URL))

	quote, err := client.RequestQuote(context.Background(), models.QuoteRequest{
		DepositCoin:    "eth",
		DepositNetwork: "ethereum",
		SettleCoin:     "btc",
		SettleNetwork:  "bitcoin",
		DepositAmount:  "0.01",
	})
	require.NoError(t, err)
	assert.Equal(t, "quote-1", quote.ID)
	assert.Equal(t, "0.0005", quote.SettleAmount)
}

func TestClient_CreateFixedShiftAndPoll(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /shifts/fixed", func(w http.ResponseWriter, r *http.Request) {
		var body models.ShiftRequest

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "quote-1", body.QuoteID)
		assert.Equal(t, "bc1q", body.SettleAddress)
		assert.Equal(t, "0xrefund", body.RefundAddress)

		_, _ = w.Write([]byte(`{"id":"shift-1","depositAddress":"0xdeposit","status":"waiting"}`))
	})
	mux.HandleFunc("GET /shifts/shift-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"shift-1","depositAddress":"0xdeposit","status":"settled"}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := sideshift.NewClient("", "", newTestLogger(), sideshift.WithBaseURL(server.URL))

	shift, err := client.CreateFixedShift(context.Background(), models.ShiftRequest{
		QuoteID: "quote-1", SettleAddress: "bc1q", RefundAddress: "0xrefund",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdeposit", shift.DepositAddress)
	assert.Equal(t, models.ShiftStatusWaiting, shift.Status)

	shift, err = client.Shift(context.Background(), "shift-1")
	require.NoError(t, err)
	assert.Equal(t, models.ShiftStatusSettled, shift.Status)
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Amount too low"}}`))
	}))
	defer server.Close()

	client := sideshift.NewClient("", "", newTestLogger(), sideshift.WithBaseURL(server.URL))

	_, err := client.RequestQuote(context.Background(), models.QuoteRequest{DepositCoin: "eth"})
	require.Error(t, err)

	var apiErr *sideshift.APIError

	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Amount too low", apiErr.Message)
	assert.True(t, sideshift.IsAPIError(err))
}

func TestClient_InvalidResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"depositAddress":"0xdeposit"}`))
	}))
	defer server.Close()

	client := sideshift.NewClient("", "", newTestLogger(), sideshift.WithBaseURL(server.URL))

	_, err := client.CreateFixedShift(context.Background(), models.ShiftRequest{QuoteID: "q"})
	require.ErrorIs(t, err, sideshift.ErrInvalidResponse)
}

func TestClient_Coins(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins", r.URL.Path)
		_, _ = w.Write([]byte(`[{"coin":"ETH","name":"Ethereum","networks":["ethereum","arbitrum"]}]`))
	}))
	defer server.Close()

	client := sideshift.NewClient("", "", newTestLogger(), sideshift.WithBaseURL(server.URL))

	coins, err := client.Coins(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, []string{"ethereum", "arbitrum"}, coins[0].Networks)
}
