package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RemoteSigner delegates signing and submission to an external signing service holding the
// owner key:
//
//	POST /sign    {"safe": "0x..", "transaction": {...}} => {"safe_tx_hash": "0x..", "signature": "0x.."}
//	POST /submit  {"transaction": {...}}                 => {"transaction_hash": "0x.."}
type RemoteSigner struct {
	baseURL    string
	address    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRemoteSigner(baseURL, ownerAddress string, logger *slog.Logger) *RemoteSigner {
	return &RemoteSigner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		address:    ownerAddress,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("module", "safe_signer"),
	}
}

func (s *RemoteSigner) Address() string {
	return s.address
}

type signRequest struct {
	Safe        string          `json:"safe"`
	Transaction TransactionData `json:"transaction"`
}

type signResponse struct {
	SafeTxHash string `json:"safe_tx_hash"`
	Signature  string `json:"signature"`
}

func (s *RemoteSigner) Sign(ctx context.Context, safeAddress string, tx TransactionData) (string, string, error) {
	var out signResponse

	err := s.post(ctx, "/sign", signRequest{Safe: safeAddress, Transaction: tx}, &out)
	if err != nil {
		return "", "", err
	}

	if out.SafeTxHash == "" || out.Signature == "" {
		return "", "", fmt.Errorf("signer returned an incomplete signature for safe %s", safeAddress)
	}

	return out.SafeTxHash, out.Signature, nil
}

type submitResponse struct {
	TransactionHash string `json:"transaction_hash"`
}

func (s *RemoteSigner) Submit(ctx context.Context, tx *Transaction) (string, error) {
	var out submitResponse

	err := s.post(ctx, "/submit", map[string]any{"transaction": tx}, &out)
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "Safe transaction submitted",
		"safe_tx_hash", tx.SafeTxHash,
		"transaction_hash", out.TransactionHash,
	)

	return out.TransactionHash, nil
}

func (s *RemoteSigner) post(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal signer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signer request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read signer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("failed to decode signer response for %s: %w", path, err)
	}

	return nil
}
