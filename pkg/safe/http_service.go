package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// APIError is a non-2xx answer from the transaction service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("safe transaction service error (status %d): %s", e.StatusCode, e.Body)
}

// HTTPService talks to a Safe Transaction Service compatible API. Key handling and on-chain
// submission are delegated to the Signer.
type HTTPService struct {
	baseURL    string
	signer     Signer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPService creates an HTTPService rooted at baseURL, e.g. https://safe-transaction-mainnet.safe.global.
func NewHTTPService(baseURL string, signer Signer, logger *slog.Logger) *HTTPService {
	return &HTTPService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("module", "safe_service"),
	}
}

type safeInfo struct {
	Address   string   `json:"address"`
	Nonce     uint64   `json:"nonce"`
	Threshold int      `json:"threshold"`
	Owners    []string `json:"owners"`
}

type proposeBody struct {
	To                      string    `json:"to"`
	Value                   string    `json:"value"`
	Data                    string    `json:"data"`
	Operation               Operation `json:"operation"`
	SafeTxGas               string    `json:"safeTxGas"`
	BaseGas                 string    `json:"baseGas"`
	GasPrice                string    `json:"gasPrice"`
	GasToken                string    `json:"gasToken"`
	RefundReceiver          string    `json:"refundReceiver"`
	Nonce                   uint64    `json:"nonce"`
	ContractTransactionHash string    `json:"contractTransactionHash"`
	Sender                  string    `json:"sender"`
	Signature               string    `json:"signature"`
	Origin                  string    `json:"origin,omitempty"`
}

// Propose signs the transaction with the current wallet nonce and submits it.
func (s *HTTPService) Propose(ctx context.Context, proposal Proposal) (string, error) {
	info, err := s.safe(ctx, proposal.SafeAddress)
	if err != nil {
		return "", err
	}

	tx := proposal.Transaction
	tx.Nonce = info.Nonce

	if tx.Data == "" {
		tx.Data = "0x"
	}

	hash, signature, err := s.signer.Sign(ctx, proposal.SafeAddress, tx)
	if err != nil {
		return "", fmt.Errorf("failed to sign safe transaction: %w", err)
	}

	body := proposeBody{
		To:                      tx.To,
		Value:                   tx.Value,
		Data:                    tx.Data,
		Operation:               tx.Operation,
		SafeTxGas:               "0",
		BaseGas:                 "0",
		GasPrice:                "0",
		GasToken:                zeroAddress,
		RefundReceiver:          zeroAddress,
		Nonce:                   tx.Nonce,
		ContractTransactionHash: hash,
		Sender:                  s.signer.Address(),
		Signature:               signature,
		Origin:                  proposal.Origin,
	}

	err = s.do(ctx, http.MethodPost, "/api/v1/safes/"+proposal.SafeAddress+"/multisig-transactions/", body, nil)
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "Proposed safe transaction", "safe_address", proposal.SafeAddress, "safe_tx_hash", hash)

	return hash, nil
}

// Transaction reads a proposed transaction with its confirmations.
func (s *HTTPService) Transaction(ctx context.Context, safeTxHash string) (*Transaction, error) {
	var tx Transaction

	err := s.do(ctx, http.MethodGet, "/api/v1/multisig-transactions/"+safeTxHash+"/", nil, &tx)
	if err != nil {
		return nil, err
	}

	if tx.SafeTxHash == "" {
		tx.SafeTxHash = safeTxHash
	}

	return &tx, nil
}

// Threshold returns the number of owner signatures the wallet requires.
func (s *HTTPService) Threshold(ctx context.Context, safeAddress string) (int, error) {
	info, err := s.safe(ctx, safeAddress)
	if err != nil {
		return 0, err
	}

	return info.Threshold, nil
}

// Execute hands the confirmed transaction to the signer for submission.
func (s *HTTPService) Execute(ctx context.Context, safeTxHash string) (string, error) {
	tx, err := s.Transaction(ctx, safeTxHash)
	if err != nil {
		return "", err
	}

	if tx.IsExecuted {
		return "", ErrAlreadyExecuted
	}

	receipt, err := s.signer.Submit(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to submit safe transaction %s: %w", safeTxHash, err)
	}

	return receipt, nil
}

func (s *HTTPService) safe(ctx context.Context, address string) (*safeInfo, error) {
	var info safeInfo

	err := s.do(ctx, http.MethodGet, "/api/v1/safes/"+address+"/", nil, &info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

func (s *HTTPService) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("safe service request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to decode safe service response for %s", path), err)
	}

	return nil
}
