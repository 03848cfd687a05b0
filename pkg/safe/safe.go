// Package safe routes swap deposits through a multi-signature wallet that needs N-of-M owner approvals.
package safe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	ErrInsufficientConfirmations = errors.New("insufficient confirmations")
	ErrAlreadyExecuted           = errors.New("safe transaction already executed")
	ErrTransactionNotFound       = errors.New("safe transaction not found")
	ErrInvalidAmount             = errors.New("invalid amount")
)

// InsufficientConfirmationsError is returned when a transaction is executed before enough owners
// confirmed it. It is an expected outcome, not a failure of the service.
type InsufficientConfirmationsError struct {
	Confirmations int
	Threshold     int
}

func (e *InsufficientConfirmationsError) Error() string {
	return fmt.Sprintf("insufficient confirmations: %d/%d", e.Confirmations, e.Threshold)
}

func (e *InsufficientConfirmationsError) Is(target error) bool {
	return target == ErrInsufficientConfirmations
}

// IsInsufficientConfirmations reports whether err means the threshold is not met yet.
func IsInsufficientConfirmations(err error) bool {
	return errors.Is(err, ErrInsufficientConfirmations)
}

// Operation is the Safe call type.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

// TransactionData is the payload executed by the wallet.
type TransactionData struct {
	To        string    `json:"to"`
	Value     string    `json:"value"`
	Data      string    `json:"data"`
	Operation Operation `json:"operation"`
	Nonce     uint64    `json:"nonce"`
}

// Proposal is a transaction submitted for owner approval.
type Proposal struct {
	SafeAddress string
	Transaction TransactionData
	Origin      string
}

// Confirmation is one owner's signature on a transaction.
type Confirmation struct {
	Owner       string    `json:"owner"`
	Signature   string    `json:"signature"`
	SubmittedAt time.Time `json:"submissionDate"`
}

// Transaction is a proposed transaction as reported by the multi-sig service.
type Transaction struct {
	SafeTxHash            string         `json:"safeTxHash"`
	SafeAddress           string         `json:"safe"`
	To                    string         `json:"to"`
	Value                 string         `json:"value"`
	Data                  string         `json:"data"`
	Operation             Operation      `json:"operation"`
	Nonce                 uint64         `json:"nonce"`
	ConfirmationsRequired int            `json:"confirmationsRequired"`
	Confirmations         []Confirmation `json:"confirmations"`
	IsExecuted            bool           `json:"isExecuted"`
	TransactionHash       string         `json:"transactionHash,omitempty"`
}

// Service is the multi-sig wallet backend.
type Service interface {
	// Propose submits a transaction signed by the configured owner and returns its hash.
	Propose(ctx context.Context, proposal Proposal) (string, error)
	Transaction(ctx context.Context, safeTxHash string) (*Transaction, error)
	Threshold(ctx context.Context, safeAddress string) (int, error)
	// Execute submits a confirmed transaction on-chain and returns the receipt hash.
	Execute(ctx context.Context, safeTxHash string) (string, error)
}

// Signer holds the owner key. It hashes and signs proposals and broadcasts confirmed transactions;
// the engine itself never sees key material.
type Signer interface {
	Address() string
	Sign(ctx context.Context, safeAddress string, tx TransactionData) (safeTxHash string, signature string, err error)
	Submit(ctx context.Context, tx *Transaction) (string, error)
}

// Status summarises the approval state of a transaction.
type Status struct {
	SafeTxHash    string `json:"safe_tx_hash"`
	Confirmations int    `json:"confirmations"`
	Threshold     int    `json:"threshold"`
	IsExecuted    bool   `json:"is_executed"`
	CanExecute    bool   `json:"can_execute"`
}

var weiPerEther = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// ToWei converts a decimal ether amount to its integer wei string.
func ToWei(amount string) (string, error) {
	value, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	value.Mul(value, weiPerEther)

	if !value.IsInt() {
		return "", fmt.Errorf("%w: %q has more than 18 decimals", ErrInvalidAmount, amount)
	}

	return value.Num().String(), nil
}
