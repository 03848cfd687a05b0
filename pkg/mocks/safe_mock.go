package mocks

import (
	"context"

	"github.com/dukex/shiftflow/pkg/safe"
	"github.com/stretchr/testify/mock"
)

// MockSafeService is a mock implementation of safe.Service interface.
type MockSafeService struct {
	mock.Mock
}

func (m *MockSafeService) Propose(ctx context.Context, proposal safe.Proposal) (string, error) {
	args := m.Called(ctx, proposal)

	return args.String(0), args.Error(1)
}

func (m *MockSafeService) Transaction(ctx context.Context, safeTxHash string) (*safe.Transaction, error) {
	args := m.Called(ctx, safeTxHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*safe.Transaction), args.Error(1)
}

func (m *MockSafeService) Threshold(ctx context.Context, safeAddress string) (int, error) {
	args := m.Called(ctx, safeAddress)

	return args.Int(0), args.Error(1)
}

func (m *MockSafeService) Execute(ctx context.Context, safeTxHash string) (string, error) {
	args := m.Called(ctx, safeTxHash)

	return args.String(0), args.Error(1)
}

// MockSigner is a mock implementation of safe.Signer interface.
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Address() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockSigner) Sign(ctx context.Context, safeAddress string, tx safe.TransactionData) (string, string, error) {
	args := m.Called(ctx, safeAddress, tx)

	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockSigner) Submit(ctx context.Context, tx *safe.Transaction) (string, error) {
	args := m.Called(ctx, tx)

	return args.String(0), args.Error(1)
}

// MockSafeGateway is a mock of the gateway operations the engine exposes.
type MockSafeGateway struct {
	mock.Mock
}

func (m *MockSafeGateway) ExecuteTransaction(ctx context.Context, safeTxHash string) (string, error) {
	args := m.Called(ctx, safeTxHash)

	return args.String(0), args.Error(1)
}

func (m *MockSafeGateway) Status(ctx context.Context, safeTxHash string) (*safe.Status, error) {
	args := m.Called(ctx, safeTxHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*safe.Status), args.Error(1)
}
