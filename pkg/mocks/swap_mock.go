package mocks

import (
	"context"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockSwapProvider is a mock implementation of swap.Provider interface.
type MockSwapProvider struct {
	mock.Mock
}

func (m *MockSwapProvider) RequestQuote(ctx context.Context, request models.QuoteRequest) (*models.Quote, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Quote), args.Error(1)
}

func (m *MockSwapProvider) CreateFixedShift(ctx context.Context, request models.ShiftRequest) (*models.Shift, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Shift), args.Error(1)
}

func (m *MockSwapProvider) Shift(ctx context.Context, shiftID string) (*models.Shift, error) {
	args := m.Called(ctx, shiftID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Shift), args.Error(1)
}
