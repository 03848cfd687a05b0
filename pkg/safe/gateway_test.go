package safe_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/shiftflow/pkg/mocks"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/safe"
	"github.com/dukex/shiftflow/pkg/swap"
	"github.com/dukex/shiftflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const safeAddress = "0x5afe000000000000000000000000000000000001"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newGateway(provider *mocks.MockSwapProvider, service *mocks.MockSafeService) *safe.Gateway {
	orchestrator := swap.NewOrchestrator(provider, swap.Config{}, nil, newTestLogger())

	return safe.NewGateway(orchestrator, service, nil, newTestLogger())
}

func confirmations(n int) []safe.Confirmation {
	list := make([]safe.Confirmation, n)
	for i := range list {
		list[i] = safe.Confirmation{Owner: "0xowner", SubmittedAt: time.Now()}
	}

	return list
}

func TestGateway_Propose(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockSwapProvider{}
	provider.On("RequestQuote", mock.Anything, mock.Anything).Return(&models.Quote{ID: "quote-1"}, nil)
	provider.On("CreateFixedShift", mock.Anything, mock.Anything).
		Return(&models.Shift{ID: "shift-1", DepositAddress: "0xdeposit", Status: models.ShiftStatusWaiting}, nil)

	service := &mocks.MockSafeService{}
	service.On("Propose", mock.Anything, mock.MatchedBy(func(p safe.Proposal) bool {
		return p.SafeAddress == safeAddress &&
			p.Transaction.To == "0xdeposit" &&
			p.Transaction.Value == "10000000000000000" &&
			p.Transaction.Data == "0x"
	})).Return("0xsafetx", nil)
	service.On("Threshold", mock.Anything, safeAddress).Return(2, nil)

	execution := models.NewExecution("wf-1", time.Now())
	execution.Start()

	proposal, err := newGateway(provider, service).
		Propose(context.Background(), safeAddress, testutil.CreateTestSwap(), execution, nil)
	require.NoError(t, err)

	assert.Equal(t, "0xsafetx", proposal.SafeTxHash)
	assert.Equal(t, 2, proposal.Threshold)
	assert.Equal(t, 1, proposal.Confirmations)
	assert.False(t, proposal.CanExecute())

	require.Len(t, execution.Steps, 3)
	step := execution.Steps[2]
	assert.Equal(t, models.StepSafePropose, step.Kind)
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.Equal(t, "0xsafetx", step.Data["safe_tx_hash"])
	assert.Equal(t, 2, step.Data["threshold"])
	assert.Equal(t, 1, step.Data["confirmations"])

	provider.AssertNotCalled(t, "Shift", mock.Anything, mock.Anything)
	service.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestGateway_Propose_ServiceFailure(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockSwapProvider{}
	provider.On("RequestQuote", mock.Anything, mock.Anything).Return(&models.Quote{ID: "quote-1"}, nil)
	provider.On("CreateFixedShift", mock.Anything, mock.Anything).
		Return(&models.Shift{ID: "shift-1", DepositAddress: "0xdeposit"}, nil)

	service := &mocks.MockSafeService{}
	service.On("Propose", mock.Anything, mock.Anything).Return("", errors.New("service unavailable"))

	execution := models.NewExecution("wf-1", time.Now())
	execution.Start()

	_, err := newGateway(provider, service).
		Propose(context.Background(), safeAddress, testutil.CreateTestSwap(), execution, nil)
	require.Error(t, err)

	require.Len(t, execution.Steps, 3)
	assert.Equal(t, models.StepStatusFailed, execution.Steps[2].Status)
	assert.Equal(t, "shift-1", execution.Steps[2].Data["shift_id"])
}

func TestGateway_Propose_ThresholdUnavailable(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockSwapProvider{}
	provider.On("RequestQuote", mock.Anything, mock.Anything).Return(&models.Quote{ID: "quote-1"}, nil)
	provider.On("CreateFixedShift", mock.Anything, mock.Anything).
		Return(&models.Shift{ID: "shift-1", DepositAddress: "0xdeposit", Status: models.ShiftStatusWaiting}, nil)

	service := &mocks.MockSafeService{}
	service.On("Propose", mock.Anything, mock.Anything).Return("0xsafetx", nil).Once()
	service.On("Threshold", mock.Anything, safeAddress).Return(0, errors.New("service unavailable"))

	execution := models.NewExecution("wf-1", time.Now())
	execution.Start()

	proposal, err := newGateway(provider, service).
		Propose(context.Background(), safeAddress, testutil.CreateTestSwap(), execution, nil)
	require.NoError(t, err)

	assert.Equal(t, "0xsafetx", proposal.SafeTxHash)
	assert.Zero(t, proposal.Threshold)
	assert.Equal(t, 1, proposal.Confirmations)
	assert.False(t, proposal.CanExecute())

	require.Len(t, execution.Steps, 3)
	step := execution.Steps[2]
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.Equal(t, "0xsafetx", step.Data["safe_tx_hash"])
	assert.NotContains(t, step.Data, "threshold")
	assert.Empty(t, step.Error)

	service.AssertExpectations(t)
}

func TestGateway_ExecuteTransaction_InsufficientConfirmations(t *testing.T) {
	t.Parallel()

	service := &mocks.MockSafeService{}
	service.On("Transaction", mock.Anything, "0xsafetx").
		Return(&safe.Transaction{SafeTxHash: "0xsafetx", SafeAddress: safeAddress, Confirmations: confirmations(1)}, nil)
	service.On("Threshold", mock.Anything, safeAddress).Return(2, nil)

	_, err := newGateway(&mocks.MockSwapProvider{}, service).ExecuteTransaction(context.Background(), "0xsafetx")
	require.Error(t, err)

	assert.Equal(t, "insufficient confirmations: 1/2", err.Error())
	assert.ErrorIs(t, err, safe.ErrInsufficientConfirmations)
	assert.True(t, safe.IsInsufficientConfirmations(err))

	var confErr *safe.InsufficientConfirmationsError

	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, 1, confErr.Confirmations)
	assert.Equal(t, 2, confErr.Threshold)

	service.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestGateway_ExecuteTransaction(t *testing.T) {
	t.Parallel()

	service := &mocks.MockSafeService{}
	service.On("Transaction", mock.Anything, "0xsafetx").
		Return(&safe.Transaction{SafeTxHash: "0xsafetx", SafeAddress: safeAddress, Confirmations: confirmations(2)}, nil)
	service.On("Threshold", mock.Anything, safeAddress).Return(2, nil)
	service.On("Execute", mock.Anything, "0xsafetx").Return("0xreceipt", nil).Once()

	receipt, err := newGateway(&mocks.MockSwapProvider{}, service).ExecuteTransaction(context.Background(), "0xsafetx")
	require.NoError(t, err)
	assert.Equal(t, "0xreceipt", receipt)
	service.AssertExpectations(t)
}

func TestGateway_ExecuteTransaction_AlreadyExecuted(t *testing.T) {
	t.Parallel()

	service := &mocks.MockSafeService{}
	service.On("Transaction", mock.Anything, "0xsafetx").
		Return(&safe.Transaction{SafeAddress: safeAddress, Confirmations: confirmations(2), IsExecuted: true}, nil)
	service.On("Threshold", mock.Anything, safeAddress).Return(2, nil)

	_, err := newGateway(&mocks.MockSwapProvider{}, service).ExecuteTransaction(context.Background(), "0xsafetx")
	require.ErrorIs(t, err, safe.ErrAlreadyExecuted)
	service.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestGateway_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		confirmed  int
		executed   bool
		canExecute bool
	}{
		{name: "pending", confirmed: 1, canExecute: false},
		{name: "ready", confirmed: 2, canExecute: true},
		{name: "over threshold", confirmed: 3, canExecute: true},
		{name: "executed", confirmed: 2, executed: true, canExecute: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service := &mocks.MockSafeService{}
			service.On("Transaction", mock.Anything, "0xsafetx").Return(&safe.Transaction{
				SafeAddress:   safeAddress,
				Confirmations: confirmations(tt.confirmed),
				IsExecuted:    tt.executed,
			}, nil)
			service.On("Threshold", mock.Anything, safeAddress).Return(2, nil)

			status, err := newGateway(&mocks.MockSwapProvider{}, service).Status(context.Background(), "0xsafetx")
			require.NoError(t, err)

			assert.Equal(t, tt.confirmed, status.Confirmations)
			assert.Equal(t, 2, status.Threshold)
			assert.Equal(t, tt.executed, status.IsExecuted)
			assert.Equal(t, tt.canExecute, status.CanExecute)
		})
	}
}

func TestToWei(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount  string
		want    string
		wantErr bool
	}{
		{amount: "0.01", want: "10000000000000000"},
		{amount: "1", want: "1000000000000000000"},
		{amount: "1.5", want: "1500000000000000000"},
		{amount: "0.000000000000000001", want: "1"},
		{amount: "0.0000000000000000001", wantErr: true},
		{amount: "-1", wantErr: true},
		{amount: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			t.Parallel()

			got, err := safe.ToWei(tt.amount)
			if tt.wantErr {
				require.ErrorIs(t, err, safe.ErrInvalidAmount)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
