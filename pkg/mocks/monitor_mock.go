package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockMonitor is a mock implementation of engine.Monitor interface.
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Start(ctx context.Context, interval time.Duration) {
	m.Called(ctx, interval)
}

func (m *MockMonitor) Stop() {
	m.Called()
}

func (m *MockMonitor) Wait() {
	m.Called()
}

func (m *MockMonitor) Abort() {
	m.Called()
}

func (m *MockMonitor) Running() bool {
	return m.Called().Bool(0)
}
