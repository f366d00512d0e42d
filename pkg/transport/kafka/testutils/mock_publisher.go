package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

// MockPublisher is a mock transport.Publisher that also reports errors like the Kafka
// producer does.
type MockPublisher struct {
	mock.Mock

	ErrCh chan error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{ErrCh: make(chan error, 1)}
}

// Publish mocks the Publish method
func (m *MockPublisher) Publish(ctx context.Context, msg transport.Msg) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockPublisher) Errors() <-chan error {
	return m.ErrCh
}

func (m *MockPublisher) Close(ctx context.Context) {
	m.Called(ctx)
}
