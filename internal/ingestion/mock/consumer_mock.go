package mock

import (
	"github.com/stretchr/testify/mock"
	"gitlab.com/voxline/api/voxline-call-directory/internal/ingestion"
)

// ConsumerMock is a mock implementation of the ingestion.ConsumerInterface
type ConsumerMock struct {
	mock.Mock
}

// Ensure ConsumerMock implements ConsumerInterface
var _ ingestion.ConsumerInterface = (*ConsumerMock)(nil)

// Setup mocks the Setup method
func (m *ConsumerMock) Setup() error {
	args := m.Called()
	return args.Error(0)
}

// Start mocks the Start method
func (m *ConsumerMock) Start() error {
	args := m.Called()
	return args.Error(0)
}

// Stop mocks the Stop method
func (m *ConsumerMock) Stop() {
	m.Called()
}
