package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/voxline/api/voxline-call-directory/internal/ingestion"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
)

// RouterMock is a mock implementation of the ingestion.RouterInterface
type RouterMock struct {
	mock.Mock
}

// Ensure RouterMock implements RouterInterface
var _ ingestion.RouterInterface = (*RouterMock)(nil)

// Register mocks the Register method
func (m *RouterMock) Register(eventType model.EventType, handler ingestion.EventHandler) {
	m.Called(eventType, handler)
}

// RegisterDefault mocks the RegisterDefault method
func (m *RouterMock) RegisterDefault(handler ingestion.EventHandler) {
	m.Called(handler)
}

// Route mocks the Route method
func (m *RouterMock) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	args := m.Called(ctx, metadata, rawEvent)
	return args.Error(0)
}
