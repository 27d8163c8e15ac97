package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gitlab.com/voxline/api/voxline-call-directory/internal/config"
	ingestionmock "gitlab.com/voxline/api/voxline-call-directory/internal/ingestion/mock"
	jsmock "gitlab.com/voxline/api/voxline-call-directory/internal/jetstream/mock"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"go.uber.org/zap/zaptest"
)

// createDummyConfig creates a minimal config for processor tests
func createDummyConfig(profileID string) *config.Config {
	var cfg config.Config

	cfg.Profile.ID = profileID

	cfg.NATS.Realtime = config.ConsumerNatsConfig{
		Stream:      "rt-stream",
		Consumer:    "rt-consumer-",
		QueueGroup:  "rt-group-",
		SubjectList: []string{"v1.calls.ended", "v1.calls.missed", "v1.calls.rejected"},
	}
	cfg.NATS.Historical = config.ConsumerNatsConfig{
		Stream:      "hist-stream",
		Consumer:    "hist-consumer-",
		QueueGroup:  "hist-group-",
		SubjectList: []string{"v1.history.calls"},
	}

	return &cfg
}

func TestNewProcessor(t *testing.T) {
	// Setup logger for this test
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestNewProcessor")
	defer func() { logger.Log = originalLogger }()

	// Create mock dependencies
	mockService := &CallEventService{}
	mockJSClient := new(jsmock.ClientMock)
	profileID := "test-profile"
	dummyCfg := createDummyConfig(profileID)

	// Create the processor
	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)

	// Assertions
	assert.NotNil(t, processor)
	assert.Equal(t, mockService, processor.service)
	assert.Equal(t, mockJSClient, processor.jsClient)
	assert.NotNil(t, processor.realtimeConsumer)
	assert.NotNil(t, processor.historicalConsumer)
	assert.NotNil(t, processor.eventRouter)
}

func TestProcessor_Setup(t *testing.T) {
	// Setup logger for this test
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestProcessor_Setup")
	defer func() { logger.Log = originalLogger }()

	mockJSClient := new(jsmock.ClientMock)
	mockRouter := new(ingestionmock.RouterMock)
	profileID := "setup-test"
	dummyCfg := createDummyConfig(profileID)
	mockService := &CallEventService{}

	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)
	// Override router with a mock for expectation setting
	processor.eventRouter = mockRouter

	// Set up expectations for router registrations
	mockRouter.On("Register", model.V1CallEnded, mock.Anything).Return()
	mockRouter.On("Register", model.V1CallMissed, mock.Anything).Return()
	mockRouter.On("Register", model.V1CallRejected, mock.Anything).Return()
	mockRouter.On("Register", model.V1HistoricalCalls, mock.Anything).Return()
	mockRouter.On("RegisterDefault", mock.Anything).Return()

	// Set up expectations for the MOCKED JS CLIENT calls made by the REAL consumers' Setup methods
	// Realtime Consumer Setup Expectations
	mockJSClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil).Once()
	mockJSClient.On("SetupConsumer", mock.Anything, dummyCfg.NATS.Realtime.Stream, mock.AnythingOfType("*nats.ConsumerConfig")).Return(nil).Once()

	// Historical Consumer Setup Expectations
	mockJSClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil).Once()
	mockJSClient.On("SetupConsumer", mock.Anything, dummyCfg.NATS.Historical.Stream, mock.AnythingOfType("*nats.ConsumerConfig")).Return(nil).Once()

	// Call method under test
	err := processor.Setup()

	// Assertions
	assert.NoError(t, err)
	mockRouter.AssertExpectations(t)
	mockJSClient.AssertExpectations(t)
}

func TestProcessor_Setup_RealtimeError(t *testing.T) {
	// Setup logger for this test
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestProcessor_Setup_RealtimeError")
	defer func() { logger.Log = originalLogger }()

	mockJSClient := new(jsmock.ClientMock)
	mockRouter := new(ingestionmock.RouterMock)
	profileID := "setup-rt-err"
	dummyCfg := createDummyConfig(profileID)
	mockService := &CallEventService{}

	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)
	processor.eventRouter = mockRouter

	mockRouter.On("Register", mock.Anything, mock.Anything).Return().Times(4)
	mockRouter.On("RegisterDefault", mock.Anything).Return()

	// Mock realtime stream setup failure
	expectedErr := errors.New("realtime stream setup failed")
	mockJSClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(expectedErr).Once()
	// Do NOT expect realtime consumer setup or any historical setup
	mockJSClient.On("SetupConsumer", mock.Anything, mock.Anything, mock.Anything).Maybe()

	err := processor.Setup()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.Contains(t, err.Error(), "failed to setup realtime consumer") // Error comes from the consumer's Setup method
	mockRouter.AssertExpectations(t)
	mockJSClient.AssertExpectations(t)
}

func TestProcessor_Setup_HistoricalError(t *testing.T) {
	// Setup logger for this test
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestProcessor_Setup_HistoricalError")
	defer func() { logger.Log = originalLogger }()

	mockJSClient := new(jsmock.ClientMock)
	mockRouter := new(ingestionmock.RouterMock)
	profileID := "setup-hist-err"
	dummyCfg := createDummyConfig(profileID)
	mockService := &CallEventService{}

	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)
	processor.eventRouter = mockRouter

	mockRouter.On("Register", mock.Anything, mock.Anything).Return().Times(4)
	mockRouter.On("RegisterDefault", mock.Anything).Return()

	// Mock realtime setup success
	mockJSClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil).Once()
	mockJSClient.On("SetupConsumer", mock.Anything, dummyCfg.NATS.Realtime.Stream, mock.AnythingOfType("*nats.ConsumerConfig")).Return(nil).Once()

	// Mock historical stream setup failure
	expectedErr := errors.New("historical stream setup failed")
	mockJSClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(expectedErr).Once()
	// Do NOT expect historical consumer setup
	mockJSClient.On("SetupConsumer", mock.Anything, dummyCfg.NATS.Historical.Stream, mock.Anything).Maybe()

	err := processor.Setup()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.Contains(t, err.Error(), "failed to setup historical consumer") // Error comes from the consumer's Setup method
	mockRouter.AssertExpectations(t)
	mockJSClient.AssertExpectations(t)
}

func TestProcessor_Start(t *testing.T) {
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestProcessor_Start")
	defer func() { logger.Log = originalLogger }()

	mockJSClient := new(jsmock.ClientMock)
	profileID := "start-test"
	dummyCfg := createDummyConfig(profileID)
	mockService := &CallEventService{}
	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)

	// Set up expectations for SubscribePush on the JS CLIENT mock for both consumers
	mockSubscription := jsmock.MockSubscription()
	// Realtime consumer expected args
	expectedRtConsumerDurable := dummyCfg.NATS.Realtime.Consumer + profileID
	expectedRtQueueGroup := dummyCfg.NATS.Realtime.QueueGroup + profileID
	mockJSClient.On("SubscribePush", "", expectedRtConsumerDurable, expectedRtQueueGroup, mock.Anything, mock.AnythingOfType("nats.MsgHandler")).Return(mockSubscription, nil).Once()

	// Historical consumer expected args
	expectedHistConsumerDurable := dummyCfg.NATS.Historical.Consumer + profileID
	expectedHistQueueGroup := dummyCfg.NATS.Historical.QueueGroup + profileID
	mockJSClient.On("SubscribePush", "", expectedHistConsumerDurable, expectedHistQueueGroup, mock.Anything, mock.AnythingOfType("nats.MsgHandler")).Return(mockSubscription, nil).Once()

	err := processor.Start()

	assert.NoError(t, err)
	mockJSClient.AssertExpectations(t)
}

func TestProcessor_Start_RealtimeError(t *testing.T) {
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestProcessor_Start_RealtimeError")
	defer func() { logger.Log = originalLogger }()

	mockJSClient := new(jsmock.ClientMock)
	profileID := "start-rt-err"
	dummyCfg := createDummyConfig(profileID)
	mockService := &CallEventService{}
	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)

	expectedErr := errors.New("realtime subscribe failed")
	mockSubscription := jsmock.MockSubscription()
	// Realtime consumer expected args
	expectedRtConsumerDurable := dummyCfg.NATS.Realtime.Consumer + profileID
	expectedRtQueueGroup := dummyCfg.NATS.Realtime.QueueGroup + profileID
	mockJSClient.On("SubscribePush", "", expectedRtConsumerDurable, expectedRtQueueGroup, mock.Anything, mock.AnythingOfType("nats.MsgHandler")).Return(mockSubscription, expectedErr).Once()

	err := processor.Start()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.Contains(t, err.Error(), "failed to start realtime consumer")
	mockJSClient.AssertExpectations(t)
	// Verify historical consumer's SubscribePush was NOT called
	expectedHistConsumerDurable := dummyCfg.NATS.Historical.Consumer + profileID
	expectedHistQueueGroup := dummyCfg.NATS.Historical.QueueGroup + profileID
	mockJSClient.AssertNotCalled(t, "SubscribePush", "", expectedHistConsumerDurable, expectedHistQueueGroup, mock.Anything, mock.AnythingOfType("nats.MsgHandler"))
}

func TestProcessor_Start_HistoricalError(t *testing.T) {
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestProcessor_Start_HistoricalError")
	defer func() { logger.Log = originalLogger }()

	mockJSClient := new(jsmock.ClientMock)
	profileID := "start-hist-err"
	dummyCfg := createDummyConfig(profileID)
	mockService := &CallEventService{}
	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)

	expectedErr := errors.New("historical subscribe failed")
	mockSubscription := jsmock.MockSubscription()
	// Realtime consumer starts OK
	expectedRtConsumerDurable := dummyCfg.NATS.Realtime.Consumer + profileID
	expectedRtQueueGroup := dummyCfg.NATS.Realtime.QueueGroup + profileID
	mockJSClient.On("SubscribePush", "", expectedRtConsumerDurable, expectedRtQueueGroup, mock.Anything, mock.AnythingOfType("nats.MsgHandler")).Return(mockSubscription, nil).Once()

	// Historical consumer fails to start
	expectedHistConsumerDurable := dummyCfg.NATS.Historical.Consumer + profileID
	expectedHistQueueGroup := dummyCfg.NATS.Historical.QueueGroup + profileID
	mockJSClient.On("SubscribePush", "", expectedHistConsumerDurable, expectedHistQueueGroup, mock.Anything, mock.AnythingOfType("nats.MsgHandler")).Return(mockSubscription, expectedErr).Once()

	err := processor.Start()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.Contains(t, err.Error(), "failed to start historical consumer")
	mockJSClient.AssertExpectations(t)
}

func TestProcessor_GetRouter(t *testing.T) {
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t).Named("TestProcessor_GetRouter")
	defer func() { logger.Log = originalLogger }()

	mockJSClient := new(jsmock.ClientMock)
	profileID := "router-test"
	dummyCfg := createDummyConfig(profileID)
	mockService := &CallEventService{}
	processor := NewProcessor(mockService, mockJSClient, dummyCfg, profileID)

	assert.Equal(t, processor.eventRouter, processor.GetRouter())
}
