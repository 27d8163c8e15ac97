package usecase

import (
	"context"
	"fmt"

	"gitlab.com/voxline/api/voxline-call-directory/internal/config"
	"gitlab.com/voxline/api/voxline-call-directory/internal/ingestion"
	"gitlab.com/voxline/api/voxline-call-directory/internal/jetstream"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"go.uber.org/zap"
)

// Processor orchestrates event processing
type Processor struct {
	service            *CallEventService
	jsClient           jetstream.ClientInterface
	realtimeConsumer   *ingestion.RealtimeConsumer
	historicalConsumer *ingestion.HistoricalConsumer
	eventRouter        ingestion.RouterInterface
}

// NewProcessor creates a new processor with all components wired up
// Accepts the main config object to access NATS settings
func NewProcessor(service *CallEventService, jsClient jetstream.ClientInterface, cfg *config.Config, profileID string) *Processor {
	// Create the event router (shared by both consumers)
	router := ingestion.NewRouter()

	// Create specific consumers using dedicated config from the main cfg object
	// Append profileID to consumer names for uniqueness
	realtimeCfg := cfg.NATS.Realtime
	realtimeCfg.Consumer = realtimeCfg.Consumer + profileID
	realtimeCfg.QueueGroup = realtimeCfg.QueueGroup + profileID
	// Pass DLQ subject from main config
	realtimeConsumer := ingestion.NewRealtimeConsumer(jsClient, router, realtimeCfg, profileID, cfg.NATS.DLQSubject)

	historicalCfg := cfg.NATS.Historical
	historicalCfg.Consumer = historicalCfg.Consumer + profileID
	historicalCfg.QueueGroup = historicalCfg.QueueGroup + profileID
	// Pass DLQ subject from main config
	historicalConsumer := ingestion.NewHistoricalConsumer(jsClient, router, historicalCfg, profileID, cfg.NATS.DLQSubject)

	return &Processor{
		service:            service,
		jsClient:           jsClient,
		realtimeConsumer:   realtimeConsumer,
		historicalConsumer: historicalConsumer,
		eventRouter:        router,
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup sets up the processor by registering handlers and setting up both consumers
func (p *Processor) Setup() error {
	// Register realtime call event handlers
	p.eventRouter.Register(model.V1CallEnded, p.service.HandleRealtimeCallEvent)
	p.eventRouter.Register(model.V1CallMissed, p.service.HandleRealtimeCallEvent)
	p.eventRouter.Register(model.V1CallRejected, p.service.HandleRealtimeCallEvent)

	// Register the backfill handler
	p.eventRouter.Register(model.V1HistoricalCalls, p.service.HandleHistoricalCalls)

	// Default handler for unknown event types, we can use this as dlq or for logging
	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("version", eventType.GetVersion()),
			zap.String("base_type", string(eventType.GetBaseType())),
		)
		return nil
	})

	// Setup both consumers
	if err := p.realtimeConsumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup realtime consumer: %w", err)
	}
	if err := p.historicalConsumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup historical consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete for both consumers")
	return nil
}

// Start starts the processor by starting both consumers
func (p *Processor) Start() error {
	logger.Log.Info("Starting event processor with both consumers...")

	// Add panic recovery for the entire processor start sequence
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	// Start both consumers
	if err := p.realtimeConsumer.Start(); err != nil {
		p.historicalConsumer.Stop() // Stop historical if realtime failed
		return fmt.Errorf("failed to start realtime consumer: %w", err)
	}
	if err := p.historicalConsumer.Start(); err != nil {
		// If historical fails, stop the already started realtime consumer
		p.realtimeConsumer.Stop()
		return fmt.Errorf("failed to start historical consumer: %w", err)
	}

	logger.Log.Info("Both consumers started successfully")
	return nil
}

// Stop stops the processor by stopping both consumers
func (p *Processor) Stop() {
	logger.Log.Info("Stopping event processor and both consumers...")
	p.historicalConsumer.Stop() // Stop historical first
	p.realtimeConsumer.Stop()   // Then stop realtime
	logger.Log.Info("Both consumers stopped")
}
