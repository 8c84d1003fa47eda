package pushclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-client/internal/pipeline"
	"github.com/tinywideclouds/go-push-client/pushclient/config"
)

// Stream pumps inbound push envelopes from a message consumer through the
// decryption processor and into the application handler.
type Stream struct {
	pipelineService *messagepipeline.StreamingService[pipeline.InboundMessage]
	logger          *slog.Logger
}

// NewStream assembles the inbound pipeline around the manager's decryptor.
func NewStream(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	mgr *Manager,
	handler pipeline.MessageHandler,
	logger *slog.Logger,
) (*Stream, error) {
	processor := pipeline.NewProcessor(mgr, handler, logger)

	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.EnvelopeTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	return &Stream{
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (s *Stream) Start(ctx context.Context) error {
	s.logger.Info("Inbound push pipeline starting...")
	if err := s.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	return nil
}

func (s *Stream) Stop(ctx context.Context) error {
	s.logger.Info("Inbound push pipeline stopping...")
	return s.pipelineService.Stop(ctx)
}
