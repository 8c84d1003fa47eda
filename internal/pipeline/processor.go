package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Decryptor is the slice of the push manager the processor needs.
type Decryptor interface {
	Decrypt(ctx context.Context, channelID string, payload []byte, encoding push.Encoding, headers push.Headers) (*push.DecryptedMessage, error)
}

// MessageHandler receives each successfully decrypted message. A returned
// error marks the original message retryable.
type MessageHandler func(ctx context.Context, msg *push.DecryptedMessage) error

// NewProcessor creates the logic that decrypts each inbound message and hands
// the plaintext to the application handler.
//
// Two failure classes are terminal and acked rather than retried: an unknown
// channel (a message can arrive after a local unsubscribe) and a decryption
// failure (redelivery cannot fix bad ciphertext or mismatched keys). Storage
// and handler errors are returned so the stream redelivers.
func NewProcessor(
	decryptor Decryptor,
	handler MessageHandler,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[InboundMessage] {

	return func(ctx context.Context, original messagepipeline.Message, inbound *InboundMessage) error {
		procLogger := logger.With(
			"channel_id", inbound.ChannelID,
			"pubsub_msg_id", original.ID,
		)

		decrypted, err := decryptor.Decrypt(ctx, inbound.ChannelID, inbound.Payload, inbound.Encoding, inbound.Headers)
		switch {
		case errors.Is(err, push.ErrUnknownChannel):
			procLogger.Info("Message for unknown channel; dropping.")
			return nil
		case errors.Is(err, push.ErrDecryptionFailed):
			procLogger.Warn("Message failed decryption; dropping.")
			return nil
		case err != nil:
			procLogger.Error("Channel lookup failed", "err", err)
			return err // Retryable
		}

		if err := handler(ctx, decrypted); err != nil {
			procLogger.Error("Handler rejected message", "err", err)
			return err // Retryable
		}
		return nil
	}
}
