package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-client/internal/keycodec"
	"github.com/tinywideclouds/go-push-client/internal/keys"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// DefaultMaxRetries bounds how often a transient bridge failure is retried
// before it surfaces to the caller. Retries come on top of the initial call,
// so the default allows four attempts in total.
const DefaultMaxRetries = 3

// Service owns the device-identifier lifecycle and the remote half of channel
// registration. It depends on the Store for persistence and an injected
// Connection for the network.
type Service struct {
	store      push.Store
	conn       push.Connection
	generator  *keys.Generator
	maxRetries uint64
	initialGap time.Duration
	logger     *slog.Logger
}

func NewService(store push.Store, conn push.Connection, generator *keys.Generator, maxRetries uint64, logger *slog.Logger) *Service {
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{
		store:      store,
		conn:       conn,
		generator:  generator,
		maxRetries: maxRetries,
		initialGap: 500 * time.Millisecond,
		logger:     logger.With("component", "RegistrationService"),
	}
}

// EnsureDevice guarantees a current device record for the given bridge
// identity. A missing record triggers a fresh registration; a record with a
// stale bridge token is updated remotely and re-persisted; a changed bridge
// type is a full rotation because the bridge cannot migrate channels between
// delivery paths.
func (s *Service) EnsureDevice(ctx context.Context, bridgeType push.BridgeType, bridgeToken string) (*push.DeviceRecord, error) {
	rec, err := s.store.GetDeviceRecord(ctx)
	switch {
	case errors.Is(err, push.ErrNoDeviceRecord):
		return s.registerNew(ctx, bridgeType, bridgeToken)
	case err != nil:
		return nil, err
	}

	if rec.BridgeType != bridgeType {
		s.logger.Warn("Bridge type changed, rotating device identifier",
			"old", rec.BridgeType, "new", bridgeType)
		return s.Rotate(ctx, bridgeType, bridgeToken)
	}

	if rec.BridgeToken == bridgeToken {
		return rec, nil
	}

	err = s.retry(ctx, "update_token", func() error {
		return s.conn.UpdateToken(ctx, rec.UAID, rec.AuthToken, bridgeToken)
	})
	if errors.Is(err, push.ErrUAIDGone) {
		return s.Rotate(ctx, bridgeType, bridgeToken)
	}
	if err != nil {
		return nil, err
	}

	rec.BridgeToken = bridgeToken
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.SetDeviceRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RegisterChannel creates key material, asks the bridge for a delivery
// endpoint and returns the fully populated channel for the caller to persist.
func (s *Service) RegisterChannel(ctx context.Context, rec *push.DeviceRecord, scope string, appServerKey *string) (*push.Channel, error) {
	priv, pub, err := s.generator.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	authSecret, err := s.generator.GenerateAuthSecret()
	if err != nil {
		return nil, err
	}
	blob, err := keycodec.Encode(keycodec.KeyMaterial{
		PrivateKey: priv.Bytes(),
		PublicKey:  pub,
		AuthSecret: authSecret,
	})
	if err != nil {
		return nil, err
	}

	channelID := uuid.NewString()
	var endpoint string
	err = s.retry(ctx, "subscribe_channel", func() error {
		var subErr error
		endpoint, subErr = s.conn.SubscribeChannel(ctx, rec.UAID, rec.AuthToken, channelID, appServerKey)
		return subErr
	})
	if err != nil {
		return nil, err
	}

	return &push.Channel{
		ChannelID:    channelID,
		Scope:        scope,
		Endpoint:     endpoint,
		PublicKey:    pub,
		PrivateKey:   blob,
		AuthSecret:   authSecret,
		AppServerKey: appServerKey,
		BridgeType:   rec.BridgeType,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// UnregisterChannel removes the channel on the bridge. Failures are returned
// for logging but the caller is expected to delete locally regardless.
func (s *Service) UnregisterChannel(ctx context.Context, rec *push.DeviceRecord, channelID string) error {
	return s.retry(ctx, "unsubscribe_channel", func() error {
		return s.conn.UnsubscribeChannel(ctx, rec.UAID, rec.AuthToken, channelID)
	})
}

// UnregisterDevice drops the whole registration on the bridge.
func (s *Service) UnregisterDevice(ctx context.Context, rec *push.DeviceRecord) error {
	return s.retry(ctx, "unregister_device", func() error {
		return s.conn.UnregisterDevice(ctx, rec.UAID, rec.AuthToken)
	})
}

// ChannelList fetches the bridge's view of this device's channels.
func (s *Service) ChannelList(ctx context.Context, rec *push.DeviceRecord) ([]string, error) {
	var channels []string
	err := s.retry(ctx, "channel_list", func() error {
		var listErr error
		channels, listErr = s.conn.ChannelList(ctx, rec.UAID, rec.AuthToken)
		return listErr
	})
	return channels, err
}

// Rotate registers a brand-new device identifier and installs it atomically,
// discarding every existing channel. Invoked when the bridge signals the
// current identifier is gone.
func (s *Service) Rotate(ctx context.Context, bridgeType push.BridgeType, bridgeToken string) (*push.DeviceRecord, error) {
	s.logger.Info("Rotating device identifier", "bridge_type", bridgeType)
	return s.registerNew(ctx, bridgeType, bridgeToken)
}

func (s *Service) registerNew(ctx context.Context, bridgeType push.BridgeType, bridgeToken string) (*push.DeviceRecord, error) {
	if bridgeToken == "" {
		return nil, push.ErrMissingBridgeToken
	}
	var resp *push.RegisterResponse
	err := s.retry(ctx, "register_device", func() error {
		var regErr error
		resp, regErr = s.conn.RegisterDevice(ctx, bridgeType, bridgeToken)
		return regErr
	})
	if err != nil {
		return nil, err
	}

	rec := &push.DeviceRecord{
		UAID:        resp.UAID,
		AuthToken:   resp.AuthToken,
		BridgeType:  bridgeType,
		BridgeToken: bridgeToken,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.ReplaceDeviceRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// retry runs op with bounded exponential backoff. Only failures the
// connection marked temporary are retried; ErrUAIDGone and permanent
// rejections surface on the first attempt.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialGap
	bo.MaxElapsedTime = 0 // attempt count is the bound, not wall time

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		var commErr *push.CommunicationError
		if errors.As(err, &commErr) && commErr.Temporary() {
			s.logger.Warn("Transient bridge failure, will retry",
				"op", op, "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
}
