package push

import "context"

// Store is the durable mapping from channel identifier to channel record,
// plus the singleton device record. Every method is a single atomic unit;
// implementations must serialise mutations so that a channel can never be
// created under a device record that is concurrently being rotated out.
type Store interface {
	// GetChannel returns ErrChannelNotFound when the identifier is absent.
	GetChannel(ctx context.Context, channelID string) (*Channel, error)

	// PutChannel persists a new channel. Returns ErrDuplicateChannel when
	// the identifier already exists.
	PutChannel(ctx context.Context, ch *Channel) error

	// DeleteChannel removes a channel, reporting whether it existed.
	DeleteChannel(ctx context.Context, channelID string) (bool, error)

	// ListChannels returns channels for the given bridge type, or all
	// channels when bridgeType is empty.
	ListChannels(ctx context.Context, bridgeType BridgeType) ([]Channel, error)

	// GetDeviceRecord returns ErrNoDeviceRecord when none is registered.
	GetDeviceRecord(ctx context.Context) (*DeviceRecord, error)

	// SetDeviceRecord installs or refreshes the device record without
	// touching channels. Used for bridge token updates where the UAID is
	// unchanged.
	SetDeviceRecord(ctx context.Context, rec *DeviceRecord) error

	// ReplaceDeviceRecord atomically deletes every channel and installs the
	// new record. This is the only bulk invalidation path: after it returns
	// either all prior channels are gone and rec is current, or (on error)
	// nothing changed.
	ReplaceDeviceRecord(ctx context.Context, rec *DeviceRecord) error

	// ClearAll wipes channels and the device record.
	ClearAll(ctx context.Context) error
}

// RegisterResponse is the bridge's answer to a device registration.
type RegisterResponse struct {
	UAID      string
	AuthToken string
	ChannelID string
	Endpoint  string
}

// Connection is the network collaborator speaking the bridge HTTP interface.
// Implementations classify outcomes: ErrUAIDGone when the bridge disowns the
// device identifier, *CommunicationError with Temporary()==true for failures
// worth retrying, and permanent *CommunicationError otherwise. All calls
// honour ctx cancellation; a timeout is a temporary failure.
type Connection interface {
	RegisterDevice(ctx context.Context, bridgeType BridgeType, bridgeToken string) (*RegisterResponse, error)
	UpdateToken(ctx context.Context, uaid, authToken, newBridgeToken string) error
	SubscribeChannel(ctx context.Context, uaid, authToken, channelID string, appServerKey *string) (string, error)
	UnsubscribeChannel(ctx context.Context, uaid, authToken, channelID string) error
	UnregisterDevice(ctx context.Context, uaid, authToken string) error
	ChannelList(ctx context.Context, uaid, authToken string) ([]string, error)
}
