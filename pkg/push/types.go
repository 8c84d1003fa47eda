// Package push contains the public domain models, error taxonomy and
// collaborator contracts for the push subscription client.
package push

import (
	"time"
)

// BridgeType identifies the native delivery path that carries push messages
// to this installation.
type BridgeType string

const (
	BridgeFCM  BridgeType = "fcm"
	BridgeADM  BridgeType = "adm"
	BridgeAPNS BridgeType = "apns"
	BridgeTest BridgeType = "test"
)

// Valid reports whether b is one of the supported bridge types.
func (b BridgeType) Valid() bool {
	switch b {
	case BridgeFCM, BridgeADM, BridgeAPNS, BridgeTest:
		return true
	}
	return false
}

// Encoding is the content encoding of an inbound encrypted payload.
type Encoding string

const (
	// EncodingAes128Gcm is the body-encoded form (RFC 8188): salt, record
	// size and sender key travel in a prefix of the payload itself.
	EncodingAes128Gcm Encoding = "aes128gcm"
	// EncodingAesGcm is the legacy header-encoded form: salt and sender key
	// arrive in separate Encryption / Crypto-Key header fields.
	EncodingAesGcm Encoding = "aesgcm"
)

// Channel is a single notification subscription with its own key material and
// delivery endpoint. A channel's keys and auth secret are generated once at
// creation and never change; the only mutation is deletion.
type Channel struct {
	ChannelID string `json:"channel_id" firestore:"channel_id"`
	Scope     string `json:"scope" firestore:"scope"`
	Endpoint  string `json:"endpoint" firestore:"endpoint"`
	// PublicKey is the uncompressed P-256 point (65 bytes).
	PublicKey []byte `json:"public_key" firestore:"public_key"`
	// PrivateKey is the versioned key blob produced by the key codec. It is
	// owned exclusively by this channel and never leaves the store.
	PrivateKey []byte `json:"private_key" firestore:"private_key"`
	// AuthSecret is the 16-byte secret mixed into content key derivation.
	AuthSecret []byte `json:"auth_secret" firestore:"auth_secret"`
	// AppServerKey is the optional VAPID key the application supplied when
	// subscribing.
	AppServerKey *string    `json:"app_server_key,omitempty" firestore:"app_server_key,omitempty"`
	BridgeType   BridgeType `json:"bridge_type" firestore:"bridge_type"`
	CreatedAt    time.Time  `json:"created_at" firestore:"created_at"`
}

// DeviceRecord is the singleton identifying this installation to the bridge
// service. At most one valid record exists at a time; every persisted channel
// belongs to the record that was current when the channel was created.
type DeviceRecord struct {
	// UAID is the device identifier issued by the bridge service.
	UAID string `json:"uaid" firestore:"uaid"`
	// AuthToken is the bridge-issued secret presented on subsequent calls.
	AuthToken   string     `json:"auth_token" firestore:"auth_token"`
	BridgeType  BridgeType `json:"bridge_type" firestore:"bridge_type"`
	BridgeToken string     `json:"bridge_token" firestore:"bridge_token"`
	UpdatedAt   time.Time  `json:"updated_at" firestore:"updated_at"`
}

// Subscription is the info block handed back to the application after a
// successful subscribe. It contains everything a remote application server
// needs to encrypt and deliver a message on this channel.
type Subscription struct {
	ChannelID  string `json:"channel_id"`
	Endpoint   string `json:"endpoint"`
	PublicKey  []byte `json:"p256dh"`
	AuthSecret []byte `json:"auth"`
}

// DispatchInfo is the per-channel routing block: where a message for the
// channel is delivered and under which application scope it was subscribed.
type DispatchInfo struct {
	ChannelID    string  `json:"channel_id"`
	Scope        string  `json:"scope"`
	Endpoint     string  `json:"endpoint"`
	AppServerKey *string `json:"app_server_key,omitempty"`
}

// DecryptedMessage is the transient result of decrypting an inbound payload.
// It is never persisted.
type DecryptedMessage struct {
	ChannelID string
	Encoding  Encoding
	Plaintext []byte
}

// Headers carries the out-of-band crypto metadata of the legacy aesgcm
// encoding. Values may be either the bare base64url parameter value or the
// full header text ("keyid=...;salt=...").
type Headers struct {
	// Encryption holds the salt ("salt=<base64url>").
	Encryption string
	// CryptoKey holds the sender public key ("dh=<base64url>").
	CryptoKey string
}
