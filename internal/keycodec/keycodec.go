// Package keycodec defines the versioned binary layout for persisted channel
// key material. A version tag plus fixed-width fields lets a future format
// change be detected and migrated instead of silently misread.
package keycodec

import (
	"crypto/ecdh"
	"errors"
	"fmt"
)

// Version1 layout: [version:1][private:32][public:65][auth:16].
const (
	Version1 = 0x01

	privateKeyLen = 32
	publicKeyLen  = 65
	authSecretLen = 16

	v1BlobLen = 1 + privateKeyLen + publicKeyLen + authSecretLen
)

// ErrMalformed is returned when a stored blob does not match any known
// layout. It indicates storage corruption, never a decryption condition.
var ErrMalformed = errors.New("keycodec: malformed key blob")

// KeyMaterial is the decoded private half of a channel's crypto state.
type KeyMaterial struct {
	PrivateKey []byte // P-256 scalar, 32 bytes
	PublicKey  []byte // uncompressed point, 65 bytes
	AuthSecret []byte // 16 bytes
}

// Encode packs key material into the current (version 1) layout.
func Encode(m KeyMaterial) ([]byte, error) {
	if len(m.PrivateKey) != privateKeyLen || len(m.PublicKey) != publicKeyLen || len(m.AuthSecret) != authSecretLen {
		return nil, fmt.Errorf("%w: field lengths %d/%d/%d", ErrMalformed,
			len(m.PrivateKey), len(m.PublicKey), len(m.AuthSecret))
	}
	blob := make([]byte, 0, v1BlobLen)
	blob = append(blob, Version1)
	blob = append(blob, m.PrivateKey...)
	blob = append(blob, m.PublicKey...)
	blob = append(blob, m.AuthSecret...)
	return blob, nil
}

// Decode unpacks a stored blob, validating the version tag and total length.
func Decode(blob []byte) (KeyMaterial, error) {
	if len(blob) == 0 {
		return KeyMaterial{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if blob[0] != Version1 {
		return KeyMaterial{}, fmt.Errorf("%w: unknown version %#x", ErrMalformed, blob[0])
	}
	if len(blob) != v1BlobLen {
		return KeyMaterial{}, fmt.Errorf("%w: length %d", ErrMalformed, len(blob))
	}
	m := KeyMaterial{
		PrivateKey: append([]byte(nil), blob[1:1+privateKeyLen]...),
		PublicKey:  append([]byte(nil), blob[1+privateKeyLen:1+privateKeyLen+publicKeyLen]...),
		AuthSecret: append([]byte(nil), blob[1+privateKeyLen+publicKeyLen:]...),
	}
	return m, nil
}

// PrivateKey reconstructs the ecdh handle for the stored scalar.
func (m KeyMaterial) ECDHPrivateKey(curve ecdh.Curve) (*ecdh.PrivateKey, error) {
	priv, err := curve.NewPrivateKey(m.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return priv, nil
}
