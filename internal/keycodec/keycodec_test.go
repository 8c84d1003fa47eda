package keycodec_test

import (
	"crypto/ecdh"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-client/internal/keycodec"
	"github.com/tinywideclouds/go-push-client/internal/keys"
)

func TestEncodeDecode(t *testing.T) {
	gen := keys.NewGenerator()
	priv, pub, err := gen.GenerateKeyPair()
	require.NoError(t, err)
	auth, err := gen.GenerateAuthSecret()
	require.NoError(t, err)

	material := keycodec.KeyMaterial{
		PrivateKey: priv.Bytes(),
		PublicKey:  pub,
		AuthSecret: auth,
	}
	blob, err := keycodec.Encode(material)
	require.NoError(t, err)
	assert.Equal(t, byte(keycodec.Version1), blob[0])

	decoded, err := keycodec.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, material, decoded)

	restored, err := decoded.ECDHPrivateKey(ecdh.P256())
	require.NoError(t, err)
	assert.True(t, priv.Equal(restored))
}

func TestDecode_RejectsCorruptBlobs(t *testing.T) {
	gen := keys.NewGenerator()
	priv, pub, err := gen.GenerateKeyPair()
	require.NoError(t, err)
	auth, err := gen.GenerateAuthSecret()
	require.NoError(t, err)
	blob, err := keycodec.Encode(keycodec.KeyMaterial{PrivateKey: priv.Bytes(), PublicKey: pub, AuthSecret: auth})
	require.NoError(t, err)

	testCases := []struct {
		name string
		blob []byte
	}{
		{name: "empty", blob: nil},
		{name: "unknown version", blob: append([]byte{0x7f}, blob[1:]...)},
		{name: "truncated", blob: blob[:len(blob)-3]},
		{name: "oversized", blob: append(append([]byte(nil), blob...), 0x00)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := keycodec.Decode(tc.blob)
			assert.ErrorIs(t, err, keycodec.ErrMalformed)
		})
	}
}

func TestEncode_RejectsBadLengths(t *testing.T) {
	_, err := keycodec.Encode(keycodec.KeyMaterial{
		PrivateKey: make([]byte, 31),
		PublicKey:  make([]byte, 65),
		AuthSecret: make([]byte, 16),
	})
	assert.ErrorIs(t, err, keycodec.ErrMalformed)
}
