// Package keys generates per-channel asymmetric key pairs and authentication
// secrets. It is a stateless generator: no persistence, safe for concurrent
// use.
package keys

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"
)

// AuthSecretLength is the size of a channel authentication secret.
const AuthSecretLength = 16

// Generator is the process-wide crypto context for key generation. It is
// constructed once at startup and injected into the components that need
// fresh key material. The random source is the test seam.
type Generator struct {
	curve ecdh.Curve
	rand  io.Reader
}

// NewGenerator returns a Generator drawing from crypto/rand on the curve used
// by the push encryption standard (P-256).
func NewGenerator() *Generator {
	return &Generator{curve: ecdh.P256(), rand: rand.Reader}
}

// NewGeneratorWithRand substitutes a deterministic random source for tests.
func NewGeneratorWithRand(r io.Reader) *Generator {
	return &Generator{curve: ecdh.P256(), rand: r}
}

// Curve exposes the curve handle so the decryption engine shares the same
// crypto context.
func (g *Generator) Curve() ecdh.Curve { return g.curve }

// GenerateKeyPair creates a fresh P-256 key pair. The returned public key is
// the 65-byte uncompressed point expected by application servers.
func (g *Generator) GenerateKeyPair() (*ecdh.PrivateKey, []byte, error) {
	priv, err := g.curve.GenerateKey(g.rand)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: generate key pair: %w", err)
	}
	return priv, priv.PublicKey().Bytes(), nil
}

// GenerateAuthSecret returns 16 cryptographically random bytes. Failure means
// the underlying random source is unavailable and is not recoverable.
func (g *Generator) GenerateAuthSecret() ([]byte, error) {
	secret := make([]byte, AuthSecretLength)
	if _, err := io.ReadFull(g.rand, secret); err != nil {
		return nil, fmt.Errorf("keys: generate auth secret: %w", err)
	}
	return secret, nil
}
