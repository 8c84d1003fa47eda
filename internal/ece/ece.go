// Package ece decrypts encrypted push payloads in the two supported content
// encodings: aes128gcm (RFC 8188, crypto metadata carried in a payload
// prefix) and the legacy aesgcm draft (metadata carried in Encryption /
// Crypto-Key header fields).
//
// Every failure — authentication tag mismatch, malformed header, bad padding,
// unsupported record size, unknown encoding — is reported as the single
// push.ErrDecryptionFailed so callers cannot be used as a decryption oracle.
package ece

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

const (
	saltLength      = 16
	keyLength       = 16
	nonceLength     = 12
	tagLength       = 16
	publicKeyLength = 65

	// minRecordSize is the smallest record size RFC 8188 allows: one byte
	// of data plus the delimiter plus the tag.
	minRecordSize = 18
)

// Engine holds the process-wide curve handle. It is pure and stateless beyond
// its construction parameters; Decrypt may run fully in parallel.
type Engine struct {
	curve ecdh.Curve
}

// NewEngine returns an Engine on the push-encryption curve (P-256).
func NewEngine() *Engine {
	return &Engine{curve: ecdh.P256()}
}

// NewEngineWithCurve shares an existing crypto context.
func NewEngineWithCurve(curve ecdh.Curve) *Engine {
	return &Engine{curve: curve}
}

// Decrypt recovers the plaintext of an inbound payload using the channel's
// private key and authentication secret. headers is only consulted for the
// legacy aesgcm encoding.
func (e *Engine) Decrypt(payload []byte, encoding push.Encoding, privateKey *ecdh.PrivateKey, authSecret []byte, headers push.Headers) ([]byte, error) {
	switch encoding {
	case push.EncodingAes128Gcm:
		return e.decryptAes128Gcm(payload, privateKey, authSecret)
	case push.EncodingAesGcm:
		return e.decryptAesGcm(payload, privateKey, authSecret, headers)
	default:
		return nil, push.ErrDecryptionFailed
	}
}

// --- aes128gcm (body-encoded, RFC 8188) ---

func (e *Engine) decryptAes128Gcm(payload []byte, privateKey *ecdh.PrivateKey, authSecret []byte) ([]byte, error) {
	// Header prefix: salt(16) | rs(4) | idlen(1) | keyid(idlen).
	if len(payload) < saltLength+4+1 {
		return nil, push.ErrDecryptionFailed
	}
	salt := payload[:saltLength]
	recordSize := binary.BigEndian.Uint32(payload[saltLength : saltLength+4])
	idLen := int(payload[saltLength+4])
	headerLen := saltLength + 4 + 1 + idLen
	if recordSize < minRecordSize || len(payload) < headerLen {
		return nil, push.ErrDecryptionFailed
	}
	senderPub := payload[saltLength+4+1 : headerLen]
	body := payload[headerLen:]
	if idLen != publicKeyLength || len(body) == 0 {
		return nil, push.ErrDecryptionFailed
	}

	sharedSecret, uaPub, err := e.sharedSecret(privateKey, senderPub)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}

	// RFC 8291 key derivation.
	info := make([]byte, 0, len("WebPush: info")+1+2*publicKeyLength)
	info = append(info, []byte("WebPush: info")...)
	info = append(info, 0x00)
	info = append(info, uaPub...)
	info = append(info, senderPub...)
	ikm, err := hkdfExtractExpand(authSecret, sharedSecret, info, sha256.Size)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}
	cek, err := hkdfExtractExpand(salt, ikm, []byte("Content-Encoding: aes128gcm\x00"), keyLength)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}
	baseNonce, err := hkdfExtractExpand(salt, ikm, []byte("Content-Encoding: nonce\x00"), nonceLength)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}

	gcm, err := newGCM(cek)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}

	var plaintext []byte
	for seq := uint64(0); len(body) > 0; seq++ {
		n := int(recordSize)
		final := false
		if n >= len(body) {
			n = len(body)
			final = true
		}
		record := body[:n]
		body = body[n:]
		if len(record) < tagLength+1 {
			return nil, push.ErrDecryptionFailed
		}
		opened, err := gcm.Open(nil, recordNonce(baseNonce, seq), record, nil)
		if err != nil {
			return nil, push.ErrDecryptionFailed
		}
		data, err := stripPadding(opened, final)
		if err != nil {
			return nil, push.ErrDecryptionFailed
		}
		plaintext = append(plaintext, data...)
	}
	return plaintext, nil
}

// stripPadding removes the RFC 8188 delimiter and trailing zero padding.
// The delimiter is 0x02 on the final record and 0x01 otherwise; anything
// inconsistent fails the whole decryption.
func stripPadding(record []byte, final bool) ([]byte, error) {
	i := len(record) - 1
	for i >= 0 && record[i] == 0x00 {
		i--
	}
	if i < 0 {
		return nil, push.ErrDecryptionFailed
	}
	want := byte(0x01)
	if final {
		want = 0x02
	}
	if record[i] != want {
		return nil, push.ErrDecryptionFailed
	}
	return record[:i], nil
}

// recordNonce XORs the big-endian record sequence number into the base nonce.
func recordNonce(baseNonce []byte, seq uint64) []byte {
	nonce := append([]byte(nil), baseNonce...)
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], seq)
	for i := 0; i < 8; i++ {
		nonce[nonceLength-8+i] ^= counter[i]
	}
	return nonce
}

// --- aesgcm (header-encoded legacy draft) ---

func (e *Engine) decryptAesGcm(payload []byte, privateKey *ecdh.PrivateKey, authSecret []byte, headers push.Headers) ([]byte, error) {
	salt, ok := headerParam(headers.Encryption, "salt")
	if !ok {
		return nil, push.ErrDecryptionFailed
	}
	dh, ok := headerParam(headers.CryptoKey, "dh")
	if !ok {
		return nil, push.ErrDecryptionFailed
	}
	saltBytes, err := decodeBase64(salt)
	if err != nil || len(saltBytes) != saltLength {
		return nil, push.ErrDecryptionFailed
	}
	senderPub, err := decodeBase64(dh)
	if err != nil || len(senderPub) != publicKeyLength {
		return nil, push.ErrDecryptionFailed
	}
	if len(payload) < tagLength+2 {
		return nil, push.ErrDecryptionFailed
	}

	sharedSecret, uaPub, err := e.sharedSecret(privateKey, senderPub)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}

	// draft-ietf-httpbis-encryption-encoding-04 key derivation: both public
	// keys enter the cek/nonce info as a length-prefixed context block.
	context := make([]byte, 0, len("P-256")+1+2+publicKeyLength+2+publicKeyLength)
	context = append(context, []byte("P-256")...)
	context = append(context, 0x00)
	context = appendLenPrefixed(context, uaPub)
	context = appendLenPrefixed(context, senderPub)

	ikm, err := hkdfExtractExpand(authSecret, sharedSecret, []byte("Content-Encoding: auth\x00"), sha256.Size)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}
	cek, err := hkdfExtractExpand(saltBytes, ikm, append([]byte("Content-Encoding: aesgcm\x00"), context...), keyLength)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}
	nonce, err := hkdfExtractExpand(saltBytes, ikm, append([]byte("Content-Encoding: nonce\x00"), context...), nonceLength)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}

	gcm, err := newGCM(cek)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}
	opened, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, push.ErrDecryptionFailed
	}

	// Legacy padding: 2-byte big-endian pad length, then that many zeros.
	if len(opened) < 2 {
		return nil, push.ErrDecryptionFailed
	}
	padLen := int(binary.BigEndian.Uint16(opened[:2]))
	if padLen > len(opened)-2 {
		return nil, push.ErrDecryptionFailed
	}
	for _, b := range opened[2 : 2+padLen] {
		if b != 0x00 {
			return nil, push.ErrDecryptionFailed
		}
	}
	return opened[2+padLen:], nil
}

// --- shared helpers ---

func (e *Engine) sharedSecret(privateKey *ecdh.PrivateKey, senderPub []byte) (secret, uaPub []byte, err error) {
	remote, err := e.curve.NewPublicKey(senderPub)
	if err != nil {
		return nil, nil, err
	}
	secret, err = privateKey.ECDH(remote)
	if err != nil {
		return nil, nil, err
	}
	return secret, privateKey.PublicKey().Bytes(), nil
}

func hkdfExtractExpand(salt, ikm, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func appendLenPrefixed(dst, b []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(b)))
	dst = append(dst, l[:]...)
	return append(dst, b...)
}

// headerParam extracts a named parameter from a header field. The field may
// be the bare base64url value (platform bridges often deliver it that way) or
// full header text. Header lists join members with "," and parameters within
// a member with ";", so a Crypto-Key can carry "dh=...,p256ecdsa=..." when
// the sender also includes its VAPID key.
func headerParam(field, name string) (string, bool) {
	field = strings.TrimSpace(field)
	if field == "" {
		return "", false
	}
	if !strings.ContainsAny(field, ";=,") {
		return field, true
	}
	for _, member := range strings.Split(field, ",") {
		for _, part := range strings.Split(member, ";") {
			part = strings.TrimSpace(part)
			if v, ok := strings.CutPrefix(part, name+"="); ok {
				return v, true
			}
		}
	}
	return "", false
}

// decodeBase64 accepts the url-safe alphabet with or without padding; some
// senders pad, some do not.
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
