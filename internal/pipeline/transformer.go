// Package pipeline contains the message processing components for the
// inbound push stream: raw bridge envelopes in, decrypted plaintext out.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// PushEnvelope mirrors the JSON the bridge delivers for one push message.
// The ciphertext body is base64url; "con" names the content encoding and the
// header fields are only present for the legacy aesgcm scheme.
type PushEnvelope struct {
	ChannelID string `json:"chid"`
	Body      string `json:"body"`
	Encoding  string `json:"con"`
	Salt      string `json:"enc"`
	CryptoKey string `json:"cryptokey"`
}

// InboundMessage is the decoded, validated form handed to the processor.
type InboundMessage struct {
	ChannelID string
	Payload   []byte
	Encoding  push.Encoding
	Headers   push.Headers
}

// EnvelopeTransformer is a dataflow Transformer that unmarshals and validates
// a raw bridge payload into an InboundMessage.
//
// Malformed envelopes return skip=true so the StreamingService can handle the
// Nack/DLQ logic rather than poisoning the pipeline.
func EnvelopeTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*InboundMessage, bool, error) {
	var env PushEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push envelope from message %s: %w", msg.ID, err)
	}
	if env.ChannelID == "" {
		return nil, true, fmt.Errorf("push envelope %s missing channel identifier", msg.ID)
	}

	payload, err := decodeBody(env.Body)
	if err != nil {
		return nil, true, fmt.Errorf("push envelope %s has undecodable body: %w", msg.ID, err)
	}

	encoding := push.Encoding(env.Encoding)
	if encoding == "" {
		encoding = push.EncodingAes128Gcm
	}

	return &InboundMessage{
		ChannelID: env.ChannelID,
		Payload:   payload,
		Encoding:  encoding,
		Headers: push.Headers{
			Encryption: env.Salt,
			CryptoKey:  env.CryptoKey,
		},
	}, false, nil
}

// decodeBody accepts both padded and unpadded base64url, which varies by
// bridge implementation.
func decodeBody(body string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(body); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(body)
}
