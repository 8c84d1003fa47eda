package pipeline_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-client/internal/pipeline"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

func TestEnvelopeTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	ciphertext := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	body := base64.RawURLEncoding.EncodeToString(ciphertext)

	testCases := []struct {
		name                  string
		inputMessage          *messagepipeline.Message
		expectError           bool
		expectedErrorContains string
		verify                func(t *testing.T, msg *pipeline.InboundMessage)
	}{
		{
			name: "Happy Path - aes128gcm envelope",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{
					ID:      "msg-1",
					Payload: []byte(`{"chid":"channel-1","con":"aes128gcm","body":"` + body + `"}`),
				},
			},
			verify: func(t *testing.T, msg *pipeline.InboundMessage) {
				assert.Equal(t, "channel-1", msg.ChannelID)
				assert.Equal(t, push.EncodingAes128Gcm, msg.Encoding)
				assert.Equal(t, ciphertext, msg.Payload)
				assert.Empty(t, msg.Headers.Encryption)
			},
		},
		{
			name: "Happy Path - legacy aesgcm envelope with header fields",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{
					ID: "msg-2",
					Payload: []byte(`{"chid":"channel-2","con":"aesgcm","body":"` + body +
						`","enc":"salt=c2FsdA","cryptokey":"dh=a2V5"}`),
				},
			},
			verify: func(t *testing.T, msg *pipeline.InboundMessage) {
				assert.Equal(t, push.EncodingAesGcm, msg.Encoding)
				assert.Equal(t, "salt=c2FsdA", msg.Headers.Encryption)
				assert.Equal(t, "dh=a2V5", msg.Headers.CryptoKey)
			},
		},
		{
			name: "Happy Path - missing encoding defaults to aes128gcm",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{
					ID:      "msg-3",
					Payload: []byte(`{"chid":"channel-3","body":"` + body + `"}`),
				},
			},
			verify: func(t *testing.T, msg *pipeline.InboundMessage) {
				assert.Equal(t, push.EncodingAes128Gcm, msg.Encoding)
			},
		},
		{
			name: "Happy Path - padded base64 body",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{
					ID: "msg-4",
					Payload: []byte(`{"chid":"channel-4","body":"` +
						base64.URLEncoding.EncodeToString(ciphertext) + `"}`),
				},
			},
			verify: func(t *testing.T, msg *pipeline.InboundMessage) {
				assert.Equal(t, ciphertext, msg.Payload)
			},
		},
		{
			name: "Failure - Malformed JSON",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-5", Payload: []byte("not-json")},
			},
			expectError:           true,
			expectedErrorContains: "failed to unmarshal push envelope",
		},
		{
			name: "Failure - Missing channel identifier",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-6", Payload: []byte(`{"body":"` + body + `"}`)},
			},
			expectError:           true,
			expectedErrorContains: "missing channel identifier",
		},
		{
			name: "Failure - Undecodable body",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-7", Payload: []byte(`{"chid":"channel-7","body":"%%%%"}`)},
			},
			expectError:           true,
			expectedErrorContains: "undecodable body",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, skip, err := pipeline.EnvelopeTransformer(ctx, tc.inputMessage)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
			} else {
				assert.NoError(t, err)
				assert.False(t, skip)
				require.NotNil(t, msg)
				tc.verify(t, msg)
			}
		})
	}
}
