package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-delivery/internal/pipeline"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

func TestEnvelopeTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectSkip            bool
		expectedErrorContains string
		expectID              string
		expectChannel         push.Channel
	}{
		{
			name:          "Happy Path - Wake envelope",
			payload:       `{"id":"evt-1","channel":"silent_wake","payload":{"type":"video_call_invite"}}`,
			expectID:      "evt-1",
			expectChannel: push.ChannelSilentWake,
		},
		{
			name:          "Missing id falls back to message id",
			payload:       `{"channel":"alert","payload":{"aps":{"alert":"Hi"}}}`,
			expectID:      "msg-1",
			expectChannel: push.ChannelUserNotification,
		},
		{
			name:          "Malformed payload is still an envelope",
			payload:       `{"channel":"user_notification","payload":{"bad":1}}`,
			expectID:      "msg-1",
			expectChannel: push.ChannelUserNotification,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               `not-json`,
			expectSkip:            true,
			expectedErrorContains: "failed to unmarshal push envelope",
		},
		{
			name:                  "Failure - Unknown channel",
			payload:               `{"channel":"carrier_pigeon","payload":{}}`,
			expectSkip:            true,
			expectedErrorContains: "unknown channel",
		},
		{
			name:                  "Failure - Missing channel",
			payload:               `{"payload":{}}`,
			expectSkip:            true,
			expectedErrorContains: "unknown channel",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}
			env, skip, err := pipeline.EnvelopeTransformer(ctx, msg)

			if tc.expectSkip {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Nil(t, env)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, tc.expectID, env.ID)
			assert.Equal(t, tc.expectChannel, env.Channel)
			assert.NotNil(t, env.Payload)
		})
	}
}
