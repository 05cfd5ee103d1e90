package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Message
		wantErr error
	}{
		{"subscribe", `{"type":"SUBSCRIBE","room":"room1"}`, &Message{Type: MessageTypeSubscribe, Room: "room1"}, nil},
		{"unsubscribe", `{"type":"UNSUBSCRIBE","room":"room1"}`, &Message{Type: MessageTypeUnsubscribe, Room: "room1"}, nil},
		{"send", `{"type":"sendMessage","roomId":"room1","message":"hello"}`, &Message{Type: MessageTypeSendMessage, RoomID: "room1", Text: "hello"}, nil},
		{"send empty text", `{"type":"sendMessage","roomId":"room1","message":""}`, &Message{Type: MessageTypeSendMessage, RoomID: "room1"}, nil},
		{"not json", `hello`, nil, ErrMalformedMessage},
		{"json null", `null`, nil, ErrMalformedMessage},
		{"missing type", `{"room":"room1"}`, nil, ErrMalformedMessage},
		{"lowercase type", `{"type":"subscribe","room":"room1"}`, nil, ErrUnknownMessageType},
		{"unknown type", `{"type":"PING"}`, nil, ErrUnknownMessageType},
		{"subscribe without room", `{"type":"SUBSCRIBE"}`, nil, ErrMalformedMessage},
		{"subscribe empty room", `{"type":"SUBSCRIBE","room":""}`, nil, ErrMalformedMessage},
		{"room wrong type", `{"type":"SUBSCRIBE","room":7}`, nil, ErrMalformedMessage},
		{"send without roomId", `{"type":"sendMessage","message":"x"}`, nil, ErrMalformedMessage},
		{"send without message", `{"type":"sendMessage","roomId":"room1"}`, nil, ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessage([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	data, err := NewEnvelope("room1", "hello").Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sendMessage","roomId":"room1","message":"hello"}`, string(data))

	env, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", env.Message)

	_, err = ParseEnvelope([]byte(`{"type":"SUBSCRIBE","roomId":"room1"}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = ParseEnvelope([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
