package websocket

import "errors"

var (
	ErrClientDisconnected = errors.New("client disconnected")
	ErrClientNotFound     = errors.New("client not found")
	ErrDuplicateClient    = errors.New("duplicate client id")
	ErrSendBufferFull     = errors.New("send buffer full")

	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")

	ErrPublishQueueFull = errors.New("publish queue full")
	ErrBridgeStopped    = errors.New("bridge stopped")
)
