package websocket

import (
	"context"
	"errors"
	"sync"

	"room-relay/internal/services"
)

// mockMember records payloads in place of a WebSocket connection.
type mockMember struct {
	id       string
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	failWith error
}

func newMockMember(id string) *mockMember {
	return &mockMember{id: id}
}

func (m *mockMember) ID() string { return m.id }

func (m *mockMember) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.closed {
		return ErrClientDisconnected
	}
	m.messages = append(m.messages, payload)
	return nil
}

func (m *mockMember) getMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.messages))
	for i, msg := range m.messages {
		result[i] = string(msg)
	}
	return result
}

var errBrokerDown = errors.New("broker down")

// fakeBroker is an in-memory Broker that records every call.
type fakeBroker struct {
	mu           sync.Mutex
	subscribed   map[string]bool
	subscribes   map[string]int
	unsubscribes map[string]int
	published    []services.PubSubMessage
	failSub      bool
	failPing     bool
	failPublish  bool
	messages     chan services.PubSubMessage
	loopback     bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subscribed:   make(map[string]bool),
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		messages:     make(chan services.PubSubMessage, 64),
	}
}

func (f *fakeBroker) Subscribe(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSub {
		return errBrokerDown
	}
	for _, ch := range channels {
		f.subscribed[ch] = true
		f.subscribes[ch]++
	}
	return nil
}

func (f *fakeBroker) Unsubscribe(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		delete(f.subscribed, ch)
		f.unsubscribes[ch]++
	}
	return nil
}

// Publish delivers back to Messages when loopback is on and the channel is
// subscribed, like a single-node Redis would.
func (f *fakeBroker) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	if f.failPublish {
		f.mu.Unlock()
		return errBrokerDown
	}
	msg := services.PubSubMessage{Channel: channel, Payload: string(payload)}
	f.published = append(f.published, msg)
	echo := f.loopback && f.subscribed[channel]
	f.mu.Unlock()

	if echo {
		f.messages <- msg
	}
	return nil
}

func (f *fakeBroker) Messages() <-chan services.PubSubMessage {
	return f.messages
}

func (f *fakeBroker) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPing {
		return errBrokerDown
	}
	return nil
}

func (f *fakeBroker) setFailSub(v bool) {
	f.mu.Lock()
	f.failSub = v
	f.mu.Unlock()
}

func (f *fakeBroker) setFailPing(v bool) {
	f.mu.Lock()
	f.failPing = v
	f.mu.Unlock()
}

func (f *fakeBroker) isSubscribed(ch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[ch]
}

func (f *fakeBroker) subscribeCount(ch string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[ch]
}

func (f *fakeBroker) unsubscribeCount(ch string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribes[ch]
}

func (f *fakeBroker) publishedMessages() []services.PubSubMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]services.PubSubMessage, len(f.published))
	copy(result, f.published)
	return result
}

// recordingUpstream captures router calls without a bridge.
type recordingUpstream struct {
	subscribed   []string
	unsubscribed []string
	published    []string
	subErr       error
}

func (r *recordingUpstream) EnsureSubscribed(_ context.Context, room string) error {
	r.subscribed = append(r.subscribed, room)
	return r.subErr
}

func (r *recordingUpstream) EnsureUnsubscribed(_ context.Context, room string) {
	r.unsubscribed = append(r.unsubscribed, room)
}

func (r *recordingUpstream) Publish(room, message string) error {
	r.published = append(r.published, room+":"+message)
	return nil
}
