// ABOUTME: Broadcast transport boundary and the in-process loopback bus.
// ABOUTME: Frames carry a channel name, the sender's key, and an opaque payload.

package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Frame is a message delivered on a named channel. Invite optionally
// carries the sender's admission credential as raw JSON; gated channels
// require one on the sender's first frame.
type Frame struct {
	Channel      string
	SenderPubKey string
	Payload      []byte
	Invite       []byte
}

// Broadcaster is the encrypted peer transport boundary: fire-and-forget
// delivery of a message to everyone on a named channel. The return value
// reports whether the broadcast was accepted locally, not that any peer
// received it.
type Broadcaster interface {
	Broadcast(channel string, message []byte) bool
}

// Bus is a process-local Broadcaster with subscriber fan-out, used by tests
// and single-process deployments. Delivery is non-blocking: frames are
// dropped for subscribers whose buffers are full.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Frame // channel -> subID -> ch
	senderKey   string
	logger      *slog.Logger
}

// NewBus creates a loopback bus. Frames it broadcasts carry senderKey as
// the sending peer's public key.
func NewBus(senderKey string, logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]map[string]chan Frame),
		senderKey:   senderKey,
		logger:      logger.With("component", "transport"),
	}
}

// Subscribe registers for frames on a channel. The subscription is cleaned
// up when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan Frame, string) {
	subID := uuid.NewString()
	ch := make(chan Frame, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[channel]; !ok {
		b.subscribers[channel] = make(map[string]chan Frame)
	}
	b.subscribers[channel][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(channel, subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(channel, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subscribers, channel)
	}
	close(ch)
}

// Broadcast delivers message to every subscriber of channel. Always returns
// true: a loopback bus accepts everything, even when nobody listens.
func (b *Bus) Broadcast(channel string, message []byte) bool {
	return b.BroadcastFrame(Frame{Channel: channel, SenderPubKey: b.senderKey, Payload: message})
}

// BroadcastFrame delivers a fully-specified frame, letting the caller set
// the sender key and attach an invite for gated channels.
func (b *Bus) BroadcastFrame(frame Frame) bool {
	channel := frame.Channel

	b.mu.RLock()
	subs := b.subscribers[channel]
	targets := make([]chan Frame, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- frame:
		default:
			b.logger.Warn("subscriber buffer full, frame dropped", "channel", channel)
		}
	}
	return true
}
