// ABOUTME: In-memory fan-out broadcaster for session updates
// ABOUTME: Delivers state and turn snapshots to every subscriber without blocking the stream

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for session updates. Each update
// carries a full snapshot, so a subscriber that misses one catches up on the
// next.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Update // subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. Returns a channel that receives updates
// and a subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Update, string) {
	subID := uuid.New().String()
	ch := make(chan Update, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an update to all subscribers.
// Non-blocking: updates are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"sub_id", id,
				"state", u.State)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.subscribers[subID]
	if !exists {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
