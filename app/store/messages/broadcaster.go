package messages

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// broadcaster fans appended messages out to live subscribers of a
// conversation. Slow subscribers have messages dropped rather than blocking
// the append path.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Message
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subscribers: make(map[string]map[string]chan Message),
	}
}

func (b *broadcaster) subscribe(ctx context.Context, conversationID string) <-chan Message {
	subID := uuid.New().String()
	ch := make(chan Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan Message)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(conversationID, subID)
	}()

	return ch
}

func (b *broadcaster) publish(conversationID string, msg Message) {
	b.mu.RLock()
	subs := b.subscribers[conversationID]

	targets := make([]chan Message, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
		default:
			slog.Debug("Dropped message for slow subscriber",
				"conversation_id", conversationID,
				"message_id", msg.ID)
		}
	}
}

func (b *broadcaster) unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}
}
