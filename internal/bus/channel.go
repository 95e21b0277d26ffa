package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/sentify/internal/domain"
)

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus. Delivery is best effort: a
// subscriber whose buffer is full misses the message.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
	dropped       atomic.Int64
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish sends a message to every subscriber of topic without blocking.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subscriptions[topic] {
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber buffer full, dropping message",
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic. Messages are handled
// sequentially on a dedicated goroutine until ctx is done or the
// subscription is removed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	go sub.run()

	b.subscriptions[topic] = append(b.subscriptions[topic], sub)

	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Further publishes fail with ErrClosed.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

// Dropped returns the number of messages lost to full subscriber buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subscriptions[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[sub.topic]) == 0 {
		delete(b.subscriptions, sub.topic)
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
