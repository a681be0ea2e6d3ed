// Package events carries log lines, batch progress and job status from the
// automation engine to whoever is watching (SSE clients, the CLI).
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic classifies a message.
type Topic string

const (
	TopicLog      Topic = "log"
	TopicProgress Topic = "progress"
	TopicJob      Topic = "job"
)

// ErrClosed is returned by Post after Shutdown.
var ErrClosed = errors.New("event bus is shut down")

// Message is the envelope delivered to subscribers.
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Topic     Topic     `json:"topic"`
	Payload   any       `json:"payload"`
}

// Log is the TopicLog payload.
type Log struct {
	JobID   string `json:"job_id,omitempty"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Progress is the TopicProgress payload, posted after every batch item.
type Progress struct {
	JobID string `json:"job_id,omitempty"`
	Index int    `json:"index"`
	Total int    `json:"total"`
	Sent  int    `json:"sent"`
	Date  string `json:"date"`
	State string `json:"state"`
}

// Bus is a topic-based pub/sub. Every delivered message must be acknowledged
// by its consumer; Shutdown drains what was never read.
type Bus struct {
	logger *zap.Logger

	subscribers map[Topic][]chan Message
	// channels holds every channel not yet closed, including unsubscribed
	// ones that may still hold undelivered messages.
	channels   map[chan Message]struct{}
	mu         sync.RWMutex
	bufferSize int

	// processingWg counts delivered messages not yet acknowledged.
	processingWg sync.WaitGroup
	// activePostsWg counts Post calls in progress.
	activePostsWg sync.WaitGroup

	dropped atomic.Int64

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// NewBus returns a bus whose subscriber channels hold bufferSize messages.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("events"),
		subscribers:  make(map[Topic][]chan Message),
		channels:     make(map[chan Message]struct{}),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// begin registers an in-flight post unless the bus is shut down, and returns
// the current subscribers of topic.
func (b *Bus) begin(topic Topic) ([]chan Message, bool) {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return nil, false
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]chan Message, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	return subs, true
}

func envelope(topic Topic, payload any) Message {
	return Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Payload:   payload,
	}
}

// Post delivers payload to every subscriber of topic, blocking while their
// buffers are full.
func (b *Bus) Post(ctx context.Context, topic Topic, payload any) error {
	subs, ok := b.begin(topic)
	if !ok {
		return ErrClosed
	}
	defer b.activePostsWg.Done()

	msg := envelope(topic, payload)
	for _, ch := range subs {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return ErrClosed
		}
	}
	return nil
}

// Publish delivers payload without blocking. Subscribers whose buffers are
// full miss the message. Automation uses this so slow readers never stall a
// form submission.
func (b *Bus) Publish(topic Topic, payload any) {
	subs, ok := b.begin(topic)
	if !ok {
		return
	}
	defer b.activePostsWg.Done()

	msg := envelope(topic, payload)
	for _, ch := range subs {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
		default:
			b.processingWg.Done()
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries Publish skipped.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe returns a channel receiving the given topics and a function that
// unsubscribes it. The channel is closed by Shutdown.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Message, func()) {
	if len(topics) == 0 {
		panic("must subscribe to at least one topic")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed() {
		closed := make(chan Message)
		close(closed)
		return closed, func() {}
	}

	ch := make(chan Message, b.bufferSize)
	b.channels[ch] = struct{}{}
	subscribed := append([]Topic(nil), topics...)
	for _, topic := range subscribed {
		b.subscribers[topic] = append(b.subscribers[topic], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, topic := range subscribed {
			subs := b.subscribers[topic]
			for i, c := range subs {
				if c != ch {
					continue
				}
				b.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
				if len(b.subscribers[topic]) == 0 {
					delete(b.subscribers, topic)
				}
				break
			}
		}
		// Release what the departed consumer left unread. Anything delivered
		// later is drained by Shutdown.
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				b.processingWg.Done()
			default:
				return
			}
		}
	}
	return ch, unsubscribe
}

func (b *Bus) isClosed() bool {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.isShutdown
}

// Acknowledge marks msg as processed.
func (b *Bus) Acknowledge(Message) {
	b.processingWg.Done()
}

// Shutdown stops accepting posts, closes subscriber channels, drains unread
// messages and waits for in-progress ones to be acknowledged.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Debug("Shutting down event bus...")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePostsWg.Wait()

		b.mu.Lock()
		// No post is in flight, so closing is safe.
		for ch := range b.channels {
			close(ch)
		}
		drained := 0
		for ch := range b.channels {
			for range ch {
				drained++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[Topic][]chan Message)
		b.channels = make(map[chan Message]struct{})
		b.mu.Unlock()

		if drained > 0 {
			b.logger.Debug("Drained unread events.", zap.Int("count", drained))
		}
		b.processingWg.Wait()
		b.logger.Debug("Event bus shut down.")
	})
}
