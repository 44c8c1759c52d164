// Package hub fans monitor messages out to live subscribers.
//
// Delivery is at-most-once. Publish never blocks: each subscriber has a
// bounded buffer and a message that does not fit is dropped for that
// subscriber only. There is no queueing and no backpressure toward the
// monitor, so a slow consumer can miss messages but can never stall the
// poll loop or other subscribers.
package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainmonitor/internal/metrics"
	"chainmonitor/internal/model"
)

// ErrTooManySubscribers is returned by Subscribe when the hub is full.
var ErrTooManySubscribers = errors.New("too many subscribers")

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("hub closed")

const (
	defaultBuffer         = 64
	defaultMaxSubscribers = 1000
)

// Config controls hub limits.
type Config struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int
	// MaxSubscribers caps concurrent subscribers; <= 0 uses the default.
	MaxSubscribers int
}

// Subscriber is one live consumer. C is closed on Unsubscribe.
type Subscriber struct {
	ID string
	C  <-chan model.Message

	send chan model.Message
}

// Hub maintains the subscriber set.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New creates a Hub.
func New(cfg Config, logger *zap.Logger) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = defaultMaxSubscribers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "hub")),
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if len(h.subscribers) >= h.cfg.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}

	send := make(chan model.Message, h.cfg.Buffer)
	sub := &Subscriber{ID: uuid.NewString(), C: send, send: send}
	h.subscribers[sub.ID] = sub
	metrics.Subscribers.Set(float64(len(h.subscribers)))

	h.logger.Info("subscriber registered",
		zap.String("subscriber", sub.ID),
		zap.Int("total_subscribers", len(h.subscribers)))
	return sub, nil
}

// Unsubscribe removes the subscriber and closes its channel. Unknown or
// already removed ids are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(sub.send)
	metrics.Subscribers.Set(float64(len(h.subscribers)))

	h.logger.Info("subscriber unregistered",
		zap.String("subscriber", id),
		zap.Int("total_subscribers", len(h.subscribers)))
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// PublishNewBlock sends a newBlock message and returns how many subscribers accepted it.
func (h *Hub) PublishNewBlock(block model.BlockSnapshot) int {
	return h.publish(model.Message{Type: model.MessageNewBlock, Data: block})
}

// PublishTransaction sends a contractTransaction message.
func (h *Hub) PublishTransaction(rec model.ContractTransactionRecord) int {
	return h.publish(model.Message{Type: model.MessageContractTransaction, Data: rec})
}

// PublishEvent sends a contractEvent message.
func (h *Hub) PublishEvent(event model.DecodedEvent) int {
	return h.publish(model.Message{Type: model.MessageContractEvent, Data: event})
}

// PublishStats sends a blockchainStats message.
func (h *Hub) PublishStats(stats model.Stats) int {
	return h.publish(model.Message{Type: model.MessageBlockchainStats, Data: stats})
}

// publish offers msg to every subscriber and returns how many accepted it.
func (h *Hub) publish(msg model.Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, sub := range h.subscribers {
		select {
		case sub.send <- msg:
			delivered++
		default:
			dropped++
		}
	}

	kind := string(msg.Type)
	if delivered > 0 {
		metrics.MessagesPublished.WithLabelValues(kind).Add(float64(delivered))
	}
	if dropped > 0 {
		metrics.MessagesDropped.WithLabelValues(kind).Add(float64(dropped))
		h.logger.Debug("subscriber buffer full, message dropped",
			zap.String("type", kind),
			zap.Int("dropped", dropped))
	}
	return delivered
}

// Close unsubscribes everyone. Later Subscribe calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscribers {
		close(sub.send)
		delete(h.subscribers, id)
	}
	h.closed = true
	metrics.Subscribers.Set(0)
	h.logger.Info("hub closed")
}
