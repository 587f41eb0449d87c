package notify

import (
	"context"
	"sync"

	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"go.uber.org/zap"
)

const defaultBuffer = 64

// Hub is an in-process broadcaster. Endpoints joined under the same name
// receive each other's messages, never their own.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Endpoint]struct{}
	buffer   int
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		channels: make(map[string]map[*Endpoint]struct{}),
		buffer:   defaultBuffer,
		log:      logger.OrNop(log).Named("notify"),
		metrics:  m,
	}
}

var shared = sync.OnceValue(func() *Hub { return NewHub(nil, nil) })

// Shared returns the process-wide hub. Every instance in the process that
// joins a channel through it hears the others.
func Shared() *Hub { return shared() }

// Endpoint is one participant of a Hub channel.
type Endpoint struct {
	hub       *Hub
	name      string
	log       *zap.Logger
	metrics   *metrics.Metrics
	inbox     chan string
	done      chan struct{}
	listeners listeners
	closeOnce sync.Once
}

var _ sdk.Notifier = (*Endpoint)(nil)

// Join adds a new endpoint to the named channel.
func (h *Hub) Join(name string) *Endpoint {
	return h.JoinWith(name, h.log, h.metrics)
}

// JoinWith is Join with the endpoint's own logger and metrics, for instances
// sharing a hub they did not create.
func (h *Hub) JoinWith(name string, log *zap.Logger, m *metrics.Metrics) *Endpoint {
	log = logger.OrNop(log)
	if log != h.log {
		log = log.Named("notify")
	}
	e := &Endpoint{
		hub:       h,
		name:      name,
		log:       log,
		metrics:   m,
		inbox:     make(chan string, h.buffer),
		done:      make(chan struct{}),
		listeners: listeners{log: log},
	}

	h.mu.Lock()
	members, ok := h.channels[name]
	if !ok {
		members = make(map[*Endpoint]struct{})
		h.channels[name] = members
	}
	members[e] = struct{}{}
	h.mu.Unlock()

	go e.run()
	return e
}

func (e *Endpoint) run() {
	for {
		select {
		case <-e.done:
			return
		case changeType := <-e.inbox:
			e.metrics.NotifyReceived(changeType)
			e.listeners.dispatch(changeType)
		}
	}
}

// Notify queues changeType for every other endpoint of the channel. Endpoints
// whose buffer is full miss the message.
func (e *Endpoint) Notify(_ context.Context, changeType string) error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[e.name]
	if !ok {
		return ErrClosed
	}
	if _, ok := members[e]; !ok {
		return ErrClosed
	}

	for other := range members {
		if other == e {
			continue
		}
		select {
		case other.inbox <- changeType:
		default:
			e.log.Debug("Dropping change notification, endpoint busy",
				zap.String("channel", e.name), zap.String("type", changeType))
		}
	}
	e.metrics.NotifySent(changeType)
	return nil
}

func (e *Endpoint) OnNotify(fn func(changeType string)) (cancel func()) {
	return e.listeners.add(fn)
}

// Close leaves the channel. Messages still queued are discarded.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		h := e.hub
		h.mu.Lock()
		if members, ok := h.channels[e.name]; ok {
			delete(members, e)
			if len(members) == 0 {
				delete(h.channels, e.name)
			}
		}
		h.mu.Unlock()
		close(e.done)
	})
	return nil
}
