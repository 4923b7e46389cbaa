package client

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pushwire/pushwire-go/internal/metrics"
	"github.com/pushwire/pushwire-go/pkg/wire"
	"github.com/rs/zerolog"
)

// EventFunc receives the payload of one notification frame. The payload is
// passed through verbatim; the client never interprets it.
type EventFunc func(data json.RawMessage)

// StatusFunc receives one connection status transition
type StatusFunc func(status Status)

// eventSubscription pairs a callback with its registration identity
type eventSubscription struct {
	id string
	fn EventFunc
}

type statusSubscription struct {
	id string
	fn StatusFunc
}

// dispatcher decodes inbound frames and fans notifications out to event
// subscribers in registration order. Status transitions go to a separate
// subscriber set. A panicking callback is isolated: it is logged and the
// remaining subscribers still run.
type dispatcher struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// onPing fires for inbound server pings so the service can answer
	onPing func()

	// onPong fires for inbound pongs so keepalive accounting can reset
	onPong func()

	mu       sync.RWMutex
	subs     []eventSubscription
	statSubs []statusSubscription
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	return &dispatcher{
		logger:  logger,
		metrics: metrics.GetMetrics(),
	}
}

// subscribe registers an event callback and returns a function that removes
// exactly that registration. Unsubscribing twice is a no-op, and
// unsubscribing from within the callback itself is safe.
func (d *dispatcher) subscribe(fn EventFunc) func() {
	id := generateID()

	d.mu.Lock()
	d.subs = append(d.subs, eventSubscription{id: id, fn: fn})
	d.metrics.EventSubscribers.Set(float64(len(d.subs)))
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, sub := range d.subs {
				if sub.id == id {
					d.subs = append(d.subs[:i], d.subs[i+1:]...)
					break
				}
			}
			d.metrics.EventSubscribers.Set(float64(len(d.subs)))
		})
	}
}

// subscribeStatus registers a status callback and returns its unsubscribe
func (d *dispatcher) subscribeStatus(fn StatusFunc) func() {
	id := generateID()

	d.mu.Lock()
	d.statSubs = append(d.statSubs, statusSubscription{id: id, fn: fn})
	d.metrics.StatusSubscribers.Set(float64(len(d.statSubs)))
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, sub := range d.statSubs {
				if sub.id == id {
					d.statSubs = append(d.statSubs[:i], d.statSubs[i+1:]...)
					break
				}
			}
			d.metrics.StatusSubscribers.Set(float64(len(d.statSubs)))
		})
	}
}

// handleFrame routes one raw inbound frame by its kind. Malformed frames
// are dropped here; they never escalate past the decode boundary.
func (d *dispatcher) handleFrame(raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Dropping malformed frame")
		d.metrics.FramesDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}

	d.metrics.FramesReceivedTotal.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case wire.KindNotification:
		d.distribute(msg.Data)

	case wire.KindPing:
		if d.onPing != nil {
			d.onPing()
		}

	case wire.KindPong:
		if d.onPong != nil {
			d.onPong()
		}

	default:
		d.logger.Warn().Str("kind", string(msg.Type)).Msg("Dropping frame of unknown kind")
		d.metrics.FramesDroppedTotal.WithLabelValues("unknown_kind").Inc()
	}
}

// distribute delivers one notification payload to every event subscriber
func (d *dispatcher) distribute(data json.RawMessage) {
	// Snapshot the registrations so callbacks can unsubscribe mid-delivery
	d.mu.RLock()
	snapshot := make([]eventSubscription, len(d.subs))
	copy(snapshot, d.subs)
	d.mu.RUnlock()

	for _, sub := range snapshot {
		d.invoke(sub.id, func() {
			sub.fn(data)
		})
		d.metrics.NotificationsDistributedTotal.Inc()
	}
}

// distributeStatus delivers one status transition to every status subscriber
func (d *dispatcher) distributeStatus(status Status) {
	d.mu.RLock()
	snapshot := make([]statusSubscription, len(d.statSubs))
	copy(snapshot, d.statSubs)
	d.mu.RUnlock()

	for _, sub := range snapshot {
		d.invoke(sub.id, func() {
			sub.fn(status)
		})
	}
}

// invoke runs one callback, containing any panic it raises
func (d *dispatcher) invoke(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("subscription_id", id).Interface("panic", r).Msg("Subscriber callback panicked")
			d.metrics.SubscriberPanicsTotal.Inc()
		}
	}()
	fn()
}

// Variable for generating subscription and channel IDs
// Can be replaced in tests for deterministic behavior
var generateID = func() string {
	return uuid.NewString()
}
