package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pushwire/pushwire-go/pkg/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Override ID generation for deterministic tests
	var counter int64
	generateID = func() string {
		return fmt.Sprintf("test-id-%d", atomic.AddInt64(&counter, 1))
	}
}

func notificationFrame(t *testing.T, payload interface{}) []byte {
	t.Helper()
	msg, err := wire.New(wire.KindNotification, payload)
	require.NoError(t, err)
	raw, err := msg.Encode()
	require.NoError(t, err)
	return raw
}

func controlFrame(t *testing.T, kind wire.Kind) []byte {
	t.Helper()
	msg, err := wire.New(kind, nil)
	require.NoError(t, err)
	raw, err := msg.Encode()
	require.NoError(t, err)
	return raw
}

func TestNotificationFanOutOrder(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var mu sync.Mutex
	var order []int

	for i := 1; i <= 3; i++ {
		i := i
		d.subscribe(func(data json.RawMessage) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	d.handleFrame(notificationFrame(t, map[string]int{"id": 1}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSubscriberPanicIsolated(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var mu sync.Mutex
	var order []string

	d.subscribe(func(json.RawMessage) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	d.subscribe(func(json.RawMessage) {
		panic("subscriber bug")
	})
	d.subscribe(func(json.RawMessage) {
		mu.Lock()
		order = append(order, "third")
		mu.Unlock()
	})

	d.handleFrame(notificationFrame(t, map[string]int{"id": 2}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestUnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var first, second atomic.Int32
	unsubFirst := d.subscribe(func(json.RawMessage) {
		first.Add(1)
	})
	d.subscribe(func(json.RawMessage) {
		second.Add(1)
	})

	unsubFirst()
	d.handleFrame(notificationFrame(t, nil))

	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var calls atomic.Int32
	unsubFirst := d.subscribe(func(json.RawMessage) {})
	d.subscribe(func(json.RawMessage) {
		calls.Add(1)
	})

	unsubFirst()
	unsubFirst()

	d.handleFrame(notificationFrame(t, nil))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnsubscribeDuringDistribution(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var calls atomic.Int32
	var unsub func()
	unsub = d.subscribe(func(json.RawMessage) {
		calls.Add(1)
		unsub()
	})

	d.handleFrame(notificationFrame(t, nil))
	d.handleFrame(notificationFrame(t, nil))

	assert.Equal(t, int32(1), calls.Load())
}

func TestMalformedFrameDropped(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var calls atomic.Int32
	d.subscribe(func(json.RawMessage) {
		calls.Add(1)
	})

	d.handleFrame([]byte("{not valid json"))
	d.handleFrame([]byte(`{"data":{"id":1},"timestamp":"2026-01-02T15:04:05Z"}`))

	assert.Equal(t, int32(0), calls.Load())
}

func TestUnknownKindDropped(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var calls atomic.Int32
	d.subscribe(func(json.RawMessage) {
		calls.Add(1)
	})

	d.handleFrame(controlFrame(t, wire.Kind("BROADCAST")))
	assert.Equal(t, int32(0), calls.Load())
}

func TestControlFrameHooks(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var pings, pongs, events atomic.Int32
	d.onPing = func() { pings.Add(1) }
	d.onPong = func() { pongs.Add(1) }
	d.subscribe(func(json.RawMessage) {
		events.Add(1)
	})

	d.handleFrame(controlFrame(t, wire.KindPing))
	d.handleFrame(controlFrame(t, wire.KindPong))

	assert.Equal(t, int32(1), pings.Load())
	assert.Equal(t, int32(1), pongs.Load())
	assert.Equal(t, int32(0), events.Load())
}

func TestStatusFanOut(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var mu sync.Mutex
	var got []State

	d.subscribeStatus(func(status Status) {
		mu.Lock()
		got = append(got, status.State)
		mu.Unlock()
	})
	unsub := d.subscribeStatus(func(status Status) {
		mu.Lock()
		got = append(got, status.State)
		mu.Unlock()
	})

	d.distributeStatus(Status{State: StateConnecting})

	unsub()
	d.distributeStatus(Status{State: StateConnected})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnecting, StateConnected}, got)
}

func TestStatusSubscriberPanicIsolated(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var calls atomic.Int32
	d.subscribeStatus(func(Status) {
		panic("status subscriber bug")
	})
	d.subscribeStatus(func(Status) {
		calls.Add(1)
	})

	d.distributeStatus(Status{State: StateConnected})
	assert.Equal(t, int32(1), calls.Load())
}
