package client

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelRecorder collects channel lifecycle callbacks in order
type channelRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *channelRecorder) handlers() channelHandlers {
	return channelHandlers{
		OnOpen: func() {
			r.add("open")
		},
		OnMessage: func(data []byte) {
			r.add("message:" + string(data))
		},
		OnError: func(err error) {
			r.add("error:" + err.Error())
		},
		OnClose: func(code int, reason string) {
			r.add(fmt.Sprintf("close:%d", code))
		},
	}
}

func (r *channelRecorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *channelRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *channelRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestChannelDialErrorFiresOnError(t *testing.T) {
	dialer := &fakeDialer{failures: -1}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())
	ch.open("ws://push.test/ws")

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"error:dial refused"}, rec.snapshot())

	// A failed dial produces no close callback
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestChannelLifecycleOrder(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())
	ch.open("ws://push.test/ws")

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)

	conn := dialer.conn(0)
	conn.deliver([]byte("one"))
	conn.deliver([]byte("two"))

	require.Eventually(t, func() bool {
		return rec.count() == 3
	}, time.Second, 5*time.Millisecond)

	conn.abnormalClose()

	require.Eventually(t, func() bool {
		return rec.count() == 4
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{
		"open",
		"message:one",
		"message:two",
		fmt.Sprintf("close:%d", websocket.CloseAbnormalClosure),
	}, rec.snapshot())
}

func TestChannelGracefulClose(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())
	ch.open("ws://push.test/ws")

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)

	ch.close(websocket.CloseNormalClosure, "done")

	require.Eventually(t, func() bool {
		return rec.count() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, fmt.Sprintf("close:%d", websocket.CloseNormalClosure), rec.snapshot()[1])
}

func TestChannelCloseIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())
	ch.open("ws://push.test/ws")

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)

	ch.close(websocket.CloseNormalClosure, "done")
	ch.close(websocket.CloseNormalClosure, "done")

	require.Eventually(t, func() bool {
		return rec.count() == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, rec.count())
}

func TestChannelSendWithoutConnection(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())

	err := ch.send([]byte("frame"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestChannelSendAfterClose(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())
	ch.open("ws://push.test/ws")

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)

	ch.close(websocket.CloseNormalClosure, "done")

	err := ch.send([]byte("frame"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

// gatedDialer blocks the dial until the gate is released
type gatedDialer struct {
	gate chan struct{}
	conn *fakeConn
}

func (d *gatedDialer) Dial(string, http.Header) (Conn, *http.Response, error) {
	<-d.gate
	return d.conn, nil, nil
}

func TestChannelClosedWhileDialing(t *testing.T) {
	dialer := &gatedDialer{gate: make(chan struct{}), conn: newFakeConn()}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())
	ch.open("ws://push.test/ws")

	// Close before the dial completes, then let it finish
	ch.close(websocket.CloseNormalClosure, "late")
	close(dialer.gate)

	require.Eventually(t, dialer.conn.isClosed, time.Second, 5*time.Millisecond)

	// The late connection is dropped silently
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestChannelKillSurfacesAbnormalClose(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &channelRecorder{}

	ch := newChannel(dialer, rec.handlers(), time.Second, zerolog.Nop())
	ch.open("ws://push.test/ws")

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)

	ch.kill()

	require.Eventually(t, func() bool {
		return rec.count() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, fmt.Sprintf("close:%d", websocket.CloseAbnormalClosure), rec.snapshot()[1])
}
