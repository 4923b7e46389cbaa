package client

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// keepalive periodically probes the connection with ping frames to detect
// a socket that is open but no longer served by anything.
type keepalive struct {
	interval    time.Duration
	missedLimit int
	logger      zerolog.Logger

	// send transmits one ping frame. Failures are logged and swallowed;
	// a dead connection is detected by the read loop, not by the ticker.
	send func() error

	// stale fires when missedLimit consecutive pings go unanswered
	stale func()

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
	missed int
}

func newKeepalive(interval time.Duration, missedLimit int, logger zerolog.Logger) *keepalive {
	return &keepalive{
		interval:    interval,
		missedLimit: missedLimit,
		logger:      logger,
	}
}

// start arms the ping ticker, replacing any previous one
func (k *keepalive) start() {
	k.stop()

	k.mu.Lock()
	k.ticker = time.NewTicker(k.interval)
	k.done = make(chan struct{})
	k.missed = 0
	ticker, done := k.ticker, k.done
	k.mu.Unlock()

	go k.run(ticker, done)
}

// stop cancels the ticker. Stopping an idle keepalive is a no-op.
func (k *keepalive) stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.ticker == nil {
		return
	}
	k.ticker.Stop()
	close(k.done)
	k.ticker = nil
	k.done = nil
}

// pongReceived resets the missed-pong accounting
func (k *keepalive) pongReceived() {
	k.mu.Lock()
	k.missed = 0
	k.mu.Unlock()
}

func (k *keepalive) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			if k.expired() {
				k.logger.Warn().Int("missed_pongs", k.missedLimit).Msg("No pong received, marking connection stale")
				k.stale()
				return
			}
			if err := k.send(); err != nil {
				k.logger.Debug().Err(err).Msg("Keepalive ping failed")
			}

		case <-done:
			return
		}
	}
}

// expired reports whether the missed-pong limit has been crossed and, when
// it has not, counts the ping about to be sent. A limit of zero disables
// the check entirely.
func (k *keepalive) expired() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.missedLimit <= 0 {
		return false
	}
	if k.missed >= k.missedLimit {
		return true
	}
	k.missed++
	return false
}
