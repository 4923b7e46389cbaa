package client

import (
	"math"
	"sync"
	"time"
)

// retryDecision is the outcome of recording a failed connection attempt
type retryDecision struct {
	// retry means another attempt should be scheduled after delay
	retry bool

	// terminal means the attempt budget is exhausted and the policy has
	// settled in StateDisconnected
	terminal bool

	// attempt is the failure count after this failure
	attempt int

	// delay is the backoff before the next attempt, valid when retry is set
	delay time.Duration
}

// reconnectPolicy owns the connection state, the attempt counter and the
// manual-stop flag. It decides whether a failure retries, gives up, or was
// an intentional shutdown. It holds no timers; the service schedules the
// delays it computes.
type reconnectPolicy struct {
	baseInterval time.Duration
	growthFactor float64
	maxInterval  time.Duration
	maxAttempts  int

	mu         sync.Mutex
	state      State
	attempts   int
	manualStop bool
}

func newReconnectPolicy(base time.Duration, growth float64, maxInterval time.Duration, maxAttempts int) *reconnectPolicy {
	return &reconnectPolicy{
		baseInterval: base,
		growthFactor: growth,
		maxInterval:  maxInterval,
		maxAttempts:  maxAttempts,
		state:        StateDisconnected,
	}
}

// beginConnect transitions to StateConnecting for an explicit connect call.
// It reports false when a connection is already active or in flight, so
// callers can treat repeated connects as no-ops.
func (p *reconnectPolicy) beginConnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateDisconnected, StateErrored:
		p.state = StateConnecting
		p.manualStop = false
		return true
	default:
		return false
	}
}

// retrying transitions StateErrored to StateConnecting for a scheduled
// retry. It reports false when the retry is no longer wanted.
func (p *reconnectPolicy) retrying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateErrored || p.manualStop {
		return false
	}
	p.state = StateConnecting
	return true
}

// connected records a successful connection and resets the attempt counter
func (p *reconnectPolicy) connected() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateConnected
	p.attempts = 0
}

// failure records a failed attempt or a dead session and decides what
// happens next. The attempt counter increments per failure, so the k-th
// scheduled retry waits baseInterval * growthFactor^(k-1).
func (p *reconnectPolicy) failure() retryDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.manualStop {
		p.state = StateDisconnected
		return retryDecision{attempt: p.attempts}
	}

	p.attempts++
	if p.maxAttempts > 0 && p.attempts >= p.maxAttempts {
		p.state = StateDisconnected
		return retryDecision{terminal: true, attempt: p.attempts}
	}

	p.state = StateErrored
	return retryDecision{retry: true, attempt: p.attempts, delay: p.delayLocked(p.attempts)}
}

// beginDisconnect marks the shutdown as intentional so the close that
// follows is not retried. It reports true when a live session must confirm
// the close, in which case the state parks at StateDisconnecting.
func (p *reconnectPolicy) beginDisconnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.manualStop = true
	if p.state == StateConnected {
		p.state = StateDisconnecting
		return true
	}
	p.state = StateDisconnected
	return false
}

// confirmDisconnect settles the policy in StateDisconnected
func (p *reconnectPolicy) confirmDisconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateDisconnected
}

// reset clears the attempt counter and the manual-stop flag and moves
// straight to StateConnecting. Used by forced reconnects, which bypass
// backoff once.
func (p *reconnectPolicy) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts = 0
	p.manualStop = false
	p.state = StateConnecting
}

func (p *reconnectPolicy) manualStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.manualStop
}

func (p *reconnectPolicy) currentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// snapshot returns the current state and attempt counter together
func (p *reconnectPolicy) snapshot() (State, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state, p.attempts
}

// delayLocked computes the backoff before the given attempt number,
// starting at 1 for the first retry. The clamp happens in float space:
// the product exceeds the int64 range long before a large attempt budget
// is spent, and a converted overflow would wrap negative. Callers hold
// p.mu.
func (p *reconnectPolicy) delayLocked(attempt int) time.Duration {
	d := float64(p.baseInterval) * math.Pow(p.growthFactor, float64(attempt-1))
	if p.maxInterval > 0 && d >= float64(p.maxInterval) {
		return p.maxInterval
	}
	return time.Duration(d)
}
