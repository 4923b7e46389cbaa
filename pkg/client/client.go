package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pushwire/pushwire-go/internal/metrics"
	"github.com/pushwire/pushwire-go/internal/telemetry"
	"github.com/pushwire/pushwire-go/pkg/wire"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConnected is returned by Send when no live connection exists
	ErrNotConnected = errors.New("client: not connected")

	// ErrRateLimited is returned by Send when the outbound throttle rejects a frame
	ErrRateLimited = errors.New("client: send rate limit exceeded")

	// ErrSendFailed is returned by Send when the live connection rejects the write
	ErrSendFailed = errors.New("client: send failed")

	// ErrRetriesExhausted is carried by the final Disconnected status once the
	// reconnect attempt budget is spent
	ErrRetriesExhausted = errors.New("client: reconnect attempts exhausted")
)

// TokenSource supplies the authentication token for a connection attempt.
// It is consulted once per attempt, so rotated tokens are picked up on
// reconnect.
type TokenSource func() (string, error)

// StaticToken returns a TokenSource that always yields the same token
func StaticToken(token string) TokenSource {
	return func() (string, error) {
		return token, nil
	}
}

// Config contains client configuration
type Config struct {
	// Base URL of the push server (http or https scheme)
	ServerURL string

	// Path of the WebSocket endpoint on the server
	Path string

	// TokenSource supplies the auth token appended to the connection URL
	TokenSource TokenSource

	// Interval between keepalive pings
	PingInterval time.Duration

	// Number of consecutive unanswered pings after which the connection is
	// torn down as stale. Zero disables the check; pong absence is then
	// informational only.
	MissedPongLimit int

	// Delay before the first reconnect attempt
	ReconnectInterval time.Duration

	// Multiplier applied to the delay for each further attempt
	BackoffFactor float64

	// Ceiling on the computed backoff delay
	MaxReconnectInterval time.Duration

	// Consecutive failures tolerated before the service settles in
	// StateDisconnected and waits for an explicit Connect
	MaxReconnectAttempts int

	// Timeout for the WebSocket handshake
	HandshakeTimeout time.Duration

	// Timeout for each outbound frame write
	WriteTimeout time.Duration

	// Outbound Send throttle in frames per second. Zero disables it.
	// Keepalive pings and pong replies are never throttled.
	SendRatePerSecond float64

	// Burst size of the send throttle
	SendBurst int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Path:                 "/ws/notifications",
		PingInterval:         30 * time.Second,
		MissedPongLimit:      0,
		ReconnectInterval:    3 * time.Second,
		BackoffFactor:        1.5,
		MaxReconnectInterval: 60 * time.Second,
		MaxReconnectAttempts: 10,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		SendBurst:            8,
	}
}

// Service maintains a resilient WebSocket connection to the push server and
// fans inbound notifications out to subscribers. Failures never propagate to
// callers; they surface as status transitions on the status subscription.
type Service struct {
	config  Config
	dialer  Dialer
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	policy     *reconnectPolicy
	dispatcher *dispatcher
	keepalive  *keepalive
	limiter    *rate.Limiter

	mu          sync.Mutex
	channel     *channel
	userID      int64
	epoch       uint64
	retryTimer  *time.Timer
	connectSpan trace.Span
	statusQueue []Status
	notifying   bool
}

// New creates a notification transport client. The returned service is idle
// until Connect is called.
func New(config Config, options ...Option) *Service {
	defaults := DefaultConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.PingInterval == 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = defaults.ReconnectInterval
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.MaxReconnectInterval == 0 {
		config.MaxReconnectInterval = defaults.MaxReconnectInterval
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.SendBurst == 0 {
		config.SendBurst = defaults.SendBurst
	}

	s := &Service{
		config: config,
		dialer: gorillaDialer{dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		}},
		logger:  log.With().Str("component", "client").Logger(),
		metrics: metrics.GetMetrics(),
		tracer:  telemetry.Tracer("pushwire/client"),
	}

	// Apply options
	for _, option := range options {
		option(s)
	}

	s.policy = newReconnectPolicy(
		config.ReconnectInterval,
		config.BackoffFactor,
		config.MaxReconnectInterval,
		config.MaxReconnectAttempts,
	)
	s.dispatcher = newDispatcher(s.logger)
	s.dispatcher.onPing = s.answerPing
	s.dispatcher.onPong = s.handlePong
	s.keepalive = newKeepalive(config.PingInterval, config.MissedPongLimit, s.logger)
	s.keepalive.send = s.sendPing
	s.keepalive.stale = s.staleConnection

	if config.SendRatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.SendRatePerSecond), config.SendBurst)
	}

	return s
}

// Connect opens a connection for the given subscriber. Calling Connect while
// a connection is active or in flight is a logged no-op. Failures do not
// surface here; they arrive as status transitions.
func (s *Service) Connect(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.policy.beginConnect() {
		s.logger.Debug().Str("state", string(s.policy.currentState())).Msg("Connect ignored, connection already active")
		return
	}

	s.logger.Info().Int64("user_id", userID).Msg("Connecting to push server")
	s.userID = userID
	s.cancelRetryLocked()
	err := s.openChannelLocked()
	s.notifyLocked(StateConnecting, nil)
	if err != nil {
		s.failLocked(err)
	}
}

// Disconnect shuts the connection down gracefully and suppresses any
// automatic reconnect. Disconnecting an idle service is a no-op.
func (s *Service) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy.currentState() == StateDisconnected {
		s.logger.Debug().Msg("Disconnect ignored, already disconnected")
		return
	}

	s.logger.Info().Msg("Disconnecting from push server")
	s.cancelRetryLocked()
	s.keepalive.stop()

	live := s.policy.beginDisconnect()
	ch := s.channel

	if live && ch != nil {
		// Keep the channel registered so its close confirmation is accepted
		ch.close(websocket.CloseNormalClosure, "client disconnect")
		s.notifyLocked(StateDisconnecting, nil)
		return
	}

	if ch != nil {
		ch.close(websocket.CloseNormalClosure, "client disconnect")
		s.channel = nil
	}
	s.endSpanLocked(context.Canceled)
	s.policy.confirmDisconnect()
	s.notifyLocked(StateDisconnected, nil)
}

// ForceReconnect drops any existing connection and dials again immediately,
// with the attempt counter restarted at zero
func (s *Service) ForceReconnect(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info().Int64("user_id", userID).Msg("Forcing reconnect")
	s.cancelRetryLocked()
	s.keepalive.stop()

	if s.channel != nil {
		old := s.channel
		s.channel = nil
		old.close(websocket.CloseNormalClosure, "client reconnect")
	}
	s.endSpanLocked(context.Canceled)

	s.userID = userID
	s.policy.reset()
	err := s.openChannelLocked()
	s.notifyLocked(StateConnecting, nil)
	if err != nil {
		s.failLocked(err)
	}
}

// Send builds a frame of the given kind and transmits it. When no live
// connection exists the frame is dropped with a warning and ErrNotConnected;
// the transport's health is unaffected.
func (s *Service) Send(kind wire.Kind, data interface{}) error {
	s.mu.Lock()
	ch := s.channel
	connected := s.policy.currentState() == StateConnected
	s.mu.Unlock()

	if !connected || ch == nil {
		s.logger.Warn().Str("kind", string(kind)).Msg("Send skipped, not connected")
		s.metrics.SendsDroppedTotal.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn().Str("kind", string(kind)).Msg("Send dropped, rate limit exceeded")
		s.metrics.SendsDroppedTotal.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	msg, err := wire.New(kind, data)
	if err != nil {
		return err
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}

	if err := ch.send(raw); err != nil {
		s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Send failed")
		s.metrics.SendsDroppedTotal.WithLabelValues("write_error").Inc()
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.metrics.FramesSentTotal.WithLabelValues(string(kind)).Inc()
	return nil
}

// Subscribe registers a callback for inbound notifications and returns a
// function that removes exactly that registration
func (s *Service) Subscribe(fn EventFunc) func() {
	return s.dispatcher.subscribe(fn)
}

// SubscribeStatus registers a callback for connection status transitions
// and returns a function that removes exactly that registration
func (s *Service) SubscribeStatus(fn StatusFunc) func() {
	return s.dispatcher.subscribeStatus(fn)
}

// IsConnected reports whether the connection is currently established
func (s *Service) IsConnected() bool {
	return s.policy.currentState() == StateConnected
}

// State returns the current connection state
func (s *Service) State() State {
	return s.policy.currentState()
}

// GetStats returns a snapshot of the service's connection health
func (s *Service) GetStats() Stats {
	state, attempts := s.policy.snapshot()
	return Stats{
		IsConnected:       state == StateConnected,
		ReconnectAttempts: attempts,
		ConnectionState:   state,
	}
}

// openChannelLocked creates a fresh channel and begins the dial. A non-nil
// return means no dial started; the caller records the failure after it has
// published the Connecting transition. Callers hold s.mu.
func (s *Service) openChannelLocked() error {
	target, err := s.buildURLLocked()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build connection URL")
		return err
	}

	_, attempts := s.policy.snapshot()
	_, span := s.tracer.Start(context.Background(), "client.connect",
		trace.WithAttributes(
			attribute.Int64("user_id", s.userID),
			attribute.Int("attempt", attempts+1),
		))
	s.connectSpan = span

	var ch *channel
	ch = newChannel(s.dialer, channelHandlers{
		OnOpen:    func() { s.handleOpen(ch) },
		OnMessage: func(data []byte) { s.handleMessage(ch, data) },
		OnError:   func(err error) { s.handleError(ch, err) },
		OnClose:   func(code int, reason string) { s.handleClose(ch, code, reason) },
	}, s.config.WriteTimeout, s.logger)

	s.channel = ch
	s.metrics.ConnectAttemptsTotal.Inc()
	ch.open(target)
	return nil
}

// buildURLLocked derives the WebSocket URL from the configured server URL,
// with the auth token and subscriber id as query parameters
func (s *Service) buildURLLocked() (string, error) {
	u, err := url.Parse(s.config.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	var token string
	if s.config.TokenSource != nil {
		token, err = s.config.TokenSource()
		if err != nil {
			return "", fmt.Errorf("read auth token: %w", err)
		}
	}

	u.Path = s.config.Path
	q := u.Query()
	q.Set("token", token)
	q.Set("userId", strconv.FormatInt(s.userID, 10))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// handleOpen runs when the channel finishes its handshake
func (s *Service) handleOpen(ch *channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != ch {
		return
	}

	s.policy.connected()
	s.endSpanLocked(nil)
	s.metrics.ConnectionUp.Set(1)
	s.logger.Info().Int64("user_id", s.userID).Msg("Connected to push server")
	s.keepalive.start()
	s.notifyLocked(StateConnected, nil)
}

// handleMessage routes one inbound frame from the current channel
func (s *Service) handleMessage(ch *channel, data []byte) {
	s.mu.Lock()
	current := s.channel == ch
	s.mu.Unlock()

	if !current {
		return
	}
	s.dispatcher.handleFrame(data)
}

// handleError runs when a dial attempt fails before the channel opened
func (s *Service) handleError(ch *channel, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != ch {
		return
	}

	s.channel = nil
	s.endSpanLocked(err)
	s.failLocked(err)
}

// handleClose runs when an open channel's connection ends, for any reason
func (s *Service) handleClose(ch *channel, code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != ch {
		return
	}

	s.channel = nil
	s.keepalive.stop()
	s.metrics.ConnectionUp.Set(0)

	if s.policy.manualStopped() {
		s.policy.confirmDisconnect()
		s.logger.Info().Int("code", code).Msg("Disconnected")
		s.notifyLocked(StateDisconnected, nil)
		return
	}

	err := fmt.Errorf("connection closed: code=%d reason=%q", code, reason)
	s.logger.Warn().Int("code", code).Str("reason", reason).Msg("Connection closed unexpectedly")
	s.failLocked(err)
}

// failLocked records a failure and either schedules a retry, gives up, or
// settles quietly when a manual stop raced the failure. Callers hold s.mu.
func (s *Service) failLocked(cause error) {
	decision := s.policy.failure()

	switch {
	case decision.retry:
		s.logger.Info().
			Err(cause).
			Int("attempt", decision.attempt).
			Dur("delay", decision.delay).
			Msg("Connection failed, reconnect scheduled")
		s.metrics.ReconnectsScheduledTotal.Inc()
		s.scheduleRetryLocked(decision.delay)
		s.notifyLocked(StateErrored, cause)

	case decision.terminal:
		s.logger.Error().
			Err(cause).
			Int("attempts", decision.attempt).
			Msg("Reconnect attempts exhausted, giving up")
		s.metrics.RetriesExhaustedTotal.Inc()
		s.notifyLocked(StateErrored, cause)
		s.notifyLocked(StateDisconnected, ErrRetriesExhausted)

	default:
		s.notifyLocked(StateDisconnected, nil)
	}
}

// scheduleRetryLocked arms the reconnect timer. The epoch captured here is
// checked when the timer fires, so a timer outlived by a disconnect or a
// forced reconnect does nothing.
func (s *Service) scheduleRetryLocked(delay time.Duration) {
	epoch := s.epoch
	s.retryTimer = time.AfterFunc(delay, func() {
		s.retryConnect(epoch)
	})
}

// retryConnect runs when the reconnect timer fires
func (s *Service) retryConnect(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return
	}
	s.retryTimer = nil

	if !s.policy.retrying() {
		return
	}

	s.logger.Info().Int64("user_id", s.userID).Msg("Reconnecting to push server")
	err := s.openChannelLocked()
	s.notifyLocked(StateConnecting, nil)
	if err != nil {
		s.failLocked(err)
	}
}

// cancelRetryLocked invalidates any pending reconnect timer. Callers hold
// s.mu.
func (s *Service) cancelRetryLocked() {
	s.epoch++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// notifyLocked queues one status transition and, unless a drain is already
// running, delivers the queue in order with the lock released around each
// callback. Callbacks may call back into the service; their transitions are
// appended to the same queue, so subscribers always observe transitions in
// the order they happened. Callers hold s.mu.
func (s *Service) notifyLocked(state State, err error) {
	s.statusQueue = append(s.statusQueue, Status{State: state, Err: err})
	if s.notifying {
		return
	}

	s.notifying = true
	for len(s.statusQueue) > 0 {
		next := s.statusQueue[0]
		s.statusQueue = s.statusQueue[1:]
		s.mu.Unlock()
		s.dispatcher.distributeStatus(next)
		s.mu.Lock()
	}
	s.notifying = false
}

// sendPing transmits one keepalive ping, bypassing the send throttle
func (s *Service) sendPing() error {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()

	if ch == nil {
		return ErrNotConnected
	}

	msg, err := wire.New(wire.KindPing, nil)
	if err != nil {
		return err
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := ch.send(raw); err != nil {
		return err
	}

	s.metrics.KeepalivePingsTotal.Inc()
	s.metrics.FramesSentTotal.WithLabelValues(string(wire.KindPing)).Inc()
	return nil
}

// answerPing replies to a server-initiated ping with a pong
func (s *Service) answerPing() {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()

	if ch == nil {
		return
	}

	msg, err := wire.New(wire.KindPong, nil)
	if err != nil {
		return
	}
	raw, err := msg.Encode()
	if err != nil {
		return
	}
	if err := ch.send(raw); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to answer ping")
		return
	}

	s.metrics.FramesSentTotal.WithLabelValues(string(wire.KindPong)).Inc()
}

// handlePong records a pong from the server
func (s *Service) handlePong() {
	s.metrics.KeepalivePongsTotal.Inc()
	s.keepalive.pongReceived()
}

// staleConnection tears down a connection whose pings went unanswered. The
// abnormal close feeds the ordinary retry path.
func (s *Service) staleConnection() {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()

	if ch == nil {
		return
	}

	s.logger.Warn().Msg("Connection stale, dropping socket")
	s.metrics.StaleConnectionsTotal.Inc()
	ch.kill()
}

// endSpanLocked finishes the connection-attempt span, if one is running.
// Callers hold s.mu.
func (s *Service) endSpanLocked(err error) {
	if s.connectSpan == nil {
		return
	}
	if err != nil {
		s.connectSpan.RecordError(err)
		s.connectSpan.SetStatus(codes.Error, err.Error())
	} else {
		s.connectSpan.SetStatus(codes.Ok, "")
	}
	s.connectSpan.End()
	s.connectSpan = nil
}
