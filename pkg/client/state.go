package client

// State represents the connection lifecycle phase of the service
type State string

const (
	// StateDisconnected means no connection exists and none is being attempted
	StateDisconnected State = "disconnected"

	// StateConnecting means a connection attempt is in flight
	StateConnecting State = "connecting"

	// StateConnected means the connection is established and live
	StateConnected State = "connected"

	// StateDisconnecting means a graceful shutdown of the connection is underway
	StateDisconnecting State = "disconnecting"

	// StateErrored means the last attempt or session failed; a retry may be pending
	StateErrored State = "errored"
)

// Status describes one state transition delivered to status subscribers.
// Err carries the failure that caused the transition, if any.
type Status struct {
	State State
	Err   error
}

// Stats is a point-in-time snapshot of the service's connection health
type Stats struct {
	IsConnected       bool  `json:"is_connected"`
	ReconnectAttempts int   `json:"reconnect_attempts"`
	ConnectionState   State `json:"connection_state"`
}
