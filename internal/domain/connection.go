package domain

// ConnectionState describes the lifecycle of the gateway connection.
// Transitions are driven exclusively by socket lifecycle events and
// handshake outcomes.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)
