package domain

// ConnectionStatus is the coarse status a UI renders.
type ConnectionStatus int

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusDisconnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return "connecting"
}

// NegotiatorState is the Call Negotiator's state machine position.
type NegotiatorState int

const (
	StateIdle NegotiatorState = iota
	StateInitializing
	StateNegotiating
	StateConnected
	StateDisconnected
	StateClosed
)

func (s NegotiatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions except Closed can happen.
func (s NegotiatorState) Terminal() bool {
	return s == StateDisconnected || s == StateClosed
}

// Status maps the state onto the UI status.
func (s NegotiatorState) Status() ConnectionStatus {
	switch s {
	case StateConnected:
		return StatusConnected
	case StateDisconnected, StateClosed:
		return StatusDisconnected
	}
	return StatusConnecting
}

// PeerState mirrors the aggregate state reported by a peer connection.
type PeerState int

const (
	PeerStateNew PeerState = iota
	PeerStateConnecting
	PeerStateConnected
	PeerStateDisconnected
	PeerStateFailed
	PeerStateClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerStateNew:
		return "new"
	case PeerStateConnecting:
		return "connecting"
	case PeerStateConnected:
		return "connected"
	case PeerStateDisconnected:
		return "disconnected"
	case PeerStateFailed:
		return "failed"
	case PeerStateClosed:
		return "closed"
	}
	return "unknown"
}
