package syncer

// State is the sync engine's externally visible state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateReceiving
	StatePaused
	StateDisconnected
)

// connState is connectivity as witnessed by the last remote exchange. A
// fresh engine has witnessed nothing, which is distinct from a known outage.
type connState int

const (
	connUnknown connState = iota
	connUp
	connDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateReceiving:
		return "receiving"
	case StatePaused:
		return "paused"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
