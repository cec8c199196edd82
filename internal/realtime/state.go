package realtime

// State is the lifecycle phase of a live voice session.
type State int

const (
	StateIdle State = iota
	StateAcquiringMicrophone
	StateConnecting
	StateConnected
	StateRetrying
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMicrophone:
		return "acquiring_microphone"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
