package ingest

// State is a position in the worker lifecycle:
//
//	DISCONNECTED -> CONNECTING -> SUBSCRIBED <-> PROCESSING
//	SUBSCRIBED -> CONNECTING on disruption, any -> DISCONNECTED on shutdown
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateProcessing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}
