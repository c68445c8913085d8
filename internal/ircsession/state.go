package ircsession

// State is a position in the per-network session state machine
// (spec.md §4.7):
//
//	DISCONNECTED --connect--> CONNECTING --welcome--> REGISTERED --join--> JOINED
//	     ^                                                               |
//	     +------------------ disconnect / error / shutdown --------------+
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateRegistered   State = "REGISTERED"
	StateJoined       State = "JOINED"
)
