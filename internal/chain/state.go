package chain

// State is a step of answering one question.
type State int

const (
	Idle State = iota
	QueryReceived
	Retrieving
	Assembling
	Generating
	Streaming
	Completed
	Errored
)

var stateNames = [...]string{
	Idle:          "idle",
	QueryReceived: "query_received",
	Retrieving:    "retrieving",
	Assembling:    "assembling",
	Generating:    "generating",
	Streaming:     "streaming",
	Completed:     "completed",
	Errored:       "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool { return s == Completed || s == Errored }

// Transition is reported to a TransitionFunc on every state change.
type Transition struct {
	SessionID string
	From, To  State
}

// TransitionFunc observes state changes. It is called synchronously and must
// not block.
type TransitionFunc func(Transition)
