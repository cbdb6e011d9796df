package lifecycle

// State is the position of the application in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateStarting:      "starting",
	StateRunning:       "running",
	StateClosing:       "closing",
	StateClosed:        "closed",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
