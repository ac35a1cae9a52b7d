package scan

// State is a step of the scan workflow
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateProcessing
	StateAwaitingConfirmation
	StateSubmitting
)

var stateNames = map[State]string{
	StateIdle:                 "idle",
	StateCapturing:            "capturing",
	StateProcessing:           "processing",
	StateAwaitingConfirmation: "awaiting_confirmation",
	StateSubmitting:           "submitting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// transitions lists the forward moves; every state may also fall back to Idle.
// A frame arriving moves Capturing to Processing, a code being found moves to
// AwaitingConfirmation and the user's yes moves to Submitting.
var transitions = map[State][]State{
	StateIdle:                 {StateCapturing, StateProcessing},
	StateCapturing:            {StateProcessing},
	StateProcessing:           {StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateSubmitting},
	StateSubmitting:           {},
}

func (s State) canTransition(to State) bool {
	if to == StateIdle {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
