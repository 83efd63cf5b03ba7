package call

// State is the controller's position in the call lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring-media"
	StateCreatingOffer  State = "creating-offer"
	StateAwaitingAnswer State = "awaiting-answer"
	StateAwaitingOffer  State = "awaiting-offer"
	StateCreatingAnswer State = "creating-answer"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateClosed
}

// transitions lists the legal moves. Any state may move to closed.
var transitions = map[State][]State{
	StateIdle:           {StateAcquiringMedia},
	StateAcquiringMedia: {StateCreatingOffer, StateAwaitingOffer},
	StateCreatingOffer:  {StateAwaitingAnswer},
	StateAwaitingAnswer: {StateConnected},
	StateAwaitingOffer:  {StateCreatingAnswer},
	StateCreatingAnswer: {StateConnected},
}

func canTransition(from, to State) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
