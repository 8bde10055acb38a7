package tutor

import "TutorChat/internal/session"

// Phase is the orchestrator's position in the turn loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingInitialQuestion
	PhaseReady
	PhaseSubmitting
	PhaseError
	PhaseExited
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingInitialQuestion:
		return "awaiting_initial_question"
	case PhaseReady:
		return "ready"
	case PhaseSubmitting:
		return "submitting"
	case PhaseError:
		return "error"
	case PhaseExited:
		return "exited"
	default:
		return "unknown"
	}
}

// ConversationState is a point-in-time copy of the conversation.
type ConversationState struct {
	Phase    Phase
	Messages []session.Message
	Pending  bool   // a request is in flight
	Error    string // learner-facing text of the last failure, empty once a request succeeds

	// StartFailed marks an Error raised while fetching the first question.
	// Only Start, not Submit, recovers from it.
	StartFailed bool
}

// CanSubmit reports whether Submit would accept an answer in this state.
func (s ConversationState) CanSubmit() bool {
	return s.Phase == PhaseReady || (s.Phase == PhaseError && !s.StartFailed)
}
