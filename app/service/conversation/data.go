package conversation

// Outcome is the terminal state of handling one inbound human message.
type Outcome string

const (
	// OutcomeSkipped means the message did not address the assistant. The
	// common case, not an error.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeCompleted means the assistant replied.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the completion call failed and the failure was
	// surfaced as an assistant-authored message.
	OutcomeFailed Outcome = "failed"
)

type conversationState struct {
	synced bool
}
