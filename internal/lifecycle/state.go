// Package lifecycle models the ticket status machine the processing loop
// drives: which trigger is legal from which status, so an illegal transition
// is a programming error instead of a silently misposted comment.
package lifecycle

// State is a ticket workflow status.
type State string

const (
	StateOpen         State = "OPEN"
	StateReview       State = "REVIEW"
	StateInfoRequired State = "INFO_REQUIRED"
	StateClosed       State = "CLOSED"
)

var validStates = map[State]bool{
	StateOpen:         true,
	StateReview:       true,
	StateInfoRequired: true,
	StateClosed:       true,
}

var terminalStates = map[State]bool{
	StateClosed: true,
}

// IsTerminal returns true if no further transitions are allowed from the state.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a known workflow status.
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Trigger is an event that can cause a status transition.
type Trigger string

const (
	// TriggerRequestInfo is fired when credentials are missing and setup
	// instructions were posted.
	TriggerRequestInfo Trigger = "REQUEST_INFO"

	// TriggerRequestApproval is fired when an approval request was posted.
	TriggerRequestApproval Trigger = "REQUEST_APPROVAL"

	// TriggerDirectUpload is fired when an exact-match submission was
	// uploaded without an approval gate.
	TriggerDirectUpload Trigger = "DIRECT_UPLOAD"

	// TriggerComplete is fired when an approved upload finished and the
	// final report was posted.
	TriggerComplete Trigger = "COMPLETE"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
