package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/provtools/userbot/internal/fingerprint"
)

// Comment is the slice of a ticket comment the state machine needs.
type Comment struct {
	AuthorID   string
	AuthorName string
	Body       string
	Created    time.Time
}

// Status is the result of scanning a ticket's comments.
type Status string

const (
	// StatusNoRequest means no approval-request comment was found.
	StatusNoRequest Status = "no_request"
	// StatusPending means a request exists with no qualifying approval after it.
	StatusPending Status = "pending"
	// StatusApproved means a request exists, was approved, and the current
	// attachments still match the recorded fingerprints.
	StatusApproved Status = "approved"
	// StatusInvalid means the request was approved but its payload is
	// unrecoverable or the attachments changed since it was posted.
	StatusInvalid Status = "invalid"
)

// Outcome is the full reconciliation result callers branch on.
type Outcome struct {
	Status          Status
	Message         string
	Request         *Request
	ApprovalComment *Comment
}

// Reconcile computes the approval decision for a ticket. It is a pure
// function of the comment list and the current attachment fingerprints;
// re-running it without new comments or attachment changes yields the same
// outcome, so callers may invoke it on every wake.
func Reconcile(comments []Comment, current []fingerprint.Fingerprint, botAccountID string) Outcome {
	request := latestRequestComment(comments, botAccountID)
	if request == nil {
		return Outcome{
			Status:  StatusNoRequest,
			Message: "no approval request found on ticket",
		}
	}

	reply := approvalReplyAfter(comments, request.Created, botAccountID)
	if reply == nil {
		return Outcome{
			Status:  StatusPending,
			Message: "approval request posted, awaiting an \"approved\" reply",
		}
	}

	parsed, err := ParseEmbedded(request.Body)
	if err != nil {
		// Never silently treat an unreadable request as approved.
		return Outcome{
			Status:          StatusInvalid,
			Message:         fmt.Sprintf("approval request is missing structured data (%v); a new approval request is required", err),
			ApprovalComment: reply,
		}
	}

	diff := fingerprint.Compare(current, parsed.Attachments)
	if !diff.Valid {
		return Outcome{
			Status:          StatusInvalid,
			Message:         describeDiff(diff),
			Request:         &parsed,
			ApprovalComment: reply,
		}
	}

	return Outcome{
		Status:          StatusApproved,
		Message:         fmt.Sprintf("approved by %s", reply.AuthorName),
		Request:         &parsed,
		ApprovalComment: reply,
	}
}

// latestRequestComment finds the most recently created bot comment carrying
// the current request marker. Superseded older requests are ignored entirely,
// including for the purpose of detecting replies to them.
func latestRequestComment(comments []Comment, botAccountID string) *Comment {
	var latest *Comment
	for i := range comments {
		c := &comments[i]
		if c.AuthorID != botAccountID {
			continue
		}
		if !strings.Contains(c.Body, RequestMarker) {
			continue
		}
		if latest == nil || c.Created.After(latest.Created) {
			latest = c
		}
	}
	return latest
}

// approvalReplyAfter finds the first non-bot comment strictly after the given
// time whose normalized body is exactly "approved".
func approvalReplyAfter(comments []Comment, after time.Time, botAccountID string) *Comment {
	var reply *Comment
	for i := range comments {
		c := &comments[i]
		if c.AuthorID == botAccountID {
			continue
		}
		if !c.Created.After(after) {
			continue
		}
		if normalize(c.Body) != "approved" {
			continue
		}
		if reply == nil || c.Created.Before(reply.Created) {
			reply = c
		}
	}
	return reply
}

// normalize lowercases, trims, and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func describeDiff(diff fingerprint.Diff) string {
	var parts []string
	if len(diff.Added) > 0 {
		parts = append(parts, fmt.Sprintf("added: %s", strings.Join(diff.Added, ", ")))
	}
	if len(diff.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("removed: %s", strings.Join(diff.Removed, ", ")))
	}
	if len(diff.Modified) > 0 {
		parts = append(parts, fmt.Sprintf("modified: %s", strings.Join(diff.Modified, ", ")))
	}
	return fmt.Sprintf("attachments changed since approval was requested (%s); a new approval request is required",
		strings.Join(parts, "; "))
}
