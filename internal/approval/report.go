package approval

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provtools/userbot/internal/faults"
	"github.com/provtools/userbot/internal/fingerprint"
)

// UserFailure records one user whose creation failed during upload.
type UserFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// UploadSummary is the per-ticket outcome of an upload run.
type UploadSummary struct {
	UsersCreated int           `json:"users_created"`
	UsersFailed  int           `json:"users_failed"`
	TeamsCreated int           `json:"teams_created"`
	Failures     []UserFailure `json:"failures,omitempty"`
}

// Report is the structured final-report payload posted after an upload. Its
// recorded fingerprints let a later run detect that the currently-attached
// files were already processed, the same mechanism as the approval check.
type Report struct {
	TicketKey   string                    `json:"ticket_key"`
	RequestID   uuid.UUID                 `json:"request_id,omitempty"`
	Tenant      string                    `json:"tenant"`
	Summary     UploadSummary             `json:"summary"`
	Attachments []fingerprint.Fingerprint `json:"attachments"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// RenderReport produces the final-report comment body.
func RenderReport(report Report) (string, error) {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal final report: %w", err)
	}

	var b strings.Builder
	b.WriteString(ReportMarker)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Upload to tenant *%s* finished.\n\n", report.Tenant)
	fmt.Fprintf(&b, "* Users created: %d\n", report.Summary.UsersCreated)
	fmt.Fprintf(&b, "* Users failed: %d\n", report.Summary.UsersFailed)
	fmt.Fprintf(&b, "* Teams created: %d\n", report.Summary.TeamsCreated)
	for _, f := range report.Summary.Failures {
		fmt.Fprintf(&b, "** %s: %s\n", f.Email, f.Reason)
	}
	b.WriteString("\n{code:json}\n")
	b.Write(payload)
	b.WriteString("\n{code}\n")
	return b.String(), nil
}

// ParseReport recovers a final-report payload from a comment body.
func ParseReport(text string) (Report, error) {
	idx := strings.Index(text, ReportMarker)
	if idx < 0 {
		return Report{}, fmt.Errorf("%w: no final-report marker", faults.ErrNotFound)
	}

	payload, ok := extractPayload(text[idx+len(ReportMarker):])
	if !ok {
		return Report{}, faults.Integrityf("final report has no recoverable payload")
	}

	var report Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return Report{}, faults.Integrityf("final report payload unparseable: %v", err)
	}
	return report, nil
}

// ReportPosted reports whether a bot-authored final report already covers the
// currently-attached files. This is the idempotency check for re-runs of an
// already-processed ticket: matching fingerprints mean nothing to redo.
func ReportPosted(comments []Comment, current []fingerprint.Fingerprint, botAccountID string) bool {
	for i := range comments {
		c := &comments[i]
		if c.AuthorID != botAccountID {
			continue
		}
		report, err := ParseReport(c.Body)
		if err != nil {
			continue
		}
		if fingerprint.Compare(current, report.Attachments).Valid {
			return true
		}
	}
	return false
}
