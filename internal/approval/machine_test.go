package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provtools/userbot/internal/fingerprint"
)

const botID = "bot-account-1"

func requestComment(t *testing.T, req Request, created time.Time) Comment {
	t.Helper()
	body, err := RenderMessage(req, nil, nil)
	require.NoError(t, err)
	return Comment{AuthorID: botID, AuthorName: "userbot", Body: body, Created: created}
}

func humanComment(body string, created time.Time) Comment {
	return Comment{AuthorID: "human-1", AuthorName: "Dana Reviewer", Body: body, Created: created}
}

func TestReconcile_NoRequest(t *testing.T) {
	comments := []Comment{
		humanComment("please process this", time.Now()),
	}
	out := Reconcile(comments, nil, botID)
	assert.Equal(t, StatusNoRequest, out.Status)
}

func TestReconcile_Pending(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	req := sampleRequest()
	comments := []Comment{
		requestComment(t, req, base),
		humanComment("looks fine to me", base.Add(time.Minute)),
		humanComment("approve", base.Add(2*time.Minute)), // not the exact word
	}

	out := Reconcile(comments, req.Attachments, botID)
	assert.Equal(t, StatusPending, out.Status)
}

func TestReconcile_Approved(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	req := sampleRequest()
	comments := []Comment{
		requestComment(t, req, base),
		humanComment("  Approved \n", base.Add(time.Minute)),
	}

	out := Reconcile(comments, req.Attachments, botID)
	assert.Equal(t, StatusApproved, out.Status)
	require.NotNil(t, out.Request)
	assert.Equal(t, req.ID, out.Request.ID)
	require.NotNil(t, out.ApprovalComment)
	assert.Equal(t, "Dana Reviewer", out.ApprovalComment.AuthorName)
}

func TestReconcile_ApprovalBeforeRequestIgnored(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	req := sampleRequest()
	comments := []Comment{
		humanComment("approved", base.Add(-time.Minute)),
		requestComment(t, req, base),
	}

	out := Reconcile(comments, req.Attachments, botID)
	assert.Equal(t, StatusPending, out.Status)
}

func TestReconcile_BotApprovedIgnored(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	req := sampleRequest()
	comments := []Comment{
		requestComment(t, req, base),
		{AuthorID: botID, AuthorName: "userbot", Body: "approved", Created: base.Add(time.Minute)},
	}

	out := Reconcile(comments, req.Attachments, botID)
	assert.Equal(t, StatusPending, out.Status)
}

func TestReconcile_AttachmentChangedAfterApproval(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	req := sampleRequest()
	comments := []Comment{
		requestComment(t, req, base),
		humanComment("approved", base.Add(time.Minute)),
	}
	changed := []fingerprint.Fingerprint{
		fingerprint.New("users.csv", []byte("email\nmallory@example.com\n")),
	}

	out := Reconcile(comments, changed, botID)
	assert.Equal(t, StatusInvalid, out.Status)
	assert.Contains(t, out.Message, "modified: users.csv")
	assert.Contains(t, out.Message, "new approval request is required")
}

func TestReconcile_UnreadableRequestNeverApproves(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	comments := []Comment{
		{AuthorID: botID, Body: RequestMarker + "\n\npayload got eaten by an edit", Created: base},
		humanComment("approved", base.Add(time.Minute)),
	}

	out := Reconcile(comments, nil, botID)
	assert.Equal(t, StatusInvalid, out.Status)
	assert.Nil(t, out.Request)
}

func TestReconcile_LatestRequestWins(t *testing.T) {
	// An approval of the first request does not carry over to a later one.
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	first := sampleRequest()
	second := sampleRequest()
	second.Attachments = []fingerprint.Fingerprint{
		fingerprint.New("users.csv", []byte("email\nbob@example.com\n")),
	}

	comments := []Comment{
		requestComment(t, first, base),
		humanComment("approved", base.Add(time.Minute)),
		requestComment(t, second, base.Add(2*time.Minute)),
	}

	out := Reconcile(comments, second.Attachments, botID)
	assert.Equal(t, StatusPending, out.Status, "approval of a superseded request must not apply")
}

func TestReconcile_FirstQualifyingReplyWins(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	req := sampleRequest()
	comments := []Comment{
		requestComment(t, req, base),
		{AuthorID: "human-2", AuthorName: "Early Bird", Body: "approved", Created: base.Add(time.Minute)},
		humanComment("approved", base.Add(2*time.Minute)),
	}

	out := Reconcile(comments, req.Attachments, botID)
	require.Equal(t, StatusApproved, out.Status)
	assert.Equal(t, "Early Bird", out.ApprovalComment.AuthorName)
}

func TestReconcile_IsDeterministic(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	req := sampleRequest()
	comments := []Comment{
		requestComment(t, req, base),
		humanComment("approved", base.Add(time.Minute)),
	}

	first := Reconcile(comments, req.Attachments, botID)
	second := Reconcile(comments, req.Attachments, botID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Message, second.Message)
}

func TestRequired(t *testing.T) {
	canonical := []string{"email", "first name", "last name", "job title", "mobile number", "teams", "user role"}
	foreign := []string{"e-mail address", "given name", "surname", "job title", "mobile number", "teams", "user role"}

	tests := []struct {
		name    string
		usedAI  bool
		headers []string
		mapping map[string]string
		want    bool
	}{
		{"exact headers, no mapping", false, canonical, nil, false},
		{"exact headers, identity mapping", true, canonical, map[string]string{"email": "email"}, false},
		{"foreign headers", true, foreign, map[string]string{"e-mail address": "email"}, true},
		{"single renamed header", true, []string{"e-mail", "first name", "last name", "job title", "mobile number", "teams", "user role"}, map[string]string{"e-mail": "email"}, true},
		{"missing column", false, canonical[:6], nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Required(tt.usedAI, tt.headers, tt.mapping))
		})
	}
}
