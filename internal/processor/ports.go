package processor

import (
	"context"

	"github.com/provtools/userbot/internal/backend"
	"github.com/provtools/userbot/internal/jira"
	"github.com/provtools/userbot/internal/secrets"
)

// TicketStore is the narrow slice of the ticket tracker the loop needs.
type TicketStore interface {
	Search(ctx context.Context, jql string) ([]jira.Issue, error)
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	GetComments(ctx context.Context, key string) ([]jira.Comment, error)
	AddComment(ctx context.Context, key, body string) error
	AddAttachment(ctx context.Context, key, filename string, content []byte) (string, error)
	DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error)
	TransitionTo(ctx context.Context, key, statusName string) error
}

// CredentialSource resolves tenant credentials. *secrets.Cache satisfies it.
type CredentialSource interface {
	Lookup(ctx context.Context, identifier string) (secrets.Credentials, error)
}

// BackendAPI is the downstream user/team API.
type BackendAPI interface {
	Authenticate(ctx context.Context, email, password string) error
	ExistingEmails(ctx context.Context) (map[string]bool, error)
	SearchTeams(ctx context.Context) ([]backend.Team, error)
	SearchRoles(ctx context.Context) ([]backend.RoleInfo, error)
	CreateTeam(ctx context.Context, name string) (backend.Team, error)
	CreateUser(ctx context.Context, user backend.NewUser) error
}

// Intelligence is the AI black box: intent detection and header mapping.
type Intelligence interface {
	DetectIntent(ctx context.Context, summary, description string) (bool, error)
	MapHeaders(ctx context.Context, headers []string, canonical []string) (map[string]string, error)
}

// Journal records processing outcomes. *runlog.Store satisfies it.
type Journal interface {
	Record(ctx context.Context, ticketKey, step, status, detail string)
}

// nopJournal is used when no journal is configured.
type nopJournal struct{}

func (nopJournal) Record(context.Context, string, string, string, string) {}
