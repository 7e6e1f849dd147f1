// Package approval builds human-reviewable approval requests and decides,
// from a ticket's comment history, whether a proposed upload may proceed.
package approval

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provtools/userbot/internal/dataset"
	"github.com/provtools/userbot/internal/fingerprint"
	"github.com/provtools/userbot/internal/teamname"
)

// Request is the structured, round-trippable record of what was proposed.
// Requests are append-only: a run that needs re-approval posts a brand new
// one, and the most recently created request on the ticket is the current one.
type Request struct {
	ID              uuid.UUID                 `json:"id"`
	TicketKey       string                    `json:"ticket_key"`
	Tenant          string                    `json:"tenant"`
	UserCount       int                       `json:"user_count"`
	TeamCount       int                       `json:"team_count"`
	Teams           []string                  `json:"teams"`
	Attachments     []fingerprint.Fingerprint `json:"attachments"`
	ColumnMapping   map[string]string         `json:"column_mapping,omitempty"`
	CSVAttachmentID string                    `json:"csv_attachment_id,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// Required reports whether a submission needs human approval. Exact-match
// submissions, where the lower-cased headers equal the canonical set and no
// non-trivial renaming was applied, bypass approval entirely.
func Required(usedAIMapping bool, originalHeaders []string, mapping map[string]string) bool {
	if !dataset.HeadersMatchCanonical(originalHeaders) {
		return true
	}
	if usedAIMapping && !dataset.IsIdentityMapping(mapping) {
		return true
	}
	return false
}

// BuildResult bundles the request with the analysis and post-split records
// that back the generated review file.
type BuildResult struct {
	Request      Request
	TeamAnalysis teamname.Result
	SplitRecords []dataset.UserRecord
}

// Build runs the team-name analysis over the valid records, applies the
// resulting splits, fingerprints the attachments, and assembles the request.
func Build(ticketKey, tenant string, records []dataset.UserRecord, attachments []fingerprint.Fingerprint, mapping map[string]string) BuildResult {
	analysis := teamname.AnalyzeDataset(records)
	split := teamname.ApplySplitting(records, analysis.Analyses)

	teams := distinctTeams(split)

	return BuildResult{
		Request: Request{
			ID:            uuid.New(),
			TicketKey:     ticketKey,
			Tenant:        tenant,
			UserCount:     len(split),
			TeamCount:     len(teams),
			Teams:         teams,
			Attachments:   attachments,
			ColumnMapping: mapping,
			CreatedAt:     time.Now().UTC(),
		},
		TeamAnalysis: analysis,
		SplitRecords: split,
	}
}

func distinctTeams(records []dataset.UserRecord) []string {
	seen := make(map[string]bool)
	var teams []string
	for _, rec := range records {
		for _, team := range rec.Teams {
			key := strings.ToLower(team)
			if !seen[key] {
				seen[key] = true
				teams = append(teams, team)
			}
		}
	}
	sort.Strings(teams)
	return teams
}
