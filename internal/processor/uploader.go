package processor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/provtools/userbot/internal/approval"
	"github.com/provtools/userbot/internal/backend"
	"github.com/provtools/userbot/internal/dataset"
)

// runUpload creates missing teams and then the users, continuing past
// individual failures. One user's creation failure never aborts the batch and
// nothing is retried; failures are collected into the summary.
func (p *Processor) runUpload(ctx context.Context, ticketKey string, records []dataset.UserRecord) approval.UploadSummary {
	var summary approval.UploadSummary

	teamIDs, teamsCreated := p.ensureTeams(ctx, ticketKey, records)
	summary.TeamsCreated = teamsCreated

	roleIDs := p.roleIndex(ctx, ticketKey)

	for _, rec := range records {
		var ids []string
		for _, team := range rec.Teams {
			if id, ok := teamIDs[strings.ToLower(team)]; ok {
				ids = append(ids, id)
			}
		}

		user := backendUser(rec, ids, roleIDs)
		if err := p.backend.CreateUser(ctx, user); err != nil {
			p.logger.Warn("User creation failed",
				zap.String("ticket", ticketKey),
				zap.String("email", rec.Email),
				zap.Error(err))
			summary.UsersFailed++
			summary.Failures = append(summary.Failures, approval.UserFailure{
				Email:  rec.Email,
				Reason: err.Error(),
			})
			continue
		}
		summary.UsersCreated++
	}

	return summary
}

// ensureTeams resolves every referenced team to a backend ID, creating the
// ones that do not exist yet. Creation failures are logged and skipped; users
// referencing a failed team are created without it.
func (p *Processor) ensureTeams(ctx context.Context, ticketKey string, records []dataset.UserRecord) (map[string]string, int) {
	ids := make(map[string]string)

	existing, err := p.backend.SearchTeams(ctx)
	if err != nil {
		p.logger.Warn("Team search failed, creating all referenced teams",
			zap.String("ticket", ticketKey),
			zap.Error(err))
	}
	for _, team := range existing {
		ids[strings.ToLower(team.Name)] = team.ID
	}

	created := 0
	for _, team := range referencedTeams(records) {
		if _, ok := ids[strings.ToLower(team)]; ok {
			continue
		}
		made, err := p.backend.CreateTeam(ctx, team)
		if err != nil {
			p.logger.Warn("Team creation failed",
				zap.String("ticket", ticketKey),
				zap.String("team", team),
				zap.Error(err))
			continue
		}
		ids[strings.ToLower(team)] = made.ID
		created++
	}
	return ids, created
}

func (p *Processor) roleIndex(ctx context.Context, ticketKey string) map[string]string {
	ids := make(map[string]string)
	roles, err := p.backend.SearchRoles(ctx)
	if err != nil {
		p.logger.Warn("Role search failed, users will be created without role IDs",
			zap.String("ticket", ticketKey),
			zap.Error(err))
		return ids
	}
	for _, role := range roles {
		ids[strings.ToUpper(role.Name)] = role.ID
	}
	return ids
}

func referencedTeams(records []dataset.UserRecord) []string {
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
	return teams
}

func backendUser(rec dataset.UserRecord, teamIDs []string, roleIDs map[string]string) backend.NewUser {
	return backend.NewUser{
		Email:        rec.Email,
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		JobTitle:     rec.JobTitle,
		MobileNumber: rec.MobileNumber,
		TeamIDs:      teamIDs,
		RoleID:       roleIDs[string(rec.Role)],
	}
}

func summaryLine(s approval.UploadSummary) string {
	return fmt.Sprintf("%d users created, %d failed, %d teams created",
		s.UsersCreated, s.UsersFailed, s.TeamsCreated)
}
