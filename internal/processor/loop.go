// Package processor drives one ticket at a time through intent detection,
// authentication, parsing, validation, the approval gate, and upload.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/provtools/userbot/internal/approval"
	"github.com/provtools/userbot/internal/dataset"
	"github.com/provtools/userbot/internal/faults"
	"github.com/provtools/userbot/internal/fingerprint"
	"github.com/provtools/userbot/internal/jira"
	"github.com/provtools/userbot/internal/lifecycle"
	"github.com/provtools/userbot/internal/runlog"
	"github.com/provtools/userbot/internal/secrets"
)

// Jira status names the loop reads and transitions to.
const (
	statusOpen         = "Open"
	statusReview       = "In Review"
	statusInfoRequired = "Info Required"
	statusDone         = "Done"
)

// Config holds loop behavior settings.
type Config struct {
	BotAccountID string
	Project      string
	DryRun       bool
}

// Processor is the ticket processing loop. It holds no cross-ticket mutable
// state: every decision is recomputed from the ticket's own comment and
// attachment history.
type Processor struct {
	cfg     Config
	tickets TicketStore
	creds   CredentialSource
	backend BackendAPI
	intel   Intelligence
	journal Journal
	logger  *zap.Logger
}

// New creates a processor. A nil journal disables journaling.
func New(cfg Config, tickets TicketStore, creds CredentialSource, api BackendAPI, intel Intelligence, journal Journal, logger *zap.Logger) *Processor {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Processor{
		cfg:     cfg,
		tickets: tickets,
		creds:   creds,
		backend: api,
		intel:   intel,
		journal: journal,
		logger:  logger,
	}
}

// RunOnce fetches the project's open work and processes each ticket
// sequentially. A single ticket's failure is logged and never aborts the
// remaining tickets.
func (p *Processor) RunOnce(ctx context.Context) error {
	jql := fmt.Sprintf(`project = %q AND status in ("%s", "%s") ORDER BY created ASC`,
		p.cfg.Project, statusOpen, statusReview)
	issues, err := p.tickets.Search(ctx, jql)
	if err != nil {
		return fmt.Errorf("search tickets: %w", err)
	}

	for i := range issues {
		p.processSafely(ctx, &issues[i])
	}
	return nil
}

// ProcessKey processes a single ticket by key.
func (p *Processor) ProcessKey(ctx context.Context, key string) error {
	issue, err := p.tickets.GetIssue(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch ticket %s: %w", key, err)
	}
	p.processSafely(ctx, issue)
	return nil
}

// processSafely is the ticket-level failure boundary: panics and errors are
// logged with full context and the loop moves on.
func (p *Processor) processSafely(ctx context.Context, issue *jira.Issue) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Ticket processing panicked",
				zap.String("ticket", issue.Key),
				zap.Any("panic", r))
			p.journal.Record(ctx, issue.Key, runlog.StepUpload, runlog.StatusFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := p.processTicket(ctx, issue); err != nil {
		p.logger.Error("Ticket processing failed",
			zap.String("ticket", issue.Key),
			zap.String("status", issue.Status),
			zap.Error(err))
	}
}

func (p *Processor) processTicket(ctx context.Context, issue *jira.Issue) error {
	state, ok := stateForStatus(issue.Status)
	if !ok {
		p.logger.Debug("Ticket in unhandled status, skipping",
			zap.String("ticket", issue.Key),
			zap.String("status", issue.Status))
		return nil
	}

	machine, err := lifecycle.NewMachine(state)
	if err != nil {
		return err
	}

	switch state {
	case lifecycle.StateOpen:
		return p.processOpen(ctx, issue, machine)
	case lifecycle.StateReview:
		return p.processReview(ctx, issue, machine)
	case lifecycle.StateInfoRequired:
		// Waits for a manual credential fix and a manual move back to Open.
		p.journal.Record(ctx, issue.Key, runlog.StepCredentials, runlog.StatusSkipped, "awaiting manual setup")
		return nil
	default:
		return nil
	}
}

func (p *Processor) processOpen(ctx context.Context, issue *jira.Issue, machine *lifecycle.Machine) error {
	isUpload, err := p.intel.DetectIntent(ctx, issue.Summary, issue.Description)
	if err != nil {
		return fmt.Errorf("intent detection: %w", err)
	}
	if !isUpload {
		p.logger.Info("Ticket not identified as upload request", zap.String("ticket", issue.Key))
		p.journal.Record(ctx, issue.Key, runlog.StepIntent, runlog.StatusSkipped, "not an upload request")
		return nil
	}
	p.journal.Record(ctx, issue.Key, runlog.StepIntent, runlog.StatusOK, "")

	tenant := tenantFrom(issue)
	creds, err := p.lookupCredentials(ctx, tenant)
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			return p.requestSetup(ctx, issue, machine, tenant)
		}
		return fmt.Errorf("credential lookup for %q: %w", tenant, err)
	}
	p.journal.Record(ctx, issue.Key, runlog.StepCredentials, runlog.StatusOK, tenant)

	parsed, err := p.parseDataset(ctx, issue, nil)
	if err != nil {
		if errors.Is(err, faults.ErrData) || errors.Is(err, faults.ErrNotFound) {
			p.journal.Record(ctx, issue.Key, runlog.StepParse, runlog.StatusFailed, err.Error())
			return p.requestCorrection(ctx, issue, machine,
				fmt.Sprintf("Could not read the attached dataset: %v\nAttach a .csv or .xlsx file and move the ticket back to %s.", err, statusOpen))
		}
		return fmt.Errorf("parse dataset: %w", err)
	}
	p.journal.Record(ctx, issue.Key, runlog.StepParse, runlog.StatusOK, parsed.attachment.Filename)

	if err := p.backend.Authenticate(ctx, creds.Email, creds.Password); err != nil {
		return fmt.Errorf("backend authentication: %w", err)
	}
	existing, err := p.backend.ExistingEmails(ctx)
	if err != nil {
		return fmt.Errorf("fetch existing users: %w", err)
	}

	validation := dataset.ValidateDataset(parsed.table.Rows, existing)
	p.journal.Record(ctx, issue.Key, runlog.StepValidate, runlog.StatusOK,
		fmt.Sprintf("%d valid, %d invalid, %d blank", len(validation.Valid), len(validation.Invalid), validation.Skipped))

	if len(validation.Valid) == 0 {
		return p.requestCorrection(ctx, issue, machine,
			"No valid rows found in the dataset.\n"+describeRejects(validation.Invalid)+
				fmt.Sprintf("Fix the dataset, re-attach it, and move the ticket back to %s.", statusOpen))
	}

	if !approval.Required(parsed.usedAI, parsed.originalHeaders, parsed.mapping) {
		return p.directUpload(ctx, issue, machine, tenant, validation, parsed)
	}
	return p.requestApproval(ctx, issue, machine, tenant, validation, parsed)
}

// requestSetup posts credential setup instructions and parks the ticket.
func (p *Processor) requestSetup(ctx context.Context, issue *jira.Issue, machine *lifecycle.Machine, tenant string) error {
	p.journal.Record(ctx, issue.Key, runlog.StepCredentials, runlog.StatusFailed, "credentials not found")
	if err := machine.Fire(lifecycle.TriggerRequestInfo); err != nil {
		return err
	}

	name := tenant
	if name == "" {
		name = "<tenant>"
	}
	body := fmt.Sprintf(
		"No credentials found for tenant %q.\n\n"+
			"Add an entry to the secret store with the tenant's admin email and password, "+
			"then move this ticket back to %s.", name, statusOpen)

	if p.cfg.DryRun {
		p.logger.Info("Dry run: would request credential setup", zap.String("ticket", issue.Key))
		return nil
	}
	if err := p.tickets.AddComment(ctx, issue.Key, body); err != nil {
		return fmt.Errorf("post setup instructions: %w", err)
	}
	return p.tickets.TransitionTo(ctx, issue.Key, statusInfoRequired)
}

// requestCorrection posts a fix-and-resubmit notice and parks the ticket so
// the next wake does not repeat it.
func (p *Processor) requestCorrection(ctx context.Context, issue *jira.Issue, machine *lifecycle.Machine, body string) error {
	if err := machine.Fire(lifecycle.TriggerRequestInfo); err != nil {
		return err
	}
	if p.cfg.DryRun {
		p.logger.Info("Dry run: would request a corrected dataset", zap.String("ticket", issue.Key))
		return nil
	}
	if err := p.tickets.AddComment(ctx, issue.Key, body); err != nil {
		return fmt.Errorf("post correction request: %w", err)
	}
	return p.tickets.TransitionTo(ctx, issue.Key, statusInfoRequired)
}

// directUpload handles exact-match submissions that bypass the approval gate.
func (p *Processor) directUpload(ctx context.Context, issue *jira.Issue, machine *lifecycle.Machine, tenant string, validation dataset.ValidationResult, parsed *parsedDataset) error {
	if err := machine.Fire(lifecycle.TriggerDirectUpload); err != nil {
		return err
	}

	if p.cfg.DryRun {
		p.logger.Info("Dry run: would upload without approval",
			zap.String("ticket", issue.Key),
			zap.Int("users", len(validation.Valid)))
		return nil
	}

	summary := p.runUpload(ctx, issue.Key, validation.Valid)
	p.journal.Record(ctx, issue.Key, runlog.StepUpload, runlog.StatusOK, summaryLine(summary))

	report := approval.Report{
		TicketKey:   issue.Key,
		Tenant:      tenant,
		Summary:     summary,
		Attachments: parsed.fingerprints,
		CreatedAt:   nowUTC(),
	}
	body, err := approval.RenderReport(report)
	if err != nil {
		return err
	}
	if len(validation.Invalid) > 0 {
		body += "\n" + describeRejects(validation.Invalid)
	}
	if err := p.tickets.AddComment(ctx, issue.Key, body); err != nil {
		return fmt.Errorf("post upload report: %w", err)
	}
	return p.tickets.TransitionTo(ctx, issue.Key, statusReview)
}

// requestApproval builds and posts a new approval request with the generated
// review file attached.
func (p *Processor) requestApproval(ctx context.Context, issue *jira.Issue, machine *lifecycle.Machine, tenant string, validation dataset.ValidationResult, parsed *parsedDataset) error {
	if err := machine.Fire(lifecycle.TriggerRequestApproval); err != nil {
		return err
	}

	res := approval.Build(issue.Key, tenant, validation.Valid, parsed.fingerprints, parsed.mapping)

	reviewCSV, err := WriteReviewCSV(res.SplitRecords)
	if err != nil {
		return fmt.Errorf("write review file: %w", err)
	}

	if p.cfg.DryRun {
		p.logger.Info("Dry run: would post approval request",
			zap.String("ticket", issue.Key),
			zap.Int("users", res.Request.UserCount),
			zap.Int("ambiguous_teams", res.TeamAnalysis.SplitCount))
		return nil
	}

	attachmentID, err := p.tickets.AddAttachment(ctx, issue.Key, ReviewFileName, reviewCSV)
	if err != nil {
		return fmt.Errorf("attach review file: %w", err)
	}
	res.Request.CSVAttachmentID = attachmentID

	extra := map[string]string{"credential lookup": "ok (" + tenant + ")"}
	if len(validation.Invalid) > 0 {
		extra["rejected rows"] = fmt.Sprintf("%d (see below)", len(validation.Invalid))
	}

	body, err := approval.RenderMessage(res.Request, res.TeamAnalysis.Analyses, extra)
	if err != nil {
		return err
	}
	if len(validation.Invalid) > 0 {
		body += "\n" + describeRejects(validation.Invalid)
	}
	if err := p.tickets.AddComment(ctx, issue.Key, body); err != nil {
		return fmt.Errorf("post approval request: %w", err)
	}
	p.journal.Record(ctx, issue.Key, runlog.StepApproval, runlog.StatusOK, "approval request posted")
	return p.tickets.TransitionTo(ctx, issue.Key, statusReview)
}

// processReview reconciles the ticket's comments against its current
// attachments and resumes the upload when approval holds.
func (p *Processor) processReview(ctx context.Context, issue *jira.Issue, machine *lifecycle.Machine) error {
	rawComments, err := p.tickets.GetComments(ctx, issue.Key)
	if err != nil {
		return fmt.Errorf("fetch comments: %w", err)
	}
	comments := toApprovalComments(rawComments)

	current, err := p.currentFingerprints(ctx, issue)
	if err != nil {
		return fmt.Errorf("fingerprint attachments: %w", err)
	}

	// Idempotency: a prior run already reported on exactly these bytes.
	if approval.ReportPosted(comments, current, p.cfg.BotAccountID) {
		p.logger.Info("Final report already posted for current attachments, nothing to do",
			zap.String("ticket", issue.Key))
		p.journal.Record(ctx, issue.Key, runlog.StepUpload, runlog.StatusSkipped, "already reported")
		return nil
	}

	outcome := approval.Reconcile(comments, current, p.cfg.BotAccountID)
	p.journal.Record(ctx, issue.Key, runlog.StepApproval, string(outcome.Status), outcome.Message)

	switch outcome.Status {
	case approval.StatusNoRequest:
		p.logger.Warn("Ticket in review without an approval request",
			zap.String("ticket", issue.Key))
		return nil

	case approval.StatusPending:
		p.logger.Debug("Approval still pending", zap.String("ticket", issue.Key))
		return nil

	case approval.StatusInvalid:
		return p.surfaceInvalid(ctx, issue, comments, outcome)

	case approval.StatusApproved:
		return p.resumeUpload(ctx, issue, machine, outcome)

	default:
		return nil
	}
}

// surfaceInvalid posts the integrity failure exactly once per wording so
// repeated wakes do not spam the ticket.
func (p *Processor) surfaceInvalid(ctx context.Context, issue *jira.Issue, comments []approval.Comment, outcome approval.Outcome) error {
	body := "Approval is no longer valid: " + outcome.Message
	for i := range comments {
		c := &comments[i]
		if c.AuthorID == p.cfg.BotAccountID && strings.Contains(c.Body, outcome.Message) {
			p.logger.Debug("Invalid-approval notice already posted", zap.String("ticket", issue.Key))
			return nil
		}
	}
	if p.cfg.DryRun {
		p.logger.Info("Dry run: would surface invalid approval", zap.String("ticket", issue.Key))
		return nil
	}
	return p.postComment(ctx, issue.Key, body)
}

// resumeUpload re-authenticates, re-derives the post-split records from the
// approved bytes, uploads, and posts the final report.
func (p *Processor) resumeUpload(ctx context.Context, issue *jira.Issue, machine *lifecycle.Machine, outcome approval.Outcome) error {
	req := outcome.Request

	tenant := req.Tenant
	creds, err := p.lookupCredentials(ctx, tenant)
	if err != nil {
		return fmt.Errorf("credential lookup for %q: %w", tenant, err)
	}
	if err := p.backend.Authenticate(ctx, creds.Email, creds.Password); err != nil {
		return fmt.Errorf("backend authentication: %w", err)
	}

	// The recorded mapping is replayed verbatim; the AI mapper is never
	// consulted on resume, so the upload reflects exactly what was reviewed.
	parsed, err := p.parseDataset(ctx, issue, req.ColumnMapping)
	if err != nil {
		return fmt.Errorf("re-parse dataset: %w", err)
	}

	existing, err := p.backend.ExistingEmails(ctx)
	if err != nil {
		return fmt.Errorf("fetch existing users: %w", err)
	}
	validation := dataset.ValidateDataset(parsed.table.Rows, existing)

	// The fingerprints matched the approved request, so this re-derivation is
	// deterministic over the same bytes the human reviewed.
	res := approval.Build(issue.Key, tenant, validation.Valid, parsed.fingerprints, req.ColumnMapping)

	if p.cfg.DryRun {
		p.logger.Info("Dry run: would upload approved dataset",
			zap.String("ticket", issue.Key),
			zap.Int("users", len(res.SplitRecords)))
		return nil
	}

	if err := machine.Fire(lifecycle.TriggerComplete); err != nil {
		return err
	}

	summary := p.runUpload(ctx, issue.Key, res.SplitRecords)
	p.journal.Record(ctx, issue.Key, runlog.StepUpload, runlog.StatusOK, summaryLine(summary))

	report := approval.Report{
		TicketKey:   issue.Key,
		RequestID:   req.ID,
		Tenant:      tenant,
		Summary:     summary,
		Attachments: parsed.fingerprints,
		CreatedAt:   nowUTC(),
	}
	body, err := approval.RenderReport(report)
	if err != nil {
		return err
	}
	if err := p.tickets.AddComment(ctx, issue.Key, body); err != nil {
		return fmt.Errorf("post final report: %w", err)
	}
	return p.tickets.TransitionTo(ctx, issue.Key, statusDone)
}

// parsedDataset bundles the decoded table with its provenance.
type parsedDataset struct {
	attachment      jira.Attachment
	table           dataset.Table
	originalHeaders []string
	mapping         map[string]string
	usedAI          bool
	fingerprints    []fingerprint.Fingerprint
}

// parseDataset finds the newest dataset attachment, decodes it, and maps its
// headers to the canonical fields. A non-empty recorded mapping (from an
// approved request) is replayed as-is; otherwise the AI mapper is asked, and
// only when the headers are not an exact canonical match.
func (p *Processor) parseDataset(ctx context.Context, issue *jira.Issue, recorded map[string]string) (*parsedDataset, error) {
	attachments := datasetAttachments(issue)
	if len(attachments) == 0 {
		return nil, fmt.Errorf("%w: no dataset attachment on ticket", faults.ErrNotFound)
	}

	var fps []fingerprint.Fingerprint
	contents := make(map[string][]byte, len(attachments))
	for _, att := range attachments {
		content, err := p.tickets.DownloadAttachment(ctx, att.ContentURL)
		if err != nil {
			return nil, err
		}
		contents[att.ID] = content
		fps = append(fps, fingerprint.New(att.Filename, content))
	}

	// The newest attachment is the dataset under review.
	primary := attachments[len(attachments)-1]
	table, err := dataset.Decode(primary.Filename, contents[primary.ID])
	if err != nil {
		return nil, err
	}

	parsed := &parsedDataset{
		attachment:      primary,
		originalHeaders: append([]string(nil), table.Headers...),
		fingerprints:    fps,
	}

	if len(recorded) > 0 {
		parsed.mapping = recorded
		parsed.table = dataset.ApplyMapping(table, recorded)
		if !hasRequiredHeaders(parsed.table.Headers) {
			return nil, faults.Dataf("headers missing required fields under recorded mapping: %v", parsed.originalHeaders)
		}
		return parsed, nil
	}

	if dataset.HeadersMatchCanonical(table.Headers) {
		parsed.table = table
		return parsed, nil
	}

	canonical := make([]string, 0, len(dataset.CanonicalHeaders()))
	for field := range dataset.CanonicalHeaders() {
		canonical = append(canonical, field)
	}
	mapping, err := p.intel.MapHeaders(ctx, table.Headers, canonical)
	if err != nil {
		return nil, fmt.Errorf("header mapping: %w", err)
	}

	parsed.usedAI = true
	parsed.mapping = mapping
	parsed.table = dataset.ApplyMapping(table, mapping)

	if !hasRequiredHeaders(parsed.table.Headers) {
		return nil, faults.Dataf("headers missing required fields even after mapping: %v", parsed.originalHeaders)
	}
	return parsed, nil
}

func hasRequiredHeaders(headers []string) bool {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	for _, required := range []string{dataset.FieldEmail, dataset.FieldFirstName, dataset.FieldLastName, dataset.FieldUserRole, dataset.FieldTeams} {
		if !present[required] {
			return false
		}
	}
	return true
}

// currentFingerprints recomputes fingerprints of the dataset attachments as
// they exist right now, the fresh side of every approval comparison.
func (p *Processor) currentFingerprints(ctx context.Context, issue *jira.Issue) ([]fingerprint.Fingerprint, error) {
	var fps []fingerprint.Fingerprint
	for _, att := range datasetAttachments(issue) {
		content, err := p.tickets.DownloadAttachment(ctx, att.ContentURL)
		if err != nil {
			return nil, err
		}
		fps = append(fps, fingerprint.New(att.Filename, content))
	}
	return fps, nil
}

// datasetAttachments filters the issue's attachments down to tabular files,
// excluding the bot's own generated review file.
func datasetAttachments(issue *jira.Issue) []jira.Attachment {
	var out []jira.Attachment
	for _, att := range issue.Attachments {
		if att.Filename == ReviewFileName {
			continue
		}
		switch strings.ToLower(filepath.Ext(att.Filename)) {
		case ".csv", ".xlsx":
			out = append(out, att)
		}
	}
	return out
}

func (p *Processor) lookupCredentials(ctx context.Context, tenant string) (secrets.Credentials, error) {
	if tenant == "" {
		return secrets.Credentials{}, fmt.Errorf("%w: ticket names no tenant", faults.ErrNotFound)
	}
	return p.creds.Lookup(ctx, tenant)
}

func (p *Processor) postComment(ctx context.Context, key, body string) error {
	if p.cfg.DryRun {
		p.logger.Info("Dry run: would post comment", zap.String("ticket", key))
		return nil
	}
	if err := p.tickets.AddComment(ctx, key, body); err != nil {
		return fmt.Errorf("post comment: %w", err)
	}
	return nil
}

// tenantFrom reads the tenant identifier from a "Tenant: <name>" line in the
// ticket description.
func tenantFrom(issue *jira.Issue) string {
	for _, line := range strings.Split(issue.Description, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := cutPrefixFold(line, "tenant:")
		if ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

func toApprovalComments(raw []jira.Comment) []approval.Comment {
	out := make([]approval.Comment, 0, len(raw))
	for _, c := range raw {
		out = append(out, approval.Comment{
			AuthorID:   c.AuthorID,
			AuthorName: c.AuthorName,
			Body:       c.Body,
			Created:    c.Created,
		})
	}
	return out
}

func stateForStatus(status string) (lifecycle.State, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "open", "to do", "reopened":
		return lifecycle.StateOpen, true
	case "in review", "review":
		return lifecycle.StateReview, true
	case "info required", "waiting for customer":
		return lifecycle.StateInfoRequired, true
	case "done", "closed", "resolved":
		return lifecycle.StateClosed, true
	default:
		return "", false
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func describeRejects(rejected []dataset.RejectedRow) string {
	if len(rejected) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Rejected rows (%d):\n", len(rejected))
	for _, r := range rejected {
		fmt.Fprintf(&b, "* row %d: %s\n", r.Index, strings.Join(r.Reasons, "; "))
	}
	return b.String()
}
