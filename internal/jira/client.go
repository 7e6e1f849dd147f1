// Package jira is the narrow ticket-store client: fetch issue and comments,
// post comments, manage attachments, transition status. Wire details beyond
// what the processing loop depends on are out of scope.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/provtools/userbot/internal/faults"
)

// Config holds Jira connection settings.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
}

// Client talks to the Jira REST API.
type Client struct {
	baseURL string
	email   string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a Jira client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		email:   cfg.Email,
		token:   cfg.APIToken,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// GetIssue fetches an issue's fields and attachment metadata.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var resp issueResponse
	path := fmt.Sprintf("/rest/api/2/issue/%s?fields=summary,description,status,attachment", url.PathEscape(key))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return issueFromResponse(resp), nil
}

// Search returns issues matching a JQL query.
func (c *Client) Search(ctx context.Context, jql string) ([]Issue, error) {
	var resp searchResponse
	path := fmt.Sprintf("/rest/api/2/search?jql=%s&fields=summary,description,status,attachment&maxResults=50",
		url.QueryEscape(jql))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issues = append(issues, *issueFromResponse(raw))
	}
	return issues, nil
}

// GetComments fetches the full ordered comment list for an issue.
func (c *Client) GetComments(ctx context.Context, key string) ([]Comment, error) {
	var resp commentListResponse
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment?maxResults=1000", url.PathEscape(key))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	comments := make([]Comment, 0, len(resp.Comments))
	for _, raw := range resp.Comments {
		created, err := time.Parse(jiraTimeLayout, raw.Created)
		if err != nil {
			c.logger.Warn("Unparseable comment timestamp",
				zap.String("issue", key),
				zap.String("comment_id", raw.ID),
				zap.String("created", raw.Created))
			continue
		}
		comments = append(comments, Comment{
			ID:         raw.ID,
			AuthorID:   raw.Author.AccountID,
			AuthorName: raw.Author.DisplayName,
			Body:       raw.Body,
			Created:    created,
		})
	}
	return comments, nil
}

// AddComment posts a plain-text comment on an issue.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("marshal comment: %w", err)
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", url.PathEscape(key))
	return c.send(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload), nil)
}

// AddAttachment uploads a file to an issue and returns the attachment ID.
func (c *Client) AddAttachment(ctx context.Context, key, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create multipart: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("write multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	var resp []attachmentResponse
	path := fmt.Sprintf("/rest/api/2/issue/%s/attachments", url.PathEscape(key))
	req, err := c.newRequest(ctx, http.MethodPost, path, writer.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	// Jira requires this header to bypass XSRF protection on uploads.
	req.Header.Set("X-Atlassian-Token", "no-check")

	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if len(resp) == 0 {
		return "", faults.Dataf("attachment upload returned no metadata")
	}
	return resp[0].ID, nil
}

// DownloadAttachment fetches an attachment's raw bytes from its content URL.
func (c *Client) DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, faults.Classify("download attachment", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download attachment: status %d", faults.ErrTransport, resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Classify("read attachment body", err)
	}
	return content, nil
}

// TransitionTo moves an issue to the named status. The transition ID is
// resolved by listing the transitions available from the current status.
func (c *Client) TransitionTo(ctx context.Context, key, statusName string) error {
	var transitions transitionListResponse
	path := fmt.Sprintf("/rest/api/2/issue/%s/transitions", url.PathEscape(key))
	if err := c.getJSON(ctx, path, &transitions); err != nil {
		return err
	}

	var transitionID string
	for _, t := range transitions.Transitions {
		if strings.EqualFold(t.To.Name, statusName) {
			transitionID = t.ID
			break
		}
	}
	if transitionID == "" {
		return faults.Dataf("no transition to status %q from issue %s", statusName, key)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	})
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	return c.send(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload), nil)
}

func issueFromResponse(raw issueResponse) *Issue {
	issue := &Issue{
		Key:         raw.Key,
		Summary:     raw.Fields.Summary,
		Description: raw.Fields.Description,
		Status:      raw.Fields.Status.Name,
	}
	for _, att := range raw.Fields.Attachment {
		issue.Attachments = append(issue.Attachments, Attachment{
			ID:         att.ID,
			Filename:   att.Filename,
			Size:       att.Size,
			ContentURL: att.Content,
		})
	}
	return issue
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.send(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	// The http.Client timeout bounds each call; ctx carries caller cancellation.
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	op := fmt.Sprintf("%s %s", req.Method, req.URL.Path)
	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", faults.ErrNotFound, op)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", faults.ErrTransport, op, resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.Dataf("%s: decode response: %v", op, err)
	}
	return nil
}
