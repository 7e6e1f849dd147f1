// Package backend is the downstream user/team API collaborator: authenticate,
// search existing users/teams/roles, create teams and users. Every call may
// fail on its own without aborting the batch.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/provtools/userbot/internal/faults"
)

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// User is an existing backend user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Team is an existing backend team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoleInfo is an available backend role.
type RoleInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewUser is the payload for creating one user.
type NewUser struct {
	Email        string   `json:"email"`
	FirstName    string   `json:"firstName"`
	LastName     string   `json:"lastName"`
	JobTitle     string   `json:"jobTitle,omitempty"`
	MobileNumber string   `json:"mobileNumber"`
	TeamIDs      []string `json:"teamIds"`
	RoleID       string   `json:"roleId"`
}

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	holder  *TokenHolder
	logger  *zap.Logger
}

// NewClient creates a backend client sharing the given token holder.
func NewClient(cfg Config, holder *TokenHolder, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		holder:  holder,
		logger:  logger,
	}
}

// Authenticate exchanges credentials for a token and caches it in the holder.
func (c *Client) Authenticate(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("marshal auth payload: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/auth/login", payload, &resp, false); err != nil {
		return err
	}
	if resp.Token == "" {
		return faults.Dataf("authentication returned no token")
	}
	c.holder.Set(resp.Token)
	c.logger.Info("Authenticated against backend", zap.String("email", email))
	return nil
}

// SearchUsers returns the existing users, optionally filtered by email substring.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	path := "/api/users"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	if err := c.send(ctx, http.MethodGet, path, nil, &users, true); err != nil {
		return nil, err
	}
	return users, nil
}

// ExistingEmails returns the set of emails already present in the backend.
func (c *Client) ExistingEmails(ctx context.Context) (map[string]bool, error) {
	users, err := c.SearchUsers(ctx, "")
	if err != nil {
		return nil, err
	}
	emails := make(map[string]bool, len(users))
	for _, u := range users {
		emails[strings.ToLower(u.Email)] = true
	}
	return emails, nil
}

// SearchTeams returns the existing teams.
func (c *Client) SearchTeams(ctx context.Context) ([]Team, error) {
	var teams []Team
	if err := c.send(ctx, http.MethodGet, "/api/teams", nil, &teams, true); err != nil {
		return nil, err
	}
	return teams, nil
}

// SearchRoles returns the available roles.
func (c *Client) SearchRoles(ctx context.Context) ([]RoleInfo, error) {
	var roles []RoleInfo
	if err := c.send(ctx, http.MethodGet, "/api/roles", nil, &roles, true); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateTeam creates a team by name and returns it.
func (c *Client) CreateTeam(ctx context.Context, name string) (Team, error) {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return Team{}, fmt.Errorf("marshal team payload: %w", err)
	}
	var team Team
	if err := c.send(ctx, http.MethodPost, "/api/teams", payload, &team, true); err != nil {
		return Team{}, err
	}
	return team, nil
}

// CreateUser creates one user.
func (c *Client) CreateUser(ctx context.Context, user NewUser) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user payload: %w", err)
	}
	return c.send(ctx, http.MethodPost, "/api/users", payload, nil, true)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out interface{}, authed bool) error {
	op := fmt.Sprintf("%s %s", method, path)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, ok := c.holder.Get()
		if !ok {
			return faults.Dataf("%s: no valid auth token, authenticate first", op)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.holder.Invalidate()
		return fmt.Errorf("%w: %s: unauthorized", faults.ErrTransport, op)
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
