package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provtools/userbot/internal/faults"
	"github.com/provtools/userbot/pkg/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Config{
		BaseURL:  server.URL,
		Email:    "bot@example.com",
		APIToken: "token",
	}, logging.NewNop())
	return client, server
}

func TestGetIssue(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PROV-1", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "token", pass)

		fmt.Fprint(w, `{
			"key": "PROV-1",
			"fields": {
				"summary": "Create users",
				"description": "Tenant: acme",
				"status": {"name": "Open"},
				"attachment": [
					{"id": "10", "filename": "users.csv", "size": 42, "content": "https://jira/att/10"}
				]
			}
		}`)
	}))

	issue, err := client.GetIssue(context.Background(), "PROV-1")
	require.NoError(t, err)
	assert.Equal(t, "PROV-1", issue.Key)
	assert.Equal(t, "Open", issue.Status)
	require.Len(t, issue.Attachments, 1)
	assert.Equal(t, "users.csv", issue.Attachments[0].Filename)
	assert.Equal(t, "https://jira/att/10", issue.Attachments[0].ContentURL)
}

func TestGetIssue_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetIssue(context.Background(), "PROV-404")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestGetComments_SkipsUnparseableTimestamps(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"comments": [
				{"id": "1", "author": {"accountId": "u1", "displayName": "Dana"}, "body": "approved", "created": "2026-08-24T09:00:00.000+0000"},
				{"id": "2", "author": {"accountId": "u2", "displayName": "Eve"}, "body": "hello", "created": "not-a-timestamp"}
			],
			"total": 2
		}`)
	}))

	comments, err := client.GetComments(context.Background(), "PROV-1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "u1", comments[0].AuthorID)
	assert.Equal(t, "approved", comments[0].Body)
	assert.Equal(t, 2026, comments[0].Created.Year())
}

func TestAddComment(t *testing.T) {
	var got map[string]string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/2/issue/PROV-1/comment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, client.AddComment(context.Background(), "PROV-1", "hello ticket"))
	assert.Equal(t, "hello ticket", got["body"])
}

func TestAddAttachment(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PROV-1/attachments", r.URL.Path)
		assert.Equal(t, "no-check", r.Header.Get("X-Atlassian-Token"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "userbot-review.csv", header.Filename)

		fmt.Fprint(w, `[{"id": "10001", "filename": "userbot-review.csv", "size": 5}]`)
	}))

	id, err := client.AddAttachment(context.Background(), "PROV-1", "userbot-review.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "10001", id)
}

func TestTransitionTo(t *testing.T) {
	var fired string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"transitions": [
				{"id": "21", "to": {"name": "In Review"}},
				{"id": "31", "to": {"name": "Done"}}
			]}`)
			return
		}
		var payload struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		fired = payload.Transition.ID
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.TransitionTo(context.Background(), "PROV-1", "in review"))
	assert.Equal(t, "21", fired, "transition is matched by target status name, case-insensitively")
}

func TestTransitionTo_UnknownStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"transitions": []}`)
	}))

	err := client.TransitionTo(context.Background(), "PROV-1", "Nirvana")
	assert.ErrorIs(t, err, faults.ErrData)
}

func TestDownloadAttachment(t *testing.T) {
	content := []byte("email\nann@example.com\n")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		require.True(t, ok, "downloads must carry credentials")
		w.Write(content)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Email: "e", APIToken: "t"}, logging.NewNop())
	got, err := client.DownloadAttachment(context.Background(), server.URL+"/att/10")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
