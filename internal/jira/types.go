package jira

import "time"

// Issue is the slice of a Jira issue the processor needs.
type Issue struct {
	Key         string
	Summary     string
	Description string
	Status      string
	Attachments []Attachment
}

// Comment is one issue comment with its author identity.
type Comment struct {
	ID         string
	AuthorID   string
	AuthorName string
	Body       string
	Created    time.Time
}

// Attachment is issue attachment metadata; bytes are fetched separately.
type Attachment struct {
	ID         string
	Filename   string
	Size       int64
	ContentURL string
}

// jiraTime handles Jira's REST timestamp format.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Attachment []attachmentResponse `json:"attachment"`
	} `json:"fields"`
}

type attachmentResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

type commentResponse struct {
	ID     string `json:"id"`
	Author struct {
		AccountID   string `json:"accountId"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Body    string `json:"body"`
	Created string `json:"created"`
}

type commentListResponse struct {
	Comments []commentResponse `json:"comments"`
	Total    int               `json:"total"`
}

type searchResponse struct {
	Issues []issueResponse `json:"issues"`
}

type transitionListResponse struct {
	Transitions []struct {
		ID string `json:"id"`
		To struct {
			Name string `json:"name"`
		} `json:"to"`
	} `json:"transitions"`
}
