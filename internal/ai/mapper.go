// Package ai is the text-completion black box: given a prompt it returns
// parsed JSON or an error. The core uses it for two things only, intent
// detection and header mapping; validation never depends on it.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/provtools/userbot/internal/faults"
)

// Config holds AI invocation settings.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Client wraps the completion API.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// NewClient creates an AI client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

// DetectIntent decides whether a ticket is asking for a user upload.
func (c *Client) DetectIntent(ctx context.Context, summary, description string) (bool, error) {
	prompt := fmt.Sprintf(
		"Ticket summary: %s\n\nTicket description:\n%s\n\n"+
			"Is this ticket requesting a bulk user upload from an attached spreadsheet? "+
			`Respond with JSON only: {"is_upload": true|false, "reason": "..."}`,
		summary, description)

	var result struct {
		IsUpload bool   `json:"is_upload"`
		Reason   string `json:"reason"`
	}
	if err := c.completeJSON(ctx, "You classify support tickets for an automation bot. Always respond with valid JSON.", prompt, &result); err != nil {
		return false, err
	}

	c.logger.Debug("Intent detected",
		zap.Bool("is_upload", result.IsUpload),
		zap.String("reason", result.Reason))
	return result.IsUpload, nil
}

// MapHeaders proposes a mapping from the file's raw headers to the canonical
// fields. Headers it cannot place are omitted from the mapping.
func (c *Client) MapHeaders(ctx context.Context, headers []string, canonical []string) (map[string]string, error) {
	prompt := fmt.Sprintf(
		"Spreadsheet headers: %s\nCanonical fields: %s\n\n"+
			"Map each spreadsheet header to the canonical field it most likely represents. "+
			"Omit headers that match no field. "+
			`Respond with JSON only: {"mapping": {"<header>": "<canonical field>"}}`,
		strings.Join(headers, ", "), strings.Join(canonical, ", "))

	var result struct {
		Mapping map[string]string `json:"mapping"`
	}
	if err := c.completeJSON(ctx, "You map spreadsheet column headers onto a fixed schema. Always respond with valid JSON.", prompt, &result); err != nil {
		return nil, err
	}
	return result.Mapping, nil
}

func (c *Client) completeJSON(ctx context.Context, system, prompt string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return faults.Classify("ai completion", err)
	}
	if len(resp.Choices) == 0 {
		return faults.Dataf("ai completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		// Some models wrap JSON in markdown fences despite the response format.
		if extracted := extractJSON(content); extracted != "" {
			if err := json.Unmarshal([]byte(extracted), out); err == nil {
				return nil
			}
		}
		return faults.Dataf("ai response unparseable: %v", err)
	}
	return nil
}

func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
