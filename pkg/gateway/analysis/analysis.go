// Package analysis is the client for the external analysis service that
// scores learner messages and maintains vocabulary knowledge. It is invoked
// only from background jobs, never on the relay hot path.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FeedbackResult is the structured outcome of scoring one learner message.
// The payload shape belongs to the analysis service; the gateway forwards it
// opaquely.
type FeedbackResult struct {
	MessageID string          `json:"message_id"`
	HasErrors bool            `json:"has_errors"`
	Feedback  json.RawMessage `json:"feedback"`
}

type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Service interface {
	ScoreMessage(ctx context.Context, messageID, language, level string, recent []ContextMessage) (FeedbackResult, error)
	UpdateKnowledge(ctx context.Context, ownerID, language string, conversationIDs []string) error
	Suggestions(ctx context.Context, language, level string, recent []ContextMessage) ([]string, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

func (c *Client) ScoreMessage(ctx context.Context, messageID, language, level string, recent []ContextMessage) (FeedbackResult, error) {
	var out FeedbackResult
	err := c.post(ctx, "/v1/score", map[string]any{
		"message_id": messageID,
		"language":   language,
		"level":      level,
		"context":    recent,
	}, &out)
	if err != nil {
		return FeedbackResult{}, err
	}
	if strings.TrimSpace(out.MessageID) == "" {
		out.MessageID = messageID
	}
	return out, nil
}

func (c *Client) UpdateKnowledge(ctx context.Context, ownerID, language string, conversationIDs []string) error {
	return c.post(ctx, "/v1/knowledge", map[string]any{
		"owner_id":         ownerID,
		"language":         language,
		"conversation_ids": conversationIDs,
	}, nil)
}

func (c *Client) Suggestions(ctx context.Context, language, level string, recent []ContextMessage) ([]string, error) {
	var out struct {
		Suggestions []string `json:"suggestions"`
	}
	err := c.post(ctx, "/v1/suggestions", map[string]any{
		"language": language,
		"level":    level,
		"context":  recent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return fmt.Errorf("analysis error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Service = (*Client)(nil)
