// Package backend talks to the local question-answering HTTP service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultSource     = "AI Backend"
	rawSource         = "Raw Backend Response"
	defaultConfidence = 1.0
	rawConfidence     = 0.5

	maxBodyBytes = 1 << 20
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Status)
}

// Reply is the backend answer prepared for display.
type Reply struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	// Raw is set when the backend sent no answer field and Text holds the
	// whole indented response instead.
	Raw bool `json:"raw"`
}

type askRequest struct {
	Question  string `json:"question"`
	Context   string `json:"context"`
	Timestamp int64  `json:"timestamp"`
}

// Client posts questions to the backend.
type Client struct {
	http *http.Client
	now  func() time.Time
}

// NewClient returns a Client using hc, or http.DefaultClient when hc is nil.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, now: time.Now}
}

// Ask posts question to <baseURL>/ask.
func (c *Client) Ask(ctx context.Context, baseURL, question string) (Reply, error) {
	endpoint, err := join(baseURL, "/ask")
	if err != nil {
		return Reply{}, err
	}

	payload, err := json.Marshal(askRequest{
		Question:  question,
		Context:   "",
		Timestamp: c.now().UnixMilli(),
	})
	if err != nil {
		return Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(body)
}

// Health checks <baseURL>/health and returns the decoded body, if any.
func (c *Client) Health(ctx context.Context, baseURL string) (map[string]any, error) {
	endpoint, err := join(baseURL, "/health")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			// A healthy backend may answer with plain text.
			out = map[string]any{"body": string(body)}
		}
	}
	return out, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Body: string(body)}
	}
	return body, nil
}

func decodeReply(body []byte) (Reply, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return Reply{}, fmt.Errorf("decode backend response: %w", err)
	}

	if text, ok := truthyText(data["answer"]); ok {
		reply := Reply{Text: text, Source: defaultSource, Confidence: defaultConfidence}
		var source string
		if json.Unmarshal(data["source"], &source) == nil && source != "" {
			reply.Source = source
		}
		var confidence float64
		if json.Unmarshal(data["confidence"], &confidence) == nil && confidence != 0 {
			reply.Confidence = confidence
		}
		return reply, nil
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, body, "", "  "); err != nil {
		return Reply{}, fmt.Errorf("indent backend response: %w", err)
	}
	return Reply{Text: indented.String(), Source: rawSource, Confidence: rawConfidence, Raw: true}, nil
}

// truthyText returns the answer as display text when it is present and not
// an empty, zero, false or null value.
func truthyText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch a := v.(type) {
	case nil:
		return "", false
	case string:
		return a, a != ""
	case bool:
		return "true", a
	case float64:
		return strings.TrimSpace(string(raw)), a != 0
	default:
		return string(raw), true
	}
}

func join(baseURL, path string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", fmt.Errorf("backend url is required")
	}
	return base + path, nil
}
