package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client talks to the translation backend: one JSON endpoint for language
// detection and one SSE endpoint for streaming translation.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// DetectTimeout bounds one DetectLanguage call. Zero means unbounded.
	DetectTimeout time.Duration
}

// New returns a client for the given base URL. The shared HTTP client carries
// no timeout: the translation stream runs until the backend completes or
// errors. Detection is bounded per call via DetectTimeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:       baseURL,
		HTTPClient:    &http.Client{},
		DetectTimeout: 10 * time.Second,
	}
}

// DetectResult is the authoritative language-detection verdict.
type DetectResult struct {
	DetectedLang string  `json:"detected_lang"`
	Confidence   float64 `json:"confidence"`
	IsMixed      bool    `json:"is_mixed"`
}

// EventType tags a translation stream event.
type EventType int

const (
	EventDelta EventType = iota
	EventDone
	EventError
)

// StreamEvent is one event from the translation stream.
type StreamEvent struct {
	Type    EventType
	Content string // delta payload
	Message string // error payload
}

// StreamRequest describes one translation attempt.
type StreamRequest struct {
	Text            string
	TargetLang      string
	Mode            string
	ExplanationLang string
	IsReverse       bool
}

// normalizeBaseURL trims whitespace and any trailing slash.
func normalizeBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// DetectLanguage asks the backend to identify the language of text. Missing
// response fields degrade to "Unknown" / 0.0 / mixed, never to an error.
func (c *Client) DetectLanguage(ctx context.Context, text string) (DetectResult, error) {
	if c.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DetectTimeout)
		defer cancel()
	}
	url := normalizeBaseURL(c.BaseURL) + "/api/detect-language"

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return DetectResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return DetectResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return DetectResult{}, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return DetectResult{}, fmt.Errorf("detect: invalid json: %w", err)
	}

	res := DetectResult{DetectedLang: "Unknown", IsMixed: true}
	if v, ok := raw["detected_lang"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			res.DetectedLang = s
		}
	}
	if v, ok := raw["confidence"]; ok {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			res.Confidence = f
		}
	}
	if v, ok := raw["is_mixed"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			res.IsMixed = b
		}
	}
	return res, nil
}

// OpenTranslationStream starts a streaming translation. Connection-level
// failures are returned directly; once the stream is open, all outcomes
// (delta, done, error) arrive as events and the channel closes after the
// terminal event.
func (c *Client) OpenTranslationStream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	url := normalizeBaseURL(c.BaseURL) + "/api/translate"

	payload := map[string]interface{}{
		"text":             req.Text,
		"target_lang":      req.TargetLang,
		"mode":             req.Mode,
		"explanation_lang": req.ExplanationLang,
		"skip_points":      true,
	}
	if req.IsReverse {
		payload["is_reverse"] = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("translate request failed: %w", err)
	}

	events := make(chan StreamEvent, 16)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		go func() {
			events <- StreamEvent{Type: EventError, Message: fmt.Sprintf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))}
			close(events)
		}()
		return events, nil
	}

	go func() {
		defer close(events)
		defer resp.Body.Close()
		readStream(resp.Body, events)
	}()

	return events, nil
}

// readStream parses server-sent events line by line and emits exactly one
// terminal event (done or error).
func readStream(r io.Reader, events chan<- StreamEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		ev, terminal := parseStreamLine(scanner.Text())
		if ev == nil {
			continue
		}
		events <- *ev
		if terminal {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Backend: stream read error: %v", err)
		events <- StreamEvent{Type: EventError, Message: fmt.Sprintf("stream error: %v", err)}
		return
	}
	// Stream ended without an explicit [DONE]; treat as completion.
	events <- StreamEvent{Type: EventDone}
}

// parseStreamLine interprets one SSE line. Returns nil for lines that carry
// nothing (comments, blanks, malformed json).
func parseStreamLine(line string) (*StreamEvent, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, "data: ") {
		return nil, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
	if data == "[DONE]" {
		return &StreamEvent{Type: EventDone}, true
	}
	if data == "" {
		return nil, false
	}

	var v struct {
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, false
	}
	if v.Error != "" {
		return &StreamEvent{Type: EventError, Message: v.Error}, true
	}
	if v.Content != "" {
		return &StreamEvent{Type: EventDelta, Content: v.Content}, false
	}
	return nil, false
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
