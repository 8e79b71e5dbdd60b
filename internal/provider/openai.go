// Package provider implements domain.ChatCompletionClient against
// OpenAI-compatible chat completion endpoints.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shellmate/internal/domain"
	"shellmate/internal/metrics"
)

const (
	defaultAPIBase = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	// lowQuotaThreshold triggers a warning when remaining requests drop below it.
	lowQuotaThreshold = 5
)

// OpenAI streams chat completions from an OpenAI-compatible API.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration // wait for response headers
	Client  *http.Client  // optional; overrides Timeout
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = StreamingHTTPClient(cfg.Timeout)
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  client,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) Model() string { return o.model }

// requiresKey reports whether the endpoint is the hosted API. Local
// compatible servers usually accept requests without a key.
func (o *OpenAI) requiresKey() bool {
	return o.apiBase == defaultAPIBase
}

// Healthy checks that the endpoint is reachable and accepts the key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	if o.apiKey == "" && o.requiresKey() {
		return domain.ErrMissingCredential
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	o.authorize(req)
	resp, err := o.client.Do(req)
	if err != nil {
		return &domain.NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &domain.HTTPError{Status: resp.StatusCode, Body: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (o *OpenAI) authorize(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

// oaiMessage content is a plain string or, when images are attached, a
// list of typed parts.
type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildMessages converts the history and attaches images to the last user
// message as data URLs.
func buildMessages(req domain.CompletionRequest) []oaiMessage {
	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == domain.RoleUser {
			lastUser = i
		}
	}
	msgs := make([]oaiMessage, 0, len(req.Messages))
	for i, m := range req.Messages {
		if i != lastUser || len(req.Images) == 0 {
			msgs = append(msgs, oaiMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		parts := []oaiPart{{Type: "text", Text: m.Content}}
		for _, img := range req.Images {
			mime := img.MimeType
			if mime == "" {
				mime = http.DetectContentType(img.Data)
			}
			parts = append(parts, oaiPart{
				Type:     "image_url",
				ImageURL: &oaiImageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)},
			})
		}
		msgs = append(msgs, oaiMessage{Role: string(m.Role), Content: parts})
	}
	return msgs
}

// StreamComplete starts a streamed completion. Connection and status errors
// are returned directly; errors after the stream has started are reported
// by CompletionStream.Err.
func (o *OpenAI) StreamComplete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionStream, error) {
	if o.apiKey == "" && o.requiresKey() {
		return nil, domain.ErrMissingCredential
	}
	model := req.Model
	if model == "" {
		model = o.model
	}
	body := oaiRequest{
		Model:    model,
		Messages: buildMessages(req),
		Stream:   true,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "text/event-stream")
		o.authorize(r)
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, err
	}

	rl := parseRateLimit(resp.Header, o.now())
	if rl.Remaining != nil && *rl.Remaining < lowQuotaThreshold {
		o.logger.Warn("provider quota nearly exhausted", "remaining", *rl.Remaining)
	}

	tokens := make(chan string, 64)
	errc := make(chan error, 1)
	go func() {
		defer resp.Body.Close()
		defer func() { metrics.LLMLatency.ObserveDuration(time.Since(start)) }()
		err := readSSE(ctx, resp, tokens)
		close(tokens)
		errc <- err
		close(errc)
	}()
	return domain.NewCompletionStream(tokens, errc, rl), nil
}

// readSSE forwards delta content from a server-sent event stream until
// [DONE], end of body or cancellation.
func readSSE(ctx context.Context, resp *http.Response, out chan<- string) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	sawData := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		sawData = true

		var chunk oaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%w: bad stream chunk: %v", domain.ErrInvalidResponse, err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("%w: %s", domain.ErrInvalidResponse, chunk.Error.Message)
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			select {
			case out <- c.Delta.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.NetworkError{Err: err}
	}
	if !sawData {
		return fmt.Errorf("%w: empty stream", domain.ErrInvalidResponse)
	}
	return nil
}

// parseRateLimit reads the x-ratelimit-* request headers. Reset values are
// durations ("6m0s", "20ms") or plain seconds.
func parseRateLimit(h http.Header, now time.Time) domain.RateLimit {
	var rl domain.RateLimit
	if v, err := strconv.Atoi(h.Get("x-ratelimit-limit-requests")); err == nil {
		rl.Limit = &v
	}
	if v, err := strconv.Atoi(h.Get("x-ratelimit-remaining-requests")); err == nil {
		rl.Remaining = &v
	}
	if raw := h.Get("x-ratelimit-reset-requests"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			t := now.Add(d)
			rl.ResetAt = &t
		} else if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			t := now.Add(time.Duration(secs * float64(time.Second)))
			rl.ResetAt = &t
		}
	}
	return rl
}
