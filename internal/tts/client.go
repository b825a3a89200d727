// Package tts calls the remote text-to-speech endpoint and warms the audio
// cache ahead of playback.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/metrics"
)

// Request defaults
const (
	DefaultVoice    = "nova"
	DefaultSpeed    = 1.0
	DefaultProvider = "openai"
	returnTypeURL   = "url"
)

// Request is the synthesis request body
type Request struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	Book       string  `json:"book,omitempty"`
	Chapter    int     `json:"chapter,omitempty"`
	Verse      int     `json:"verse,omitempty"`
	UseCache   bool    `json:"useCache"`
	Provider   string  `json:"provider"`
	ReturnType string  `json:"returnType"`
}

// Result is a playable synthesis result
type Result struct {
	// AudioURL is the hosted URL, or a data: URL built from inline audio
	AudioURL string
	Cached   bool
	Inline   bool
}

type response struct {
	AudioURL     string `json:"audioUrl"`
	AudioContent string `json:"audioContent"`
	Cached       bool   `json:"cached"`
	Error        string `json:"error"`
}

// Config contains TTS client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Provider string
	Voice    string
	Timeout  time.Duration
}

// Client posts synthesis requests to a single endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient creates a TTS client; the endpoint is required
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if strings.TrimSpace(config.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Provider == "" {
		config.Provider = DefaultProvider
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		metrics:    m,
	}, nil
}

// Voice returns the configured default voice
func (c *Client) Voice() string {
	return c.config.Voice
}

// Generate synthesises req.Text. A hosted URL is preferred; inline base64
// audio is returned as a data: URL. Remote failures surface as *RemoteError.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if req.Voice == "" {
		req.Voice = c.config.Voice
	}
	if req.Speed <= 0 {
		req.Speed = DefaultSpeed
	}
	req.Provider = c.config.Provider
	req.ReturnType = returnTypeURL

	start := time.Now()
	result, err := c.doRequest(ctx, req)
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case errors.Is(err, ErrRateLimited):
		outcome = "rate_limited"
	case errors.Is(err, ErrCreditsExhausted):
		outcome = "credits_exhausted"
	case err != nil:
		outcome = "failure"
	}
	c.metrics.RecordTTSRequest(outcome, elapsed.Seconds())

	if err != nil {
		slog.Warn("tts request failed", "voice", req.Voice, "text_length", len(req.Text), "error", err)
		return nil, err
	}
	slog.Debug("tts request completed",
		"voice", req.Voice,
		"cached", result.Cached,
		"inline", result.Inline,
		"duration", elapsed)
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}

	var parsed response
	jsonErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parsed.Error
		if jsonErr != nil || msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("%w: failed to parse response JSON: %w", ErrRequestFailed, jsonErr)
	}
	if parsed.Error != "" {
		return nil, &RemoteError{Status: resp.StatusCode, Message: parsed.Error}
	}

	switch {
	case parsed.AudioURL != "":
		return &Result{AudioURL: parsed.AudioURL, Cached: parsed.Cached}, nil
	case parsed.AudioContent != "":
		raw, err := base64.StdEncoding.DecodeString(parsed.AudioContent)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid audioContent: %w", ErrRequestFailed, err)
		}
		return &Result{
			AudioURL: audio.DataURL("audio/mpeg", raw),
			Cached:   parsed.Cached,
			Inline:   true,
		}, nil
	default:
		return nil, ErrNoAudio
	}
}
