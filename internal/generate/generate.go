// Package generate produces article drafts for schedule topics by calling an
// external text-generation HTTP API.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"newsdesk/pkg/logx"
)

// ErrBadDraft marks a response the provider returned successfully but that
// does not contain a usable draft. Retrying the same request will not help,
// so callers treat it as permanent and move on to the next topic.
var ErrBadDraft = errors.New("unusable draft in provider response")

// Draft is one generated article.
type Draft struct {
	Topic string
	Title string
	Body  string
}

// Generator produces a draft for a topic.
type Generator interface {
	Generate(ctx context.Context, topic string) (Draft, error)
}

// Config configures the HTTP generator.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// HTTPGenerator calls a JSON-over-HTTP generation endpoint.
type HTTPGenerator struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func NewHTTP(cfg Config, log logx.Logger) (*HTTPGenerator, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("generation endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

type generateRequest struct {
	Model string `json:"model,omitempty"`
	Topic string `json:"topic"`
}

type generateResponse struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, topic string) (Draft, error) {
	payload, err := json.Marshal(generateRequest{Model: g.cfg.Model, Topic: topic})
	if err != nil {
		return Draft{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Draft{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return Draft{}, fmt.Errorf("call generation api: %w", err)
	}
	defer resp.Body.Close()

	// Cap the read so a misbehaving endpoint cannot balloon memory.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Draft{}, fmt.Errorf("read generation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Draft{}, fmt.Errorf("generation api returned %s", resp.Status)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrBadDraft, err)
	}
	if strings.TrimSpace(out.Title) == "" || strings.TrimSpace(out.Body) == "" {
		return Draft{}, fmt.Errorf("%w: empty title or body", ErrBadDraft)
	}

	g.log.Debug("draft generated",
		logx.String("topic", topic),
		logx.Duration("took", time.Since(start)),
		logx.Int("body_len", len(out.Body)))

	return Draft{Topic: topic, Title: out.Title, Body: out.Body}, nil
}
