// Package generator produces quote posts with the Gemini generateContent API.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"quotebot/internal/publisher"
	logx "quotebot/pkg/logx"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"
	DefaultTimeout = 60 * time.Second

	defaultTemperature = 2.0
	defaultTopP        = 0.9
	defaultTopK        = 40

	maxResponseBytes = 1 << 20
)

var (
	ErrNoPrompt      = errors.New("generator: no prompt configured")
	ErrEmptyResponse = errors.New("generator: empty response")
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	PromptFile string
	SystemFile string
	Prompt     string // used when PromptFile is empty

	Temperature *float64
	TopP        *float64
	TopK        int

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Quote is the structured answer the model is asked for.
type Quote struct {
	Emoji    string   `json:"emoji"`
	Quote    string   `json:"quote"`
	Theme    string   `json:"theme"`
	Hashtags []string `json:"hashtags"`
}

type Gemini struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("generator: api key is empty")
	}
	if strings.TrimSpace(cfg.PromptFile) == "" && strings.TrimSpace(cfg.Prompt) == "" {
		return nil, ErrNoPrompt
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = time.Second
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if rc.RetryMax <= 0 {
		rc.RetryMax = 3
	}
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.Logger = nil
	rc.HTTPClient.Timeout = cfg.Timeout
	// Keep the final response so the API error body can be reported.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Gemini{cfg: cfg, client: rc.StandardClient(), log: log}, nil
}

// Generate asks the model for one quote and formats it for the channel.
func (g *Gemini) Generate(ctx context.Context) (publisher.Content, error) {
	q, err := g.Quote(ctx)
	if err != nil {
		return publisher.Content{}, err
	}
	return publisher.Content{Message: Format(q), Topic: strings.TrimSpace(q.Theme)}, nil
}

// Quote performs the API call and validates the structured answer.
func (g *Gemini) Quote(ctx context.Context) (Quote, error) {
	prompt, system, err := g.readPrompts()
	if err != nil {
		return Quote{}, err
	}

	body, err := json.Marshal(g.request(prompt, system))
	if err != nil {
		return Quote{}, err
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.BaseURL, g.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Quote{}, fmt.Errorf("generator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("generator: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Quote{}, fmt.Errorf("generator: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Quote{}, apiError(resp.StatusCode, raw)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Quote{}, fmt.Errorf("generator: decode response: %w", err)
	}
	text, err := out.text()
	if err != nil {
		return Quote{}, err
	}

	var q Quote
	if err := json.Unmarshal([]byte(text), &q); err != nil {
		return Quote{}, fmt.Errorf("generator: model returned malformed JSON: %w", err)
	}
	if strings.TrimSpace(q.Quote) == "" {
		return Quote{}, fmt.Errorf("%w: quote is blank", ErrEmptyResponse)
	}
	g.log.Debug("quote generated",
		logx.String("model", g.cfg.Model), logx.String("theme", q.Theme), logx.Duration("took", time.Since(start)))
	return q, nil
}

// readPrompts re-reads both files on every call so edits apply without a restart.
func (g *Gemini) readPrompts() (prompt, system string, err error) {
	prompt = g.cfg.Prompt
	if f := strings.TrimSpace(g.cfg.PromptFile); f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return "", "", fmt.Errorf("generator: read prompt: %w", err)
		}
		prompt = string(b)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", "", ErrNoPrompt
	}
	if f := strings.TrimSpace(g.cfg.SystemFile); f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return "", "", fmt.Errorf("generator: read system instruction: %w", err)
		}
		system = string(b)
	}
	return prompt, system, nil
}

// Format renders "<emoji> - <quote>" followed by the hashtags in a spoiler,
// HTML-escaped for ParseMode HTML.
func Format(q Quote) string {
	var b strings.Builder
	if e := strings.TrimSpace(q.Emoji); e != "" {
		b.WriteString(html.EscapeString(e))
		b.WriteString(" - ")
	}
	b.WriteString(html.EscapeString(strings.TrimSpace(q.Quote)))

	tags := make([]string, 0, len(q.Hashtags))
	for _, t := range q.Hashtags {
		t = strings.Join(strings.Fields(strings.TrimLeft(strings.TrimSpace(t), "#")), "_")
		if t != "" {
			tags = append(tags, "#"+html.EscapeString(t))
		}
	}
	if len(tags) > 0 {
		b.WriteString("\n\n<tg-spoiler>")
		b.WriteString(strings.Join(tags, " "))
		b.WriteString("</tg-spoiler>")
	}
	return b.String()
}
