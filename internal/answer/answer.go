// Package answer forwards free text to the retrieval-augmented answering
// service. It always produces a reply: any failure yields the fallback text.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"shelterbot/internal/domain"
)

const (
	defaultFallback = "service unavailable, try again later"
	maxBodyBytes    = 1 << 20
)

// FallbackObserver is told each time the fallback text is used.
type FallbackObserver interface {
	AnswerFallback(reason string)
}

type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
	Interval    time.Duration
}

type Config struct {
	URL          string
	FallbackText string
	HTTPClient   *http.Client
	Breaker      BreakerConfig
	Observer     FallbackObserver
	Logger       *slog.Logger
}

// Forwarder posts {"text": ...} and extracts [0].response.text.
type Forwarder struct {
	url      string
	fallback string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[string]
	observer FallbackObserver
	logger   *slog.Logger
}

func New(cfg Config) *Forwarder {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	fallback := cfg.FallbackText
	if fallback == "" {
		fallback = defaultFallback
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.Breaker.OpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}
	interval := cfg.Breaker.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}

	f := &Forwarder{
		url:      cfg.URL,
		fallback: fallback,
		client:   client,
		observer: cfg.Observer,
		logger:   logger,
	}
	f.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "answer",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Only transport and status failures count against the service.
		// A 200 with an unexpected body is a content problem.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrDecode)
		},
	})
	return f
}

// Answer returns the service's reply to text, or the fallback text.
func (f *Forwarder) Answer(ctx context.Context, text string) domain.TextFragment {
	reply, err := f.breaker.Execute(func() (string, error) {
		return f.ask(ctx, text)
	})
	if err != nil {
		reason := "forwarding"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = "circuit_open"
		case errors.Is(err, domain.ErrDecode):
			reason = "decode"
		}
		f.logger.Warn("answer service unavailable, using fallback", "reason", reason, "err", err)
		if f.observer != nil {
			f.observer.AnswerFallback(reason)
		}
		return domain.TextFragment{Text: f.fallback}
	}
	return domain.TextFragment{Text: reply}
}

type answerRequest struct {
	Text string `json:"text"`
}

type answerItem struct {
	Response *struct {
		Text *string `json:"text"`
	} `json:"response"`
}

func (f *Forwarder) ask(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(answerRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", domain.ErrForwarding, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrForwarding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrForwarding, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", domain.ErrForwarding, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", domain.ErrForwarding, resp.StatusCode)
	}

	var items []answerItem
	if err := json.Unmarshal(raw, &items); err != nil {
		f.logger.Debug("answer service returned invalid JSON", "body", string(raw))
		return "", fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if len(items) == 0 || items[0].Response == nil || items[0].Response.Text == nil {
		return "", fmt.Errorf("%w: missing [0].response.text", domain.ErrDecode)
	}
	return *items[0].Response.Text, nil
}
