package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"shelterbot/internal/domain"
)

const (
	defaultMaxFailures uint32 = 3
	defaultOpenTimeout        = 60 * time.Second
	defaultInterval           = 120 * time.Second
)

type BreakerConfig struct {
	MaxFailures uint32        // consecutive failures before the circuit opens
	OpenTimeout time.Duration // how long the circuit stays open
	Interval    time.Duration // closed-state window for clearing counts
}

// Breaker wraps a Classifier with a circuit breaker. While open, calls fail
// immediately with domain.ErrClassification.
type Breaker struct {
	inner   Classifier
	breaker *gobreaker.CircuitBreaker[Result]
}

func NewBreaker(inner Classifier, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A cancelled request says nothing about the classifier's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) Classify(ctx context.Context, imagePath, outputPath string) (Result, error) {
	res, err := b.breaker.Execute(func() (Result, error) {
		return b.inner.Classify(ctx, imagePath, outputPath)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, fmt.Errorf("%w: circuit open: %v", domain.ErrClassification, err)
	}
	return res, err
}

func (b *Breaker) State() gobreaker.State { return b.breaker.State() }

var _ Classifier = (*Breaker)(nil)
