// Package channel exposes the bot over HTTP: the provider webhook, the
// static files referenced by replies, health and metrics.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shelterbot/internal/domain"
	"shelterbot/internal/provider"
	"shelterbot/internal/router"
)

const signatureHeader = "X-Line-Signature"

// EventHandler handles one raw webhook body. Implemented by router.Router.
type EventHandler interface {
	Handle(ctx context.Context, body []byte) (router.Outcome, error)
}

// WebhookConfig configures the webhook server.
type WebhookConfig struct {
	Addr            string
	StaticDir       string
	ChannelSecret   string
	VerifySignature bool
	MaxBodyBytes    int64
	RateLimit       float64 // webhook requests per second, 0 disables
	RateBurst       int
	MetricsPath     string       // empty disables the metrics route
	Metrics         http.Handler // served at MetricsPath
	Logger          *slog.Logger
}

// Webhook is the HTTP server fronting the event router.
type Webhook struct {
	addr      string
	staticDir string
	secret    string
	verify    bool
	maxBody   int64
	limiter   *rate.Limiter
	metrics   http.Handler
	metricsAt string
	handler   EventHandler
	logger    *slog.Logger
	server    *http.Server
	started   time.Time
}

func NewWebhook(cfg WebhookConfig, handler EventHandler) *Webhook {
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Webhook{
		addr:      cfg.Addr,
		staticDir: cfg.StaticDir,
		secret:    cfg.ChannelSecret,
		verify:    cfg.VerifySignature,
		maxBody:   cfg.MaxBodyBytes,
		limiter:   limiter,
		metrics:   cfg.Metrics,
		metricsAt: cfg.MetricsPath,
		handler:   handler,
		logger:    cfg.Logger,
		started:   time.Now(),
	}
}

// Routes returns the server's handler.
func (w *Webhook) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handleRoot)
	mux.HandleFunc("/healthz", w.handleHealth)
	if w.staticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", noDirListing(http.FileServer(http.Dir(w.staticDir)))))
	}
	if w.metricsAt != "" && w.metrics != nil {
		mux.Handle(w.metricsAt, w.metrics)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute, // covers a full classify + reply cycle
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.addr, "static_dir", w.staticDir)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleRoot(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(rw, "GET_ok")
	case http.MethodPost:
		w.handleWebhook(rw, r)
	default:
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if w.limiter != nil && !w.limiter.Allow() {
		http.Error(rw, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, w.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(rw, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	if w.verify {
		sig := r.Header.Get(signatureHeader)
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !provider.VerifySignature(body, w.secret, sig) {
			w.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	out, err := w.handler.Handle(r.Context(), body)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeJSON(rw, http.StatusBadRequest, struct{}{})
			return
		}
		writeJSON(rw, http.StatusInternalServerError, struct{}{})
		return
	}
	if out.Payload == nil {
		writeJSON(rw, http.StatusOK, struct{}{})
		return
	}
	writeJSON(rw, http.StatusOK, out.Payload)
}

func (w *Webhook) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(w.started).Seconds()),
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

// noDirListing hides directory indexes of the static tree.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(rw, r)
			return
		}
		next.ServeHTTP(rw, r)
	})
}
