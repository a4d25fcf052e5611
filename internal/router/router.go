// Package router parses provider webhook bodies, dispatches the first event
// to the matching reply pipeline and delivers the reply.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelterbot/internal/classifier"
	"shelterbot/internal/domain"
	"shelterbot/internal/journal"
	"shelterbot/internal/metrics"
	"shelterbot/internal/reply"
)

// Replier delivers reply payloads. Implemented by provider.Line.
type Replier interface {
	Reply(ctx context.Context, payload domain.ReplyPayload) domain.DeliveryResult
}

// ContentSaver downloads message content into dir. Implemented by provider.Line.
type ContentSaver interface {
	SaveContent(ctx context.Context, mediaID, dir string) (string, error)
}

// Answerer produces a reply for free text. It never fails.
type Answerer interface {
	Answer(ctx context.Context, text string) domain.TextFragment
}

// Resolver maps text to a command. Implemented by reply.CommandTable.
type Resolver interface {
	Resolve(text string) (reply.Command, bool)
}

// Journal records handled events. Implemented by journal.Store.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

type Config struct {
	Replier    Replier
	Content    ContentSaver
	Classifier classifier.Classifier
	Answerer   Answerer
	Commands   Resolver
	StaticDir  string
	BaseURL    string
	// ErrorReplyText, when set, is sent in place of a failed pipeline's reply.
	ErrorReplyText string
	Metrics        metrics.Recorder
	Journal        Journal // optional
	Logger         *slog.Logger
}

// Outcome is the result of handling one webhook body. Both fields are nil
// for a no-op.
type Outcome struct {
	Payload  *domain.ReplyPayload
	Delivery *domain.DeliveryResult
}

// Router handles webhook bodies. It is safe for concurrent use.
type Router struct {
	replier        Replier
	answerer       Answerer
	commands       Resolver
	images         *imagePipeline
	errorReplyText string
	metrics        metrics.Recorder
	journal        Journal
	logger         *slog.Logger
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Router{
		replier:  cfg.Replier,
		answerer: cfg.Answerer,
		commands: cfg.Commands,
		images: &imagePipeline{
			content:    cfg.Content,
			classifier: cfg.Classifier,
			staticDir:  cfg.StaticDir,
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			timeout:    imageTimeout,
		},
		errorReplyText: cfg.ErrorReplyText,
		metrics:        rec,
		journal:        cfg.Journal,
		logger:         logger,
	}
}

// dispatchResult carries what a pipeline produced for one event.
type dispatchResult struct {
	fragments []domain.Fragment
	label     string
}

// Handle parses body and replies to its first event. A body that is not JSON
// returns an error wrapping domain.ErrValidation. Delivery failures are
// reported in the Outcome, never as an error.
func (r *Router) Handle(ctx context.Context, body []byte) (Outcome, error) {
	requestID := uuid.NewString()
	logger := r.logger.With("request_id", requestID)
	logger.Debug("webhook received", "body", string(body))

	ev, ok, err := domain.ParseFirstEvent(body)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		logger.Debug("no usable event, ignoring")
		return Outcome{}, nil
	}
	if ev.ReplyToken == "" {
		logger.Debug("event has no reply token, ignoring", "type", ev.Type)
		return Outcome{}, nil
	}

	start := time.Now()
	kind := ev.Kind()
	res, handled, err := r.dispatch(ctx, ev)
	if !handled {
		logger.Debug("unsupported event, ignoring", "kind", kind)
		return Outcome{}, nil
	}

	entry := journal.Entry{
		RequestID:  requestID,
		Kind:       kind,
		MediaID:    ev.MediaID,
		ReplyToken: ev.ReplyToken,
		Label:      res.label,
	}

	if err != nil {
		stage := "unknown"
		var pe *domain.PipelineError
		if errors.As(err, &pe) {
			stage = pe.Stage
		}
		r.metrics.EventFailed(kind, stage)
		logger.Error("reply pipeline failed", "kind", kind, "stage", stage, "media_id", ev.MediaID, "err", err)

		if r.errorReplyText == "" {
			entry.Error = err.Error()
			entry.Latency = time.Since(start)
			r.record(ctx, logger, entry)
			return Outcome{}, err
		}
		res.fragments = []domain.Fragment{reply.Text(r.errorReplyText)}
		entry.Error = err.Error()
	}

	if n := len(res.fragments); n > domain.MaxReplyMessages {
		logger.Error("reply exceeds provider message limit, truncating", "kind", kind, "fragments", n)
		res.fragments = res.fragments[:domain.MaxReplyMessages]
	}
	payload := domain.ReplyPayload{ReplyToken: ev.ReplyToken, Messages: res.fragments}
	delivery := r.replier.Reply(ctx, payload)
	dur := time.Since(start)

	r.metrics.Delivery(delivery.Delivered)
	r.metrics.EventHandled(kind, dur)
	logger.Info("reply sent",
		"kind", kind,
		"fragments", len(payload.Messages),
		"delivered", delivery.Delivered,
		"status", delivery.StatusCode,
		"duration", dur,
	)

	entry.Fragments = len(payload.Messages)
	entry.StatusCode = delivery.StatusCode
	entry.Delivered = delivery.Delivered
	entry.Latency = dur
	if entry.Error == "" && delivery.Err != nil {
		entry.Error = delivery.Err.Error()
	}
	r.record(ctx, logger, entry)

	return Outcome{Payload: &payload, Delivery: &delivery}, nil
}

// dispatch runs the pipeline for ev. handled is false for events that get
// no reply.
func (r *Router) dispatch(ctx context.Context, ev domain.InboundEvent) (dispatchResult, bool, error) {
	if ev.Type != domain.EventMessage {
		return dispatchResult{}, false, nil
	}

	switch ev.MessageType {
	case domain.MessageText:
		if cmd, ok := r.commands.Resolve(ev.Text); ok {
			frags, err := cmd(ctx)
			return dispatchResult{fragments: frags}, true, err
		}
		return dispatchResult{fragments: []domain.Fragment{r.answerer.Answer(ctx, ev.Text)}}, true, nil

	case domain.MessageImage:
		if ev.MediaID == "" {
			return dispatchResult{}, false, nil
		}
		img, label, err := r.images.run(ctx, ev.MediaID)
		if err != nil {
			return dispatchResult{}, true, err
		}
		return dispatchResult{fragments: []domain.Fragment{img}, label: label}, true, nil
	}
	return dispatchResult{}, false, nil
}

func (r *Router) record(ctx context.Context, logger *slog.Logger, e journal.Entry) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.Warn("journal write failed", "err", err)
	}
}
