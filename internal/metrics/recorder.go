package metrics

import "time"

// Recorder receives the bot's operational events.
type Recorder interface {
	EventHandled(kind string, dur time.Duration)
	EventFailed(kind, stage string)
	Delivery(ok bool)
	AnswerFallback(reason string)
	ObjectDownloaded(ok bool, dur time.Duration)
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Prometheus records events into a MetricsCollector under shelterbot_*
// metric names.
type Prometheus struct {
	c *MetricsCollector
}

func NewPrometheus(c *MetricsCollector) *Prometheus {
	return &Prometheus{c: c}
}

func (p *Prometheus) Collector() *MetricsCollector { return p.c }

func (p *Prometheus) EventHandled(kind string, dur time.Duration) {
	l := Label("kind", kind)
	p.c.Counter("shelterbot_events_total", "Webhook events handled", l).Inc()
	p.c.Histogram("shelterbot_event_duration_seconds", "Time to build and deliver a reply", l, latencyBuckets).
		Observe(dur.Seconds())
}

func (p *Prometheus) EventFailed(kind, stage string) {
	p.c.Counter("shelterbot_event_failures_total", "Webhook events whose pipeline failed",
		Label("kind", kind)+","+Label("stage", stage)).Inc()
}

func (p *Prometheus) Delivery(ok bool) {
	result := "delivered"
	if !ok {
		result = "failed"
	}
	p.c.Counter("shelterbot_replies_total", "Reply API calls by outcome", Label("result", result)).Inc()
}

func (p *Prometheus) AnswerFallback(reason string) {
	p.c.Counter("shelterbot_answer_fallbacks_total", "Answer service fallbacks", Label("reason", reason)).Inc()
}

func (p *Prometheus) ObjectDownloaded(ok bool, dur time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	p.c.Counter("shelterbot_object_downloads_total", "Object store downloads", Label("result", result)).Inc()
	p.c.Histogram("shelterbot_object_download_seconds", "Object store download latency", "", latencyBuckets).
		Observe(dur.Seconds())
}

// Multi fans events out to several recorders.
type Multi []Recorder

func (m Multi) EventHandled(kind string, dur time.Duration) {
	for _, r := range m {
		r.EventHandled(kind, dur)
	}
}

func (m Multi) EventFailed(kind, stage string) {
	for _, r := range m {
		r.EventFailed(kind, stage)
	}
}

func (m Multi) Delivery(ok bool) {
	for _, r := range m {
		r.Delivery(ok)
	}
}

func (m Multi) AnswerFallback(reason string) {
	for _, r := range m {
		r.AnswerFallback(reason)
	}
}

func (m Multi) ObjectDownloaded(ok bool, dur time.Duration) {
	for _, r := range m {
		r.ObjectDownloaded(ok, dur)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) EventHandled(string, time.Duration)   {}
func (Nop) EventFailed(string, string)           {}
func (Nop) Delivery(bool)                        {}
func (Nop) AnswerFallback(string)                {}
func (Nop) ObjectDownloaded(bool, time.Duration) {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Multi(nil)
	_ Recorder = Nop{}
)
