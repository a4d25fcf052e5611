package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shelterbot/internal/domain"
	"shelterbot/internal/provider"
	"shelterbot/internal/router"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubHandler struct {
	out   router.Outcome
	err   error
	calls int
	body  string
}

func (s *stubHandler) Handle(_ context.Context, body []byte) (router.Outcome, error) {
	s.calls++
	s.body = string(body)
	return s.out, s.err
}

func newTestWebhook(t *testing.T, h EventHandler, mutate func(*WebhookConfig)) http.Handler {
	t.Helper()
	cfg := WebhookConfig{
		StaticDir:     t.TempDir(),
		ChannelSecret: "secret",
		MaxBodyBytes:  1024,
		Logger:        testWebhookLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewWebhook(cfg, h).Routes()
}

func post(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetRoot_Liveness(t *testing.T) {
	h := newTestWebhook(t, &stubHandler{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "GET_ok" {
		t.Errorf("GET / = %d %q", rec.Code, rec.Body.String())
	}
}

func TestPost_NoopReturnsEmptyObject(t *testing.T) {
	stub := &stubHandler{}
	h := newTestWebhook(t, stub, nil)

	rec := post(h, `{"events":[]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("expected {}, got %q", rec.Body.String())
	}
	if stub.body != `{"events":[]}` {
		t.Errorf("handler got %q", stub.body)
	}
}

func TestPost_ReturnsPayload(t *testing.T) {
	payload := &domain.ReplyPayload{
		ReplyToken: "r1",
		Messages:   []domain.Fragment{domain.TextFragment{Text: "X"}},
	}
	// An undelivered reply does not change the webhook response.
	stub := &stubHandler{out: router.Outcome{
		Payload:  payload,
		Delivery: &domain.DeliveryResult{StatusCode: http.StatusBadRequest},
	}}
	h := newTestWebhook(t, stub, nil)

	rec := post(h, `{}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["replyToken"] != "r1" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestPost_Errors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.NewPipelineError("classify", "abc", domain.ErrClassification), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestWebhook(t, &stubHandler{err: tc.err}, nil)
		rec := post(h, `{}`, nil)
		if rec.Code != tc.code {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != "{}" {
			t.Errorf("%v: expected {} body, got %q", tc.err, rec.Body.String())
		}
	}
}

func TestPost_MistypedFieldsAreNoop(t *testing.T) {
	r := router.New(router.Config{Logger: testWebhookLogger()})
	h := newTestWebhook(t, r, nil)

	for _, body := range []string{
		`{"events":{}}`,
		`{"events":[{"type":"message","replyToken":123}]}`,
		`{"events":[{"type":"follow","replyToken":"t","message":"x"}]}`,
	} {
		rec := post(h, body, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", body, rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != "{}" {
			t.Errorf("%s: expected {}, got %q", body, rec.Body.String())
		}
	}

	if rec := post(h, `{"events":`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("truncated JSON: expected 400, got %d", rec.Code)
	}
}

func TestPost_BodyTooLarge(t *testing.T) {
	stub := &stubHandler{}
	h := newTestWebhook(t, stub, nil)

	rec := post(h, strings.Repeat("x", 2048), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
	if stub.calls != 0 {
		t.Error("handler should not be called")
	}
}

func TestPost_Signature(t *testing.T) {
	body := `{"events":[]}`
	verify := func(c *WebhookConfig) { c.VerifySignature = true }

	stub := &stubHandler{}
	h := newTestWebhook(t, stub, verify)

	if rec := post(h, body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: expected 401, got %d", rec.Code)
	}
	if rec := post(h, body, map[string]string{signatureHeader: provider.Sign([]byte(body+" "), "secret")}); rec.Code != http.StatusForbidden {
		t.Errorf("bad signature: expected 403, got %d", rec.Code)
	}
	if stub.calls != 0 {
		t.Fatal("handler called despite bad signature")
	}
	if rec := post(h, body, map[string]string{signatureHeader: provider.Sign([]byte(body), "secret")}); rec.Code != http.StatusOK {
		t.Errorf("valid signature: expected 200, got %d", rec.Code)
	}
}

func TestPost_RateLimit(t *testing.T) {
	h := newTestWebhook(t, &stubHandler{}, func(c *WebhookConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	if rec := post(h, `{}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if rec := post(h, `{}`, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestWebhook(t, &stubHandler{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "shelter", "image"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "shelter", "image", "2024-05-01.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newTestWebhook(t, &stubHandler{}, func(c *WebhookConfig) { c.StaticDir = dir })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/shelter/image/2024-05-01.jpg", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg" {
		t.Errorf("static file: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/shelter/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("directory listing: expected 404, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("shelterbot_uptime_seconds 1\n"))
	})
	h := newTestWebhook(t, &stubHandler{}, func(c *WebhookConfig) {
		c.MetricsPath = "/metrics"
		c.Metrics = metrics
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "shelterbot_uptime_seconds") {
		t.Errorf("metrics not served: %q", rec.Body.String())
	}
}

func TestUnknownPath(t *testing.T) {
	h := newTestWebhook(t, &stubHandler{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
