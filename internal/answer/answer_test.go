package answer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelterbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type reasons struct{ got []string }

func (r *reasons) AnswerFallback(reason string) { r.got = append(r.got, reason) }

func newForwarder(t *testing.T, status int, body string) (*Forwarder, *reasons, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	obs := &reasons{}
	f := New(Config{
		URL:          srv.URL,
		FallbackText: "fallback",
		HTTPClient:   srv.Client(),
		Breaker:      BreakerConfig{MaxFailures: 2},
		Observer:     obs,
		Logger:       testLogger(),
	})
	return f, obs, &calls
}

func TestAnswer_WellFormed(t *testing.T) {
	f, obs, _ := newForwarder(t, http.StatusOK, `[{"response":{"text":"X"}}]`)
	assert.Equal(t, domain.TextFragment{Text: "X"}, f.Answer(context.Background(), "hi"))
	assert.Empty(t, obs.got)
}

func TestAnswer_EmptyTextIsValid(t *testing.T) {
	f, _, _ := newForwarder(t, http.StatusOK, `[{"response":{"text":""}}]`)
	assert.Equal(t, "", f.Answer(context.Background(), "hi").Text)
}

func TestAnswer_FallbackCases(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		reason string
	}{
		"invalid json":   {http.StatusOK, `<html>`, "decode"},
		"empty array":    {http.StatusOK, `[]`, "decode"},
		"missing path":   {http.StatusOK, `[{"output":"x"}]`, "decode"},
		"object":         {http.StatusOK, `{"response":{"text":"X"}}`, "decode"},
		"non-2xx status": {http.StatusBadGateway, `[{"response":{"text":"X"}}]`, "forwarding"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f, obs, _ := newForwarder(t, tc.status, tc.body)
			assert.Equal(t, "fallback", f.Answer(context.Background(), "hi").Text)
			assert.Equal(t, []string{tc.reason}, obs.got)
		})
	}
}

func TestAnswer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	f := New(Config{URL: srv.URL, Logger: testLogger()})
	assert.Equal(t, defaultFallback, f.Answer(context.Background(), "hi").Text)
}

func TestAnswer_OpenCircuitSkipsNetwork(t *testing.T) {
	f, obs, calls := newForwarder(t, http.StatusInternalServerError, `oops`)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "fallback", f.Answer(context.Background(), "hi").Text)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"forwarding", "forwarding", "circuit_open"}, obs.got)
}

func TestAnswer_DecodeFailuresDoNotTrip(t *testing.T) {
	f, _, calls := newForwarder(t, http.StatusOK, `not json`)
	for i := 0; i < 4; i++ {
		f.Answer(context.Background(), "hi")
	}
	assert.Equal(t, int32(4), calls.Load())
}
