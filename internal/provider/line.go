// Package provider talks to the LINE Messaging API: it downloads the content
// of inbound media messages and posts reply payloads.
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"shelterbot/internal/domain"
)

const (
	defaultAPIBase     = "https://api.line.me"
	defaultDataAPIBase = "https://api-data.line.me"

	// maxContentBytes caps a single downloaded media message.
	maxContentBytes = 20 << 20
)

// LineConfig configures the LINE client.
type LineConfig struct {
	AccessToken string
	APIBase     string // reply endpoint host, default https://api.line.me
	DataAPIBase string // content endpoint host, default https://api-data.line.me
	Timeout     time.Duration
	HTTPClient  *http.Client // optional, overrides Timeout
	Logger      *slog.Logger
}

// Line wraps the messaging and blob clients of the LINE SDK.
type Line struct {
	token       string
	apiBase     string
	dataAPIBase string
	client      *http.Client
	logger      *slog.Logger
}

func NewLine(cfg LineConfig) (*Line, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = SharedHTTPClient(cfg.Timeout)
	}
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	dataBase := strings.TrimRight(cfg.DataAPIBase, "/")
	if dataBase == "" {
		dataBase = defaultDataAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Line{
		token:       cfg.AccessToken,
		apiBase:     apiBase,
		dataAPIBase: dataBase,
		client:      client,
		logger:      logger,
	}
	// Fail at startup on a bad token or endpoint rather than on the first event.
	if _, err := l.messaging(context.Background()); err != nil {
		return nil, fmt.Errorf("line messaging client: %w", err)
	}
	if _, err := l.blob(context.Background()); err != nil {
		return nil, fmt.Errorf("line blob client: %w", err)
	}
	return l, nil
}

// messaging and blob build a request-scoped SDK client. SDK clients hold a
// single context, so they are not shared between concurrent requests.
func (l *Line) messaging(ctx context.Context) (*messaging_api.MessagingApiAPI, error) {
	api, err := messaging_api.NewMessagingApiAPI(l.token,
		messaging_api.WithEndpoint(l.apiBase),
		messaging_api.WithHTTPClient(l.client),
	)
	if err != nil {
		return nil, err
	}
	return api.WithContext(ctx), nil
}

func (l *Line) blob(ctx context.Context) (*messaging_api.MessagingApiBlobAPI, error) {
	api, err := messaging_api.NewMessagingApiBlobAPI(l.token,
		messaging_api.WithBlobEndpoint(l.dataAPIBase),
		messaging_api.WithBlobHTTPClient(l.client),
	)
	if err != nil {
		return nil, err
	}
	return api.WithContext(ctx), nil
}

// Content downloads the binary content of a message.
func (l *Line) Content(ctx context.Context, mediaID string) ([]byte, error) {
	if !ValidMediaID(mediaID) {
		return nil, fmt.Errorf("%w: invalid media id %q", domain.ErrFetch, mediaID)
	}
	api, err := l.blob(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}

	resp, err := api.GetMessageContent(mediaID)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: line content API: %v", domain.ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: line content API %d: %s", domain.ErrFetch, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrFetch, err)
	}
	if len(data) > maxContentBytes {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", domain.ErrFetch, maxContentBytes)
	}
	return data, nil
}

// SaveContent downloads a message's content to {dir}/{mediaID}.jpg and
// returns the path. The file is checked after the write; a missing file is
// reported as domain.ErrPersistence.
func (l *Line) SaveContent(ctx context.Context, mediaID, dir string) (string, error) {
	data, err := l.Content(ctx, mediaID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create dir %s: %v", domain.ErrPersistence, dir, err)
	}
	path := filepath.Join(dir, MediaFileName(mediaID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", domain.ErrPersistence, path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s not saved correctly", domain.ErrPersistence, path)
	}

	l.logger.Debug("message content saved", "media_id", mediaID, "bytes", len(data), "path", path)
	return path, nil
}

// sdkMessage lets a domain fragment travel in an SDK reply request. The
// fragment's own JSON already carries the LINE message shape.
type sdkMessage struct {
	domain.Fragment
}

func (m sdkMessage) GetType() string { return m.FragmentType() }

func (m sdkMessage) MarshalJSON() ([]byte, error) { return json.Marshal(m.Fragment) }

// Reply posts a reply payload. It never returns an error: a transport
// failure or a non-200 status is logged and reported in the result.
func (l *Line) Reply(ctx context.Context, payload domain.ReplyPayload) domain.DeliveryResult {
	api, err := l.messaging(ctx)
	if err != nil {
		return l.failed(0, "", fmt.Errorf("%w: %v", domain.ErrDelivery, err))
	}

	msgs := make([]messaging_api.MessageInterface, len(payload.Messages))
	for i, f := range payload.Messages {
		msgs[i] = sdkMessage{f}
	}
	resp, _, err := api.ReplyMessageWithHttpInfo(&messaging_api.ReplyMessageRequest{
		ReplyToken: payload.ReplyToken,
		Messages:   msgs,
	})
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return l.failed(0, "", fmt.Errorf("%w: %v", domain.ErrDelivery, err))
	}
	defer resp.Body.Close()

	// A 200 with an undecodable body still means the reply was accepted.
	if resp.StatusCode == http.StatusOK {
		if err != nil {
			l.logger.Debug("reply response not decoded", "err", err)
		}
		return domain.DeliveryResult{StatusCode: resp.StatusCode, Delivered: true}
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	body := string(respBody)
	if body == "" && err != nil {
		body = err.Error()
	}
	return l.failed(resp.StatusCode, body,
		fmt.Errorf("%w: line reply API %d", domain.ErrDelivery, resp.StatusCode))
}

func (l *Line) failed(status int, body string, err error) domain.DeliveryResult {
	l.logger.Error("reply delivery failed", "status", status, "body", body, "err", err)
	return domain.DeliveryResult{StatusCode: status, Body: body, Err: err}
}

// ValidMediaID reports whether id is safe to use as a file name. Provider
// message ids are numeric; letters, '-' and '_' are tolerated.
func ValidMediaID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// MediaFileName is the local file name of a downloaded media message.
func MediaFileName(mediaID string) string {
	return mediaID + ".jpg"
}

// ResultFileName is the local file name of a classifier result image.
func ResultFileName(mediaID string) string {
	return mediaID + "_result.jpg"
}

// VerifySignature checks an X-Line-Signature header against the raw body.
func VerifySignature(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	return webhook.ValidateSignature(secret, signature, body)
}

// Sign computes the X-Line-Signature value for body. Used to sign test
// requests and local replays.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
