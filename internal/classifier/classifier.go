// Package classifier sends a photo to the emotion classification service
// and writes the annotated result image next to it.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"shelterbot/internal/domain"
)

// maxResponseBytes caps the classifier response, which may embed an image.
const maxResponseBytes = 32 << 20

// Result is the outcome of a successful classification.
type Result struct {
	Label      string
	Confidence float64
	OutputPath string
}

// Classifier labels the image at imagePath and writes the rendered result
// to outputPath. The file at outputPath exists when err is nil.
type Classifier interface {
	Classify(ctx context.Context, imagePath, outputPath string) (Result, error)
}

type HTTPConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPClassifier posts the raw JPEG bytes to an inference endpoint.
type HTTPClassifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewHTTP(cfg HTTPConfig) *HTTPClassifier {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClassifier{url: cfg.URL, client: client, logger: logger}
}

func (c *HTTPClassifier) Classify(ctx context.Context, imagePath, outputPath string) (Result, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read %s: %v", domain.ErrClassification, imagePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(img))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", domain.ErrClassification, err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrClassification, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %v", domain.ErrClassification, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: classifier returned %d: %s", domain.ErrClassification, resp.StatusCode, truncate(string(body), 200))
	}

	pred, err := parsePrediction(body)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: create output dir: %v", domain.ErrClassification, err)
	}
	if err := render(pred, outputPath); err != nil {
		return Result{}, err
	}
	if _, err := os.Stat(outputPath); err != nil {
		return Result{}, fmt.Errorf("%w: output image %s was not saved correctly", domain.ErrClassification, outputPath)
	}

	c.logger.Debug("image classified", "label", pred.Label(), "confidence", pred.Confidence(), "output", outputPath)
	return Result{Label: pred.Label(), Confidence: pred.Confidence(), OutputPath: outputPath}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Classifier = (*HTTPClassifier)(nil)
