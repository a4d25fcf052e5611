package classifier

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"shelterbot/internal/domain"
)

// Prediction is one classification returned by the service.
type Prediction interface {
	Label() string
	Confidence() float64
}

// Saver is implemented by predictions that carry a ready-made annotated
// image and can write it to disk themselves.
type Saver interface {
	Save(path string) error
}

// Plotter is implemented by predictions that carry raw pixels to render.
type Plotter interface {
	Plot() (image.Image, error)
}

// rawPrediction is the wire shape of a single prediction.
type rawPrediction struct {
	Label          string   `json:"label"`
	Confidence     float64  `json:"confidence"`
	AnnotatedImage string   `json:"annotated_image,omitempty"` // base64 JPEG
	Plot           *rawPlot `json:"plot,omitempty"`
}

type rawPlot struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels string `json:"pixels"` // base64, packed 8-bit RGB rows
}

type basePrediction struct {
	label      string
	confidence float64
}

func (p basePrediction) Label() string       { return p.label }
func (p basePrediction) Confidence() float64 { return p.confidence }

type annotatedPrediction struct {
	basePrediction
	jpeg []byte
}

func (p annotatedPrediction) Save(path string) error {
	return os.WriteFile(path, p.jpeg, 0o644)
}

type plotPrediction struct {
	basePrediction
	plot rawPlot
}

func (p plotPrediction) Plot() (image.Image, error) {
	pix, err := base64.StdEncoding.DecodeString(p.plot.Pixels)
	if err != nil {
		return nil, fmt.Errorf("decode plot pixels: %w", err)
	}
	w, h := p.plot.Width, p.plot.Height
	if w <= 0 || h <= 0 || len(pix) != w*h*3 {
		return nil, fmt.Errorf("plot is %dx%d but has %d bytes", w, h, len(pix))
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			img.SetRGBA(x, y, color.RGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: 0xff})
		}
	}
	return img, nil
}

// parsePrediction accepts either a single prediction object or an array
// whose first element is the top prediction.
func parsePrediction(body []byte) (Prediction, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response", domain.ErrClassification)
	}

	var raw rawPrediction
	if body[0] == '[' {
		var list []rawPrediction
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", domain.ErrClassification, err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: no predictions", domain.ErrClassification)
		}
		raw = list[0]
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrClassification, err)
	}

	base := basePrediction{label: raw.Label, confidence: raw.Confidence}
	switch {
	case raw.AnnotatedImage != "":
		data, err := base64.StdEncoding.DecodeString(raw.AnnotatedImage)
		if err != nil {
			return nil, fmt.Errorf("%w: decode annotated image: %v", domain.ErrClassification, err)
		}
		return annotatedPrediction{basePrediction: base, jpeg: data}, nil
	case raw.Plot != nil:
		return plotPrediction{basePrediction: base, plot: *raw.Plot}, nil
	default:
		return base, nil
	}
}

// render writes a prediction's image to outputPath: Save when available,
// falling back to Plot and JPEG encoding.
func render(p Prediction, outputPath string) error {
	var saveErr error
	if s, ok := p.(Saver); ok {
		if saveErr = s.Save(outputPath); saveErr == nil {
			return nil
		}
	}

	pl, ok := p.(Plotter)
	if !ok {
		if saveErr != nil {
			return fmt.Errorf("%w: save result: %v", domain.ErrClassification, saveErr)
		}
		return fmt.Errorf("%w: prediction has no renderable image", domain.ErrClassification)
	}
	img, err := pl.Plot()
	if err != nil {
		return fmt.Errorf("%w: plot result: %v", domain.ErrClassification, err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrClassification, outputPath, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		return fmt.Errorf("%w: encode %s: %v", domain.ErrClassification, outputPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrClassification, outputPath, err)
	}
	return nil
}
