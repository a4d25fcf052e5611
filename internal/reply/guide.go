package reply

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"shelterbot/internal/domain"
)

// maxCarouselColumns is the provider's limit for a carousel template.
const maxCarouselColumns = 10

//go:embed guide.yaml
var defaultGuide []byte

// GuideStep is one card of the adoption guide.
type GuideStep struct {
	Image  string `yaml:"image"` // file name under the static directory
	Title  string `yaml:"title"`
	Text   string `yaml:"text"`
	Reply  string `yaml:"reply"`  // sent when the card itself is tapped
	Detail string `yaml:"detail"` // sent by the card's action button
}

// LoadGuide reads guide steps from path, or the built-in guide when path
// is empty.
func LoadGuide(path string) ([]GuideStep, error) {
	data := defaultGuide
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read guide file: %w", err)
		}
	}
	return ParseGuide(data)
}

func ParseGuide(data []byte) ([]GuideStep, error) {
	var steps []GuideStep
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse guide: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("guide has no steps")
	}
	if len(steps) > maxCarouselColumns {
		return nil, fmt.Errorf("guide has %d steps, at most %d allowed", len(steps), maxCarouselColumns)
	}
	for i, s := range steps {
		if s.Image == "" || s.Text == "" || s.Reply == "" || s.Detail == "" {
			return nil, fmt.Errorf("guide step %d: image, text, reply and detail are required", i+1)
		}
	}
	return steps, nil
}

// Guide renders the steps as a carousel whose thumbnails are served from
// {baseURL}/static/.
func Guide(steps []GuideStep, baseURL string) domain.TemplateFragment {
	base := strings.TrimRight(baseURL, "/")
	columns := make([]domain.CarouselColumn, 0, len(steps))
	for _, s := range steps {
		columns = append(columns, domain.CarouselColumn{
			ThumbnailImageURL:    base + "/static/" + url.PathEscape(s.Image),
			ImageBackgroundColor: "#FFFFFF",
			Title:                s.Title,
			Text:                 s.Text,
			DefaultAction:        &domain.MessageAction{Label: "Reply with message", Text: s.Reply},
			Actions:              []domain.MessageAction{{Label: "查看", Text: s.Detail}},
		})
	}
	return Carousel(carouselAltText, columns)
}
