// Package reply builds provider message fragments and resolves chat
// commands to them.
package reply

import "shelterbot/internal/domain"

const (
	carouselAltText     = "this is a carousel template"
	carouselAspectRatio = "rectangle"
	carouselImageSize   = "cover"
)

func Text(s string) domain.TextFragment {
	return domain.TextFragment{Text: s}
}

// Image uses url for both the original and the preview.
func Image(url string) domain.ImageFragment {
	return domain.ImageFragment{OriginalContentURL: url, PreviewImageURL: url}
}

func Carousel(altText string, columns []domain.CarouselColumn) domain.TemplateFragment {
	return domain.TemplateFragment{
		AltText: altText,
		Template: domain.CarouselTemplate{
			Columns:          columns,
			ImageAspectRatio: carouselAspectRatio,
			ImageSize:        carouselImageSize,
		},
	}
}
