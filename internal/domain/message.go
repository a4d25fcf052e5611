package domain

import "encoding/json"

// MaxReplyMessages is the provider's limit on fragments per reply.
const MaxReplyMessages = 5

// Fragment is one unit of a reply payload. The concrete types are
// TextFragment, ImageFragment and TemplateFragment.
type Fragment interface {
	FragmentType() string
}

// TextFragment is a plain text message.
type TextFragment struct {
	Text string
}

func (TextFragment) FragmentType() string { return "text" }

func (f TextFragment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"text", f.Text})
}

// ImageFragment is an image message referencing a publicly reachable URL.
type ImageFragment struct {
	OriginalContentURL string
	PreviewImageURL    string
}

func (ImageFragment) FragmentType() string { return "image" }

func (f ImageFragment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type               string `json:"type"`
		OriginalContentURL string `json:"originalContentUrl"`
		PreviewImageURL    string `json:"previewImageUrl"`
	}{"image", f.OriginalContentURL, f.PreviewImageURL})
}

// TemplateFragment is a rich template message. Only carousels are built.
type TemplateFragment struct {
	AltText  string
	Template CarouselTemplate
}

func (TemplateFragment) FragmentType() string { return "template" }

func (f TemplateFragment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string           `json:"type"`
		AltText  string           `json:"altText"`
		Template CarouselTemplate `json:"template"`
	}{"template", f.AltText, f.Template})
}

// CarouselTemplate is the template body of a carousel message.
type CarouselTemplate struct {
	Columns          []CarouselColumn
	ImageAspectRatio string
	ImageSize        string
}

func (t CarouselTemplate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type             string           `json:"type"`
		Columns          []CarouselColumn `json:"columns"`
		ImageAspectRatio string           `json:"imageAspectRatio,omitempty"`
		ImageSize        string           `json:"imageSize,omitempty"`
	}{"carousel", t.Columns, t.ImageAspectRatio, t.ImageSize})
}

type CarouselColumn struct {
	ThumbnailImageURL    string          `json:"thumbnailImageUrl,omitempty"`
	ImageBackgroundColor string          `json:"imageBackgroundColor,omitempty"`
	Title                string          `json:"title,omitempty"`
	Text                 string          `json:"text"`
	DefaultAction        *MessageAction  `json:"defaultAction,omitempty"`
	Actions              []MessageAction `json:"actions"`
}

// MessageAction sends Text as the user when tapped.
type MessageAction struct {
	Label string
	Text  string
}

func (a MessageAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Label string `json:"label"`
		Text  string `json:"text"`
	}{"message", a.Label, a.Text})
}

// ReplyPayload is the body posted to the provider's reply endpoint.
// It is not modified after delivery.
type ReplyPayload struct {
	ReplyToken string     `json:"replyToken"`
	Messages   []Fragment `json:"messages"`
}

// DeliveryResult is the outcome of posting a ReplyPayload. Delivery failures
// are reported here rather than as errors.
type DeliveryResult struct {
	StatusCode int
	Delivered  bool
	Body       string // provider response body when not delivered
	Err        error  // transport error, if the request never completed
}
