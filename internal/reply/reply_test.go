package reply

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelterbot/internal/domain"
)

type fakeShelter struct {
	err error
}

func (f fakeShelter) Image(context.Context) (domain.ImageFragment, error) {
	if f.err != nil {
		return domain.ImageFragment{}, f.err
	}
	return Image("https://bot.example.com/static/shelter/image/2024-05-01.jpg"), nil
}

func (fakeShelter) MapLink() domain.TextFragment { return Text("map") }

func TestImage_SameURLForPreview(t *testing.T) {
	img := Image("https://x/y.jpg")
	assert.Equal(t, img.OriginalContentURL, img.PreviewImageURL)
}

func TestLoadGuide_Default(t *testing.T) {
	steps, err := LoadGuide("")
	require.NoError(t, err)
	require.Len(t, steps, 7)
	assert.Equal(t, "1研究不同狗的品種.jpg", steps[0].Image)
	assert.Equal(t, "step 7", steps[6].Text)
}

func TestLoadGuide_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.yaml")
	content := "- image: a.jpg\n  title: A\n  text: step 1\n  reply: r\n  detail: d\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	steps, err := LoadGuide(path)
	require.NoError(t, err)
	assert.Equal(t, []GuideStep{{Image: "a.jpg", Title: "A", Text: "step 1", Reply: "r", Detail: "d"}}, steps)
}

func TestParseGuide_Invalid(t *testing.T) {
	_, err := ParseGuide([]byte("[]"))
	assert.Error(t, err)

	_, err = ParseGuide([]byte("- image: a.jpg\n"))
	assert.Error(t, err)

	_, err = ParseGuide([]byte("{not: a list"))
	assert.Error(t, err)
}

func TestGuide_CarouselShape(t *testing.T) {
	steps := []GuideStep{{Image: "2犬舍.jpg", Title: "犬舍", Text: "step 2", Reply: "r", Detail: "d"}}
	frag := Guide(steps, "https://bot.example.com/")

	data, err := json.Marshal(frag)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "template",
		"altText": "this is a carousel template",
		"template": {
			"type": "carousel",
			"imageAspectRatio": "rectangle",
			"imageSize": "cover",
			"columns": [{
				"thumbnailImageUrl": "https://bot.example.com/static/2%E7%8A%AC%E8%88%8D.jpg",
				"imageBackgroundColor": "#FFFFFF",
				"title": "犬舍",
				"text": "step 2",
				"defaultAction": {"type": "message", "label": "Reply with message", "text": "r"},
				"actions": [{"type": "message", "label": "查看", "text": "d"}]
			}]
		}
	}`, string(data))
}

func TestCommandTable_ExactMatchOnly(t *testing.T) {
	table := NewCommandTable(fakeShelter{}, Guide(nil, ""))

	for _, text := range []string{CommandShelter, aliasShelter, CommandAdoptionGuide, aliasAdoptionGuide} {
		_, ok := table.Resolve(text)
		assert.True(t, ok, text)
	}
	for _, text := range []string{"@Shelter", " @shelter", "@shelter ", "shelter", "@adoption", ""} {
		_, ok := table.Resolve(text)
		assert.False(t, ok, "%q", text)
	}
}

func TestCommandTable_ShelterFragmentsInOrder(t *testing.T) {
	table := NewCommandTable(fakeShelter{}, Guide(nil, ""))
	cmd, ok := table.Resolve(CommandShelter)
	require.True(t, ok)

	frags, err := cmd(context.Background())
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "image", frags[0].FragmentType())
	assert.Equal(t, Text("map"), frags[1])
}

func TestCommandTable_GuideIsOneCarousel(t *testing.T) {
	steps, err := LoadGuide("")
	require.NoError(t, err)
	table := NewCommandTable(fakeShelter{}, Guide(steps, "https://b"))

	cmd, _ := table.Resolve(CommandAdoptionGuide)
	frags, err := cmd(context.Background())
	require.NoError(t, err)
	require.Len(t, frags, 1)
	tpl, ok := frags[0].(domain.TemplateFragment)
	require.True(t, ok)
	assert.Len(t, tpl.Template.Columns, 7)
}

func TestCommandTable_ShelterErrorPropagates(t *testing.T) {
	table := NewCommandTable(fakeShelter{err: domain.ErrStorage}, Guide(nil, ""))
	cmd, _ := table.Resolve(CommandShelter)
	_, err := cmd(context.Background())
	assert.True(t, errors.Is(err, domain.ErrStorage))
}
