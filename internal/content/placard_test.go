package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"
)

func TestPlacardTopic(t *testing.T) {
	p := NewPlacard(WithTopics([]string{" one ", "", "two"}), WithPicker(func(n int) int { return n - 1 }))
	topic, err := p.GenerateTopic(context.Background())
	require.NoError(t, err)
	require.Equal(t, "two", topic)
}

func TestPlacardDefaultTopics(t *testing.T) {
	p := NewPlacard(WithTopics(nil))
	topic, err := p.GenerateTopic(context.Background())
	require.NoError(t, err)
	require.Contains(t, defaultTopics, topic)
}

func TestPlacardImageIsPNGDataURL(t *testing.T) {
	p := NewPlacard(WithSize(128))
	url, err := p.GenerateImage(context.Background(), "a very long prompt about a lighthouse keeper who collects lost umbrellas from the sea")
	require.NoError(t, err)

	const prefix = "data:image/png;base64,"
	require.True(t, strings.HasPrefix(url, prefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 128, img.Bounds().Dx())
	require.Equal(t, 128, img.Bounds().Dy())
}

func TestPlacardImageDeterministic(t *testing.T) {
	p := NewPlacard(WithSize(96))
	a, err := p.GenerateImage(context.Background(), "neon koi")
	require.NoError(t, err)
	b, err := p.GenerateImage(context.Background(), "neon koi")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestPlacardRejectsEmptyPrompt(t *testing.T) {
	_, err := NewPlacard().GenerateImage(context.Background(), "  ")
	require.True(t, IsGenerationError(err))
}

func TestWrapText(t *testing.T) {
	face := basicfont.Face7x13 // 7px advance
	lines := wrapText(face, "aaa bbb ccc", 7*7)
	require.Equal(t, []string{"aaa bbb", "ccc"}, lines)
	require.Equal(t, []string{"aaaaaaaaaaaa"}, wrapText(face, "aaaaaaaaaaaa", 14))
	require.Empty(t, wrapText(face, "   ", 100))
}
