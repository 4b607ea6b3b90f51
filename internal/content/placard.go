package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Placard is an offline Generator: topics come from a fixed list and
// images are rendered locally as PNG data URLs.
type Placard struct {
	size   int
	topics []string
	pick   func(n int) int
}

var defaultTopics = []string{
	"A lighthouse at the edge of time",
	"The last library on Mars",
	"A city built inside a whale",
	"Breakfast with a friendly dragon",
	"A garden that grows memories",
	"The robot who learned to paint",
	"A storm made of butterflies",
	"An underwater carnival",
	"The map of a forgotten dream",
	"A train station between seasons",
}

type PlacardOption func(*Placard)

// WithTopics replaces the built-in topic list. Blank entries are dropped.
func WithTopics(topics []string) PlacardOption {
	return func(p *Placard) {
		var kept []string
		for _, t := range topics {
			if t = strings.TrimSpace(t); t != "" {
				kept = append(kept, t)
			}
		}
		if len(kept) > 0 {
			p.topics = kept
		}
	}
}

// WithPicker fixes topic selection, mostly for tests.
func WithPicker(fn func(n int) int) PlacardOption {
	return func(p *Placard) {
		if fn != nil {
			p.pick = fn
		}
	}
}

func WithSize(px int) PlacardOption {
	return func(p *Placard) {
		if px >= 64 {
			p.size = px
		}
	}
}

func NewPlacard(opts ...PlacardOption) *Placard {
	p := &Placard{size: 512, topics: defaultTopics, pick: rand.Intn}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Placard) GenerateTopic(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &GenerationError{Op: "topic", Err: err}
	}
	return p.topics[p.pick(len(p.topics))], nil
}

// GenerateImage draws prompt onto a card whose palette is derived from the prompt text.
func (p *Placard) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &GenerationError{Op: "image", Err: err}
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", &GenerationError{Op: "image", Msg: "empty prompt"}
	}
	img, err := p.render(prompt)
	if err != nil {
		return "", &GenerationError{Op: "image", Msg: "render", Err: err}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", &GenerationError{Op: "image", Msg: "encode png", Err: err}
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (p *Placard) render(prompt string) (*image.RGBA, error) {
	size := p.size
	icon, err := oksvg.ReadIconStream(strings.NewReader(cardSVG(prompt, size)))
	if err != nil {
		return nil, fmt.Errorf("parse card svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	drawCaption(img, prompt)
	return img, nil
}

// cardSVG builds the background: a two-stop gradient and three discs.
func cardSVG(prompt string, size int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	seed := h.Sum32()

	hue := func(shift uint32) string {
		v := seed >> shift
		return fmt.Sprintf("#%02x%02x%02x", 64+v%160, 64+(v>>3)%160, 64+(v>>6)%160)
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`, size, size, size, size)
	fmt.Fprintf(&b, `<defs><linearGradient id="bg" x1="0" y1="0" x2="1" y2="1"><stop offset="0" stop-color="%s"/><stop offset="1" stop-color="%s"/></linearGradient></defs>`, hue(0), hue(9))
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="url(#bg)"/>`, size, size)
	for i := uint32(0); i < 3; i++ {
		v := seed >> (i * 5)
		cx := int(v%uint32(size))
		cy := int((v>>4)%uint32(size))
		r := size/8 + int((v>>8)%uint32(size/4))
		fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s" fill-opacity="0.45"/>`, cx, cy, r, hue(12+i*4))
	}
	b.WriteString(`</svg>`)
	return b.String()
}

func drawCaption(img *image.RGBA, text string) {
	const (
		padding    = 16
		lineHeight = 16
	)
	face := basicfont.Face7x13
	bounds := img.Bounds()
	lines := wrapText(face, text, bounds.Dx()-padding*2)
	if len(lines) > 6 {
		lines = append(lines[:5], lines[5]+"...")
	}

	panelH := len(lines)*lineHeight + padding
	panel := image.Rect(bounds.Min.X, bounds.Max.Y-panelH-padding, bounds.Max.X, bounds.Max.Y)
	draw.Draw(img, panel, image.NewUniform(color.RGBA{R: 0, G: 0, B: 0, A: 160}), image.Point{}, draw.Over)

	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(color.White), Face: face}
	y := panel.Min.Y + padding + face.Metrics().Ascent.Ceil()
	for _, line := range lines {
		w := drawer.MeasureString(line).Round()
		x := bounds.Min.X + (bounds.Dx()-w)/2
		if x < padding {
			x = padding
		}
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
		y += lineHeight
	}
}

// wrapText splits on spaces so that every line fits maxWidth. Words longer than a line stand alone.
func wrapText(face font.Face, text string, maxWidth int) []string {
	drawer := font.Drawer{Face: face}
	var lines []string
	var cur string
	for _, word := range strings.Fields(text) {
		candidate := word
		if cur != "" {
			candidate = cur + " " + word
		}
		if cur != "" && drawer.MeasureString(candidate).Round() > maxWidth {
			lines = append(lines, cur)
			cur = word
			continue
		}
		cur = candidate
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

var _ Generator = (*Placard)(nil)
