package moderation

import (
	"bytes"
	"fmt"
	"hash/fnv"
	mathrand "math/rand"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	imageWidth  = 320
	imageHeight = 120
	noiseDots   = 140
	strikeLines = 4
)

var captchaFont *truetype.Font

func init() {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic(fmt.Sprintf("parse embedded font: %v", err))
	}
	captchaFont = f
}

// RenderSeed derives the image seed for a challenge so every surface
// renders the same picture for the lifetime of that challenge without
// persisting a seed.
func RenderSeed(ch Challenge) int64 {
	h := fnv.New64a()
	h.Write([]byte(ch.Text))
	return int64(h.Sum64()) ^ ch.CreatedAt.Unix()
}

// RenderImage draws the challenge text as a PNG with per-glyph jitter,
// rotation, noise dots and strike-through lines.
func RenderImage(text string, seed int64) ([]byte, error) {
	rng := mathrand.New(mathrand.NewSource(seed))
	dc := gg.NewContext(imageWidth, imageHeight)

	dc.SetRGB(0.96, 0.96, 0.94)
	dc.Clear()

	for i := 0; i < noiseDots; i++ {
		dc.SetRGB(rng.Float64()*0.7, rng.Float64()*0.7, rng.Float64()*0.7)
		dc.DrawCircle(rng.Float64()*imageWidth, rng.Float64()*imageHeight, 0.8+rng.Float64()*1.4)
		dc.Fill()
	}

	face := truetype.NewFace(captchaFont, &truetype.Options{
		Size:    46,
		Hinting: font.HintingFull,
	})
	dc.SetFontFace(face)

	step := float64(imageWidth) / float64(len(text)+1)
	for i, r := range text {
		glyph := string(r)
		x := step * float64(i+1)
		y := imageHeight/2 + (rng.Float64()-0.5)*24
		angle := (rng.Float64() - 0.5) * 0.6

		dc.Push()
		dc.RotateAbout(angle, x, y)
		dc.SetRGB(0.1+rng.Float64()*0.25, 0.1+rng.Float64()*0.25, 0.1+rng.Float64()*0.25)
		dc.DrawStringAnchored(glyph, x, y, 0.5, 0.5)
		dc.Pop()
	}

	for i := 0; i < strikeLines; i++ {
		dc.SetRGBA(rng.Float64()*0.6, rng.Float64()*0.6, rng.Float64()*0.6, 0.7)
		dc.SetLineWidth(1.5 + rng.Float64())
		dc.DrawLine(0, rng.Float64()*imageHeight, imageWidth, rng.Float64()*imageHeight)
		dc.Stroke()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
