package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/imageguard/guardian/internal/models"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestGenerate_ValidImage(t *testing.T) {
	g := NewGenerator()

	data := encodePNG(t, solidImage(64, 48, color.RGBA{R: 200, G: 30, B: 30, A: 255}))
	info, err := g.Generate(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Format != "png" {
		t.Errorf("format = %q, want png", info.Format)
	}
	if info.Width != 64 || info.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", info.Width, info.Height)
	}
	if len(info.Fingerprint.PHash) != 16 {
		t.Errorf("phash = %q, want 16 hex chars", info.Fingerprint.PHash)
	}
	if info.Fingerprint.ColorHistogram == "" {
		t.Error("expected color histogram")
	}
}

func TestGenerate_InvalidBytes(t *testing.T) {
	g := NewGenerator()

	_, err := g.Generate([]byte("definitely not an image"))
	if !errors.Is(err, models.ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
}

func TestGenerate_EmptyBytes(t *testing.T) {
	g := NewGenerator()

	_, err := g.Generate(nil)
	if !errors.Is(err, models.ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
}

func TestGenerate_SameImageSameHash(t *testing.T) {
	g := NewGenerator()

	img := solidImage(32, 32, color.RGBA{R: 10, G: 120, B: 240, A: 255})
	data := encodePNG(t, img)

	first, err := g.Generate(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := g.Generate(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Fingerprint.PHash != second.Fingerprint.PHash {
		t.Errorf("hashes differ for identical input: %s vs %s",
			first.Fingerprint.PHash, second.Fingerprint.PHash)
	}
	if first.Fingerprint.ColorHistogram != second.Fingerprint.ColorHistogram {
		t.Error("histograms differ for identical input")
	}
}

func TestHSVHistogram_BinsByHue(t *testing.T) {
	red := hsvHistogram(solidImage(8, 8, color.RGBA{R: 255, A: 255}))
	blue := hsvHistogram(solidImage(8, 8, color.RGBA{B: 255, A: 255}))

	if len(red) != hueBins*satBins*valBins {
		t.Fatalf("histogram size = %d, want %d", len(red), hueBins*satBins*valBins)
	}

	redPeak, bluePeak := -1, -1
	for i := range red {
		if red[i] > 0 && redPeak < 0 {
			redPeak = i
		}
		if blue[i] > 0 && bluePeak < 0 {
			bluePeak = i
		}
	}
	if redPeak == bluePeak {
		t.Error("red and blue images should occupy different hue bins")
	}
}

func TestRGBToHSV(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b float64
		h, s, v float64
	}{
		{"pure red", 1, 0, 0, 0, 1, 1},
		{"pure green", 0, 1, 0, 120, 1, 1},
		{"pure blue", 0, 0, 1, 240, 1, 1},
		{"white", 1, 1, 1, 0, 0, 1},
		{"black", 0, 0, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := rgbToHSV(tt.r, tt.g, tt.b)
			if h != tt.h || s != tt.s || v != tt.v {
				t.Errorf("got (%.1f, %.2f, %.2f), want (%.1f, %.2f, %.2f)",
					h, s, v, tt.h, tt.s, tt.v)
			}
		})
	}
}
