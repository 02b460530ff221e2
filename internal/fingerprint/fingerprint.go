// Package fingerprint extracts visual fingerprints from image bytes: a DCT
// perceptual hash and an HSV color histogram. ORB descriptors computed by
// external extraction pipelines are accepted and stored but not produced here.
package fingerprint

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/corona10/goimagehash"

	"github.com/imageguard/guardian/internal/models"
)

// Histogram layout: hue x saturation x value bins, flattened row-major.
const (
	hueBins = 8
	satBins = 4
	valBins = 4
)

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
}

// ImageInfo is the result of fingerprinting one image.
type ImageInfo struct {
	Fingerprint models.Fingerprint
	Format      string
	Width       int
	Height      int
}

// Generator computes fingerprints. It is stateless and safe for concurrent use.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate decodes the image and computes its perceptual hash and color
// histogram. Undecodable bytes return ErrInvalidImage; decodable but
// unsupported formats return ErrUnsupportedFormat.
func (g *Generator) Generate(data []byte) (*ImageInfo, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	if !supportedFormats[format] {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, format)
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("compute phash: %w", err)
	}

	bounds := img.Bounds()
	return &ImageInfo{
		Fingerprint: models.Fingerprint{
			PHash:          fmt.Sprintf("%016x", hash.GetHash()),
			ColorHistogram: encodeHistogram(hsvHistogram(img)),
		},
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// hsvHistogram bins every pixel into a hue/saturation/value grid.
func hsvHistogram(img image.Image) []float32 {
	hist := make([]float32, hueBins*satBins*valBins)
	bounds := img.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			h, s, v := rgbToHSV(float64(r)/65535, float64(g)/65535, float64(b)/65535)

			hi := binIndex(h/360, hueBins)
			si := binIndex(s, satBins)
			vi := binIndex(v, valBins)
			hist[hi*satBins*valBins+si*valBins+vi]++
		}
	}
	return hist
}

func binIndex(v float64, bins int) int {
	i := int(v * float64(bins))
	if i >= bins {
		i = bins - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// rgbToHSV converts normalized RGB to hue in degrees and saturation/value in [0,1].
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	v = max
	delta := max - min

	if max > 0 {
		s = delta / max
	}
	if delta == 0 {
		return 0, s, v
	}

	switch max {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

func encodeHistogram(bins []float32) string {
	raw := make([]byte, len(bins)*4)
	for i, v := range bins {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
