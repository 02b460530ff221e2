// Package matcher scores the visual similarity between two image
// fingerprints. It is pure computation: no I/O, no clock, no storage.
package matcher

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"github.com/imageguard/guardian/internal/models"
)

// Default channel weights. Weights for channels absent on either side are
// redistributed proportionally across the remaining ones.
const (
	DefaultPHashWeight = 0.60
	DefaultORBWeight   = 0.25
	DefaultColorWeight = 0.15
)

const phashBits = 64

// orbDescriptorSize is the byte width of one binary keypoint descriptor.
const orbDescriptorSize = 32

// orbMatchMaxDistance is the Hamming cutoff for a usable keypoint match:
// a nearest neighbor farther than 64 of 256 bits is rejected.
const orbMatchMaxDistance = 64

// Level breakpoints on the overall 0-100 score.
const (
	exactThreshold  = 95.0
	highThreshold   = 80.0
	mediumThreshold = 50.0
)

// Weights configures the relative contribution of each channel.
type Weights struct {
	PHash float64
	ORB   float64
	Color float64
}

// DefaultWeights returns the standard channel weighting.
func DefaultWeights() Weights {
	return Weights{PHash: DefaultPHashWeight, ORB: DefaultORBWeight, Color: DefaultColorWeight}
}

// Matcher compares fingerprints under a fixed weighting.
type Matcher struct {
	weights Weights
}

// New returns a Matcher with the given weights. Zero or negative weights
// fall back to the defaults.
func New(w Weights) *Matcher {
	if w.PHash <= 0 && w.ORB <= 0 && w.Color <= 0 {
		w = DefaultWeights()
	}
	return &Matcher{weights: w}
}

// Compare scores fingerprint b against reference a. The pHash channel is
// mandatory; ORB and color contribute only when present on both sides.
func (m *Matcher) Compare(a, b models.Fingerprint) (models.SimilarityResult, error) {
	var result models.SimilarityResult

	hashA, err := parsePHash(a.PHash)
	if err != nil {
		return result, err
	}
	hashB, err := parsePHash(b.PHash)
	if err != nil {
		return result, err
	}

	distance := bits.OnesCount64(hashA ^ hashB)
	result.PHashDistance = distance
	result.PHashScore = 100 * (1 - float64(distance)/phashBits)

	weightSum := m.weights.PHash
	weighted := m.weights.PHash * result.PHashScore

	if a.ORBDescriptors != "" && b.ORBDescriptors != "" {
		descA, err := parseDescriptors(a.ORBDescriptors)
		if err != nil {
			return result, err
		}
		descB, err := parseDescriptors(b.ORBDescriptors)
		if err != nil {
			return result, err
		}
		score, matches := orbScore(descA, descB)
		result.ORBScore = &score
		result.ORBMatches = matches
		weightSum += m.weights.ORB
		weighted += m.weights.ORB * score
	}

	if a.ColorHistogram != "" && b.ColorHistogram != "" {
		histA, err := parseHistogram(a.ColorHistogram)
		if err != nil {
			return result, err
		}
		histB, err := parseHistogram(b.ColorHistogram)
		if err != nil {
			return result, err
		}
		score, err := colorScore(histA, histB)
		if err != nil {
			return result, err
		}
		result.ColorScore = &score
		weightSum += m.weights.Color
		weighted += m.weights.Color * score
	}

	result.Overall = clamp(weighted / weightSum)
	result.Level = LevelForScore(result.Overall)
	return result, nil
}

// LevelForScore maps an overall 0-100 score to a similarity level.
func LevelForScore(score float64) models.SimilarityLevel {
	switch {
	case score >= exactThreshold:
		return models.SimilarityExact
	case score >= highThreshold:
		return models.SimilarityHigh
	case score >= mediumThreshold:
		return models.SimilarityMedium
	default:
		return models.SimilarityLow
	}
}

func parsePHash(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("%w: phash must be 16 hex chars, got %d", models.ErrInvalidFingerprint, len(s))
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrInvalidFingerprint, err)
	}
	return v, nil
}

func parseDescriptors(s string) ([][]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: orb descriptors: %v", models.ErrInvalidFingerprint, err)
	}
	if len(raw) == 0 || len(raw)%orbDescriptorSize != 0 {
		return nil, fmt.Errorf("%w: orb descriptor blob is %d bytes, not a multiple of %d",
			models.ErrInvalidFingerprint, len(raw), orbDescriptorSize)
	}
	descriptors := make([][]byte, 0, len(raw)/orbDescriptorSize)
	for i := 0; i < len(raw); i += orbDescriptorSize {
		descriptors = append(descriptors, raw[i:i+orbDescriptorSize])
	}
	return descriptors, nil
}

func parseHistogram(s string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: color histogram: %v", models.ErrInvalidFingerprint, err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: color histogram blob is %d bytes", models.ErrInvalidFingerprint, len(raw))
	}
	hist := make([]float64, len(raw)/4)
	for i := range hist {
		hist[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return hist, nil
}

// orbScore counts mutual best matches between the two descriptor sets under
// Hamming distance and scales the match ratio to 0-100. A descriptor pair is
// a mutual best match when each is the other's nearest neighbor.
func orbScore(a, b [][]byte) (float64, int) {
	bestForA := nearestNeighbors(a, b)
	bestForB := nearestNeighbors(b, a)

	matches := 0
	for i, j := range bestForA {
		if j >= 0 && bestForB[j] == i {
			matches++
		}
	}

	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	if smaller == 0 {
		return 0, 0
	}
	score := float64(matches) / float64(smaller) * 200
	if score > 100 {
		score = 100
	}
	return score, matches
}

func nearestNeighbors(from, to [][]byte) []int {
	best := make([]int, len(from))
	for i, d := range from {
		best[i] = -1
		bestDist := math.MaxInt32
		for j, e := range to {
			dist := hammingBytes(d, e)
			if dist < bestDist {
				bestDist = dist
				best[i] = j
			}
		}
		if bestDist > orbMatchMaxDistance {
			best[i] = -1
		}
	}
	return best
}

func hammingBytes(a, b []byte) int {
	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}

// colorScore converts the Bhattacharyya distance between two normalized
// histograms to a 0-100 similarity score.
func colorScore(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: histogram size mismatch %d vs %d", models.ErrInvalidFingerprint, len(a), len(b))
	}
	sumA, sumB := 0.0, 0.0
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	if sumA == 0 || sumB == 0 {
		return 0, nil
	}

	coeff := 0.0
	for i := range a {
		coeff += math.Sqrt((a[i] / sumA) * (b[i] / sumB))
	}
	if coeff > 1 {
		coeff = 1
	}
	distance := math.Sqrt(1 - coeff)
	return clamp(100 * (1 - distance)), nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
