package matcher

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"

	"github.com/imageguard/guardian/internal/models"
)

func encodeHistogram(bins []float32) string {
	raw := make([]byte, len(bins)*4)
	for i, v := range bins {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func encodeDescriptors(rows [][32]byte) string {
	raw := make([]byte, 0, len(rows)*32)
	for _, row := range rows {
		raw = append(raw, row[:]...)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestCompare_PHashOnly(t *testing.T) {
	m := New(DefaultWeights())

	tests := []struct {
		name          string
		a, b          string
		wantDistance  int
		wantScore     float64
		wantLevel     models.SimilarityLevel
	}{
		{"identical hashes", "ffffffffffffffff", "ffffffffffffffff", 0, 100, models.SimilarityExact},
		{"one bit apart", "ffffffffffffffff", "fffffffffffffffe", 1, 98.4375, models.SimilarityExact},
		{"four bits apart", "ffffffffffffffff", "fffffffffffffff0", 4, 93.75, models.SimilarityHigh},
		{"half the bits differ", "ffffffff00000000", "0000000000000000", 32, 50, models.SimilarityMedium},
		{"all bits differ", "ffffffffffffffff", "0000000000000000", 64, 0, models.SimilarityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := m.Compare(
				models.Fingerprint{PHash: tt.a},
				models.Fingerprint{PHash: tt.b},
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.PHashDistance != tt.wantDistance {
				t.Errorf("distance = %d, want %d", result.PHashDistance, tt.wantDistance)
			}
			if math.Abs(result.PHashScore-tt.wantScore) > 0.001 {
				t.Errorf("phash score = %.4f, want %.4f", result.PHashScore, tt.wantScore)
			}
			// with pHash alone the overall equals the pHash score
			if math.Abs(result.Overall-tt.wantScore) > 0.001 {
				t.Errorf("overall = %.4f, want %.4f", result.Overall, tt.wantScore)
			}
			if result.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", result.Level, tt.wantLevel)
			}
			if result.ORBScore != nil || result.ColorScore != nil {
				t.Error("orb/color scores should be nil when channels are absent")
			}
		})
	}
}

func TestCompare_InvalidPHash(t *testing.T) {
	m := New(DefaultWeights())

	for _, bad := range []string{"", "ffff", "zzzzzzzzzzzzzzzz", "ffffffffffffffffff"} {
		_, err := m.Compare(
			models.Fingerprint{PHash: bad},
			models.Fingerprint{PHash: "ffffffffffffffff"},
		)
		if err == nil {
			t.Errorf("expected error for phash %q", bad)
		}
	}
}

func TestCompare_ColorChannel(t *testing.T) {
	m := New(DefaultWeights())

	hist := encodeHistogram([]float32{10, 20, 30, 40})
	a := models.Fingerprint{PHash: "ffffffffffffffff", ColorHistogram: hist}
	b := models.Fingerprint{PHash: "ffffffffffffffff", ColorHistogram: hist}

	result, err := m.Compare(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ColorScore == nil {
		t.Fatal("expected color score")
	}
	if math.Abs(*result.ColorScore-100) > 0.001 {
		t.Errorf("identical histograms should score 100, got %.4f", *result.ColorScore)
	}
	if math.Abs(result.Overall-100) > 0.001 {
		t.Errorf("overall = %.4f, want 100", result.Overall)
	}
}

func TestCompare_DisjointHistogramsLowerScore(t *testing.T) {
	m := New(DefaultWeights())

	a := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ColorHistogram: encodeHistogram([]float32{1, 0, 0, 0}),
	}
	b := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ColorHistogram: encodeHistogram([]float32{0, 0, 0, 1}),
	}

	result, err := m.Compare(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *result.ColorScore != 0 {
		t.Errorf("disjoint histograms should score 0, got %.4f", *result.ColorScore)
	}
	// overall = (0.6*100 + 0.15*0) / 0.75
	want := 80.0
	if math.Abs(result.Overall-want) > 0.001 {
		t.Errorf("overall = %.4f, want %.4f", result.Overall, want)
	}
}

func TestCompare_ORBChannel(t *testing.T) {
	m := New(DefaultWeights())

	var d1, d2 [32]byte
	for i := range d1 {
		d1[i] = 0xAA
		d2[i] = 0x55
	}
	desc := encodeDescriptors([][32]byte{d1, d2})

	a := models.Fingerprint{PHash: "ffffffffffffffff", ORBDescriptors: desc}
	b := models.Fingerprint{PHash: "ffffffffffffffff", ORBDescriptors: desc}

	result, err := m.Compare(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ORBScore == nil {
		t.Fatal("expected orb score")
	}
	if result.ORBMatches != 2 {
		t.Errorf("matches = %d, want 2", result.ORBMatches)
	}
	// 2 mutual matches over min(2,2), ratio 1.0, capped at 100
	if *result.ORBScore != 100 {
		t.Errorf("identical descriptor sets should score 100, got %.4f", *result.ORBScore)
	}
}

func TestCompare_ORBDistantDescriptorsRejected(t *testing.T) {
	m := New(DefaultWeights())

	var zero, ones [32]byte
	for i := range ones {
		ones[i] = 0xFF
	}

	a := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ORBDescriptors: encodeDescriptors([][32]byte{zero}),
	}
	b := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ORBDescriptors: encodeDescriptors([][32]byte{ones}),
	}

	result, err := m.Compare(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 256 bits apart, far past the 64-bit cutoff: nearest neighbor or not,
	// the pair must not count as a match
	if result.ORBMatches != 0 {
		t.Errorf("matches = %d, want 0", result.ORBMatches)
	}
	if result.ORBScore == nil || *result.ORBScore != 0 {
		t.Errorf("orb score = %v, want 0", result.ORBScore)
	}
}

func TestCompare_ORBCutoffBoundary(t *testing.T) {
	m := New(DefaultWeights())

	var base, atCutoff, pastCutoff [32]byte
	for i := 0; i < 8; i++ {
		atCutoff[i] = 0xFF // 64 bits from base, still accepted
	}
	for i := 0; i < 9; i++ {
		pastCutoff[i] = 0xFF // 72 bits from base, rejected
	}

	a := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ORBDescriptors: encodeDescriptors([][32]byte{base}),
	}

	tests := []struct {
		name        string
		other       [32]byte
		wantMatches int
	}{
		{"at cutoff", atCutoff, 1},
		{"past cutoff", pastCutoff, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := models.Fingerprint{
				PHash:          "ffffffffffffffff",
				ORBDescriptors: encodeDescriptors([][32]byte{tt.other}),
			}
			result, err := m.Compare(a, b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ORBMatches != tt.wantMatches {
				t.Errorf("matches = %d, want %d", result.ORBMatches, tt.wantMatches)
			}
		})
	}
}

func TestCompare_ChannelOnOneSideOnly(t *testing.T) {
	m := New(DefaultWeights())

	a := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ColorHistogram: encodeHistogram([]float32{1, 2, 3}),
	}
	b := models.Fingerprint{PHash: "ffffffffffffffff"}

	result, err := m.Compare(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ColorScore != nil {
		t.Error("color score should be nil when only one side has a histogram")
	}
	if result.Overall != 100 {
		t.Errorf("overall = %.4f, want 100", result.Overall)
	}
}

func TestCompare_HistogramSizeMismatch(t *testing.T) {
	m := New(DefaultWeights())

	a := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ColorHistogram: encodeHistogram([]float32{1, 2, 3}),
	}
	b := models.Fingerprint{
		PHash:          "ffffffffffffffff",
		ColorHistogram: encodeHistogram([]float32{1, 2}),
	}

	if _, err := m.Compare(a, b); err == nil {
		t.Error("expected error for mismatched histogram sizes")
	}
}

func TestCompare_Symmetric(t *testing.T) {
	m := New(DefaultWeights())

	var d1, d2 [32]byte
	for i := range d1 {
		d1[i] = 0xAA
	}
	d2 = d1
	d2[0] = 0x0F

	fps := []models.Fingerprint{
		{PHash: "ffffffffffffffff"},
		{PHash: "fedcba9876543210", ColorHistogram: encodeHistogram([]float32{1, 2, 3, 4})},
		{
			PHash:          "0f0f0f0f0f0f0f0f",
			ColorHistogram: encodeHistogram([]float32{4, 3, 2, 1}),
			ORBDescriptors: encodeDescriptors([][32]byte{d1, d2}),
		},
		{PHash: "00000000ffffffff", ORBDescriptors: encodeDescriptors([][32]byte{d2})},
	}

	for i := range fps {
		for j := range fps {
			ab, err := m.Compare(fps[i], fps[j])
			if err != nil {
				t.Fatalf("Compare(%d, %d): %v", i, j, err)
			}
			ba, err := m.Compare(fps[j], fps[i])
			if err != nil {
				t.Fatalf("Compare(%d, %d): %v", j, i, err)
			}
			if math.Abs(ab.Overall-ba.Overall) > 1e-9 {
				t.Errorf("Compare(%d, %d).Overall = %.6f, reversed = %.6f", i, j, ab.Overall, ba.Overall)
			}
			if ab.Level != ba.Level {
				t.Errorf("Compare(%d, %d).Level = %s, reversed = %s", i, j, ab.Level, ba.Level)
			}
		}
	}
}

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  models.SimilarityLevel
	}{
		{100, models.SimilarityExact},
		{95, models.SimilarityExact},
		{94.999, models.SimilarityHigh},
		{80, models.SimilarityHigh},
		{79.999, models.SimilarityMedium},
		{50, models.SimilarityMedium},
		{49.999, models.SimilarityLow},
		{0, models.SimilarityLow},
	}

	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%.3f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestNew_ZeroWeightsFallBack(t *testing.T) {
	m := New(Weights{})
	if m.weights != DefaultWeights() {
		t.Errorf("zero weights should fall back to defaults, got %+v", m.weights)
	}
}
