package engine

import (
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashingEncoderIsDeterministic(t *testing.T) {
	enc := NewHashingEncoder(128)
	text := "region=us-central1 status=TIMEOUT error_rate=1.00"
	a := enc.Encode(text)
	b := NewHashingEncoder(128).Encode(text)
	if len(a) != 128 {
		t.Fatalf("unexpected dimension %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d", i)
		}
	}
}

func TestHashingEncoderNormalises(t *testing.T) {
	vec := NewHashingEncoder(64).Encode("timeouts in us-central1")
	if norm := math.Sqrt(dot(vec, vec)); math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit vector, got norm %v", norm)
	}
	empty := NewHashingEncoder(64).Encode("   ")
	for _, v := range empty {
		if v != 0 {
			t.Fatalf("expected zero vector for empty text")
		}
	}
}

func TestHashingEncoderSimilarTextScoresHigher(t *testing.T) {
	enc := NewHashingEncoder(256)
	query := enc.Encode("us-central1 TIMEOUT streak provider outage")
	near := enc.Encode("provider outage caused TIMEOUT streak in us-central1")
	far := enc.Encode("bad deploy increased latency in asia-east1")
	if dot(query, near) <= dot(query, far) {
		t.Fatalf("expected related text to score higher: near=%v far=%v", dot(query, near), dot(query, far))
	}
}

func TestHashingEncoderDefaultDims(t *testing.T) {
	if NewHashingEncoder(0).Dimensions() != 256 {
		t.Fatalf("expected default dimension")
	}
}
