package engine

import (
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Encoder maps text to a fixed-dimension embedding.
type Encoder interface {
	Encode(text string) []float32
	Dimensions() int
}

// HashingEncoder is a deterministic feature-hashing encoder. Tokens and token
// bigrams are hashed into a fixed number of buckets with a sign bit, and the
// result is L2-normalised so cosine similarity reduces to a dot product.
type HashingEncoder struct {
	dims int
}

// NewHashingEncoder returns an encoder with the given dimension; non-positive
// values fall back to 256.
func NewHashingEncoder(dims int) *HashingEncoder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEncoder{dims: dims}
}

// Dimensions reports the vector length.
func (e *HashingEncoder) Dimensions() int {
	return e.dims
}

// Encode embeds text. Equal input always yields an equal vector.
func (e *HashingEncoder) Encode(text string) []float32 {
	vec := make([]float32, e.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(vec)
	return vec
}

func (e *HashingEncoder) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(e.dims))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lowercases and splits on anything that is not a letter, digit,
// dash or dot so region names and rcodes stay intact.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '.' && r != '_'
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
