package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Hashing is a deterministic, offline embedder: a bag of lowercased word
// tokens hashed into Dimension buckets and L2-normalised. It needs no
// credential and is used for development, tests and air-gapped installs.
type Hashing struct {
	dim       int
	stopwords map[string]struct{}
}

// HashingModel is the model name reported by Hashing.
const HashingModel = "hashing-bow-v1"

// DefaultHashingDimension is used when NewHashing gets a non-positive size.
const DefaultHashingDimension = 256

var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "do", "does", "for",
	"from", "how", "i", "in", "is", "it", "of", "on", "or", "that", "the",
	"this", "to", "was", "what", "when", "where", "which", "who", "why",
	"with", "you",
}

// NewHashing returns a Hashing embedder with dim buckets.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	stop := make(map[string]struct{}, len(defaultStopwords))
	for _, w := range defaultStopwords {
		stop[w] = struct{}{}
	}
	return &Hashing{dim: dim, stopwords: stop}
}

func (h *Hashing) Dimension() int { return h.dim }
func (h *Hashing) Model() string  { return HashingModel }

func (h *Hashing) Embed(_ context.Context, _ Credential, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return h.vector(text), nil
}

func (h *Hashing) EmbedBatch(ctx context.Context, _ Credential, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func (h *Hashing) vector(text string) []float32 {
	words := wordRE.FindAllString(strings.ToLower(text), -1)
	toks := make([]string, 0, len(words))
	for _, w := range words {
		if _, skip := h.stopwords[w]; !skip {
			toks = append(toks, w)
		}
	}
	// Text made only of stopwords still gets a usable vector.
	if len(toks) == 0 {
		toks = words
	}
	if len(toks) == 0 {
		toks = []string{strings.TrimSpace(text)}
	}

	acc := make([]float64, h.dim)
	for _, t := range toks {
		f := fnv.New32a()
		_, _ = f.Write([]byte(t))
		acc[f.Sum32()%uint32(h.dim)]++
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, h.dim)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}
