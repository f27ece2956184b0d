package routing

import (
	"errors"
	"math"
	"sort"
)

// Rand is the randomness the routing engine needs. *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Sampler draws values with probability proportional to their weights. It is
// built once and reused for every draw.
type Sampler[T any] struct {
	cum    []float64
	values []T
	total  float64
}

func NewSampler[T any](weights []float64, values []T) (Sampler[T], error) {
	if len(weights) != len(values) {
		return Sampler[T]{}, errors.New("sampler: weights and values differ in length")
	}
	if len(weights) == 0 {
		return Sampler[T]{}, errors.New("sampler: empty distribution")
	}
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return Sampler[T]{}, errors.New("sampler: invalid weight")
		}
		total += w
		cum[i] = total
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return Sampler[T]{}, errors.New("sampler: weights sum to zero")
	}
	vals := make([]T, len(values))
	copy(vals, values)
	return Sampler[T]{cum: cum, values: vals, total: total}, nil
}

func (s Sampler[T]) Len() int { return len(s.values) }

func (s Sampler[T]) Sample(rng Rand) T {
	if len(s.values) == 1 {
		return s.values[0]
	}
	x := rng.Float64() * s.total
	// First cumulative weight strictly above x, so zero-weight entries are never drawn.
	i := sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > x })
	if i == len(s.cum) {
		i = s.lastPositive()
	}
	return s.values[i]
}

func (s Sampler[T]) lastPositive() int {
	for i := len(s.cum) - 1; i > 0; i-- {
		if s.cum[i] > s.cum[i-1] {
			return i
		}
	}
	return 0
}
