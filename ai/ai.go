// Package ai holds the two generation strategies: an order-k Markov
// chain and a feed-forward sequence model. Both implement
// NextSymbolModel so the engine can swap one for the other, and both
// are sampled through the one temperature policy in Sample.
package ai

import (
	"errors"
	"math"
	"math/rand"
)

// ErrModelNotReady is returned when prediction is attempted before
// training has finished.
var ErrModelNotReady = errors.New("model has not been trained")

// ErrAlreadyLearning is returned when Fit is called while a previous
// Fit on the same instance is still running. Callers that retrain
// build a fresh instance and swap it in instead.
var ErrAlreadyLearning = errors.New("already learning")

// NextSymbolModel is the capability shared by the generation
// strategies: fit on encoded symbol sequences, then predict a
// distribution over the next symbol given the preceding context.
// After Fit returns, PredictNext is safe for concurrent use.
type NextSymbolModel interface {
	Fit(sequences [][]int) error
	PredictNext(context []int) (Distribution, error)
}

// Distribution is a probability distribution over symbol IDs.
// Insertion order is preserved so greedy selection has a stable,
// first-inserted tie break.
type Distribution struct {
	IDs   []int
	Probs []float64
}

// Add appends weight for an ID, accumulating if the ID is already
// present. Linear scan is fine at alphabet sizes.
func (d *Distribution) Add(id int, weight float64) {
	for i, existing := range d.IDs {
		if existing == id {
			d.Probs[i] += weight
			return
		}
	}
	d.IDs = append(d.IDs, id)
	d.Probs = append(d.Probs, weight)
}

// Len returns the number of entries.
func (d Distribution) Len() int {
	return len(d.IDs)
}

// Normalize scales probabilities to sum to 1.
func (d *Distribution) Normalize() {
	total := 0.0
	for _, p := range d.Probs {
		total += p
	}
	if total <= 0 {
		return
	}
	for i := range d.Probs {
		d.Probs[i] /= total
	}
}

// clone returns an independent copy, so shared read-only tables are
// never reweighted in place.
func (d Distribution) clone() Distribution {
	out := Distribution{
		IDs:   make([]int, len(d.IDs)),
		Probs: make([]float64, len(d.Probs)),
	}
	copy(out.IDs, d.IDs)
	copy(out.Probs, d.Probs)
	return out
}

// Uniform returns a uniform distribution over IDs 0..n-1.
func Uniform(n int) Distribution {
	d := Distribution{
		IDs:   make([]int, n),
		Probs: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		d.IDs[i] = i
		d.Probs[i] = 1.0 / float64(n)
	}
	return d
}

// Sample draws a symbol ID from d reweighted by temperature:
// p^(1/temperature), renormalized. Temperature 0 (or below) is greedy:
// the most likely ID wins, first-inserted order breaking ties. High
// temperatures flatten toward a uniform draw. An empty distribution
// returns -1.
func Sample(d Distribution, temperature float64, rng *rand.Rand) int {
	if d.Len() == 0 {
		return -1
	}
	if temperature <= 0 {
		best := 0
		for i := 1; i < d.Len(); i++ {
			if d.Probs[i] > d.Probs[best] {
				best = i
			}
		}
		return d.IDs[best]
	}

	weights := make([]float64, d.Len())
	total := 0.0
	for i, p := range d.Probs {
		if p <= 0 {
			continue
		}
		w := math.Pow(p, 1.0/temperature)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return d.IDs[0]
	}
	r := rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r <= cum {
			return d.IDs[i]
		}
	}
	return d.IDs[d.Len()-1]
}
