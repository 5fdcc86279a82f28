package ai

import (
	"errors"
	"math"
	"testing"
)

func fitChain(t *testing.T, cfg MarkovConfig, alphabetSize int, sequences [][]int) *Markov {
	t.Helper()
	m := NewMarkov(cfg, alphabetSize)
	if err := m.Fit(sequences); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMarkovNotReady(t *testing.T) {
	m := NewMarkov(DefaultMarkovConfig(), 4)
	_, err := m.PredictNext([]int{0, 1})
	if !errors.Is(err, ErrModelNotReady) {
		t.Errorf("expected ErrModelNotReady, got %v", err)
	}
}

func TestMarkovDeterministicTransition(t *testing.T) {
	// 0 1 2 repeats; after (0,1) the chain must predict 2 with
	// certainty.
	m := fitChain(t, MarkovConfig{Order: 2, MinCount: 1}, 3, [][]int{
		{0, 1, 2, 0, 1, 2, 0, 1, 2},
	})
	d, err := m.PredictNext([]int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if d.Len() != 1 || d.IDs[0] != 2 || math.Abs(d.Probs[0]-1) > 1e-9 {
		t.Errorf("expected certain transition to 2, got %+v", d)
	}
}

func TestMarkovRowsSumToOne(t *testing.T) {
	m := fitChain(t, MarkovConfig{Order: 2, MinCount: 1}, 5, [][]int{
		{0, 1, 2, 3, 4, 0, 2, 1, 3, 0},
		{1, 1, 2, 2, 3, 3, 4, 4, 0, 0},
	})
	for o, table := range m.tables {
		for key, d := range table {
			sum := 0.0
			for _, p := range d.Probs {
				if p < 0 {
					t.Errorf("order %d context %s has negative probability", o, key)
				}
				sum += p
			}
			if math.Abs(sum-1) > 1e-6 {
				t.Errorf("order %d context %s sums to %f", o, key, sum)
			}
		}
	}
}

func TestMarkovBackOffToLowerOrder(t *testing.T) {
	// Context (3,0) never occurs, but 0 alone does: the chain must use
	// the order-1 row for 0, not fail and not go uniform.
	m := fitChain(t, MarkovConfig{Order: 2, MinCount: 1}, 4, [][]int{
		{0, 1, 0, 1, 0, 1, 2, 3},
	})
	d, err := m.PredictNext([]int{3, 0})
	if err != nil {
		t.Fatal(err)
	}
	// After 0 the corpus always shows 1.
	if d.Len() != 1 || d.IDs[0] != 1 {
		t.Errorf("back-off did not use order-1 row: %+v", d)
	}
}

func TestMarkovBackOffMinCount(t *testing.T) {
	// (0,1) occurs exactly once; with MinCount 2 the chain must ignore
	// that row and back off to the order-1 row for 1, which always
	// continues to 3.
	m := fitChain(t, MarkovConfig{Order: 2, MinCount: 2}, 5, [][]int{
		{0, 1, 2},
		{4, 1, 3, 4, 1, 3, 4, 1, 3},
	})
	d, err := m.PredictNext([]int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	best := 0
	for i := range d.IDs {
		if d.Probs[i] > d.Probs[best] {
			best = i
		}
	}
	if d.IDs[best] != 3 {
		t.Errorf("expected back-off to favor 3, got %+v", d)
	}
}

func TestMarkovUnseenContextUsesUnconditional(t *testing.T) {
	m := fitChain(t, MarkovConfig{Order: 1, MinCount: 1}, 6, [][]int{{0, 1, 0, 1}})
	// Symbol 5 was never observed; order-1 misses, but the order-0 row
	// exists, so the unconditional distribution applies.
	d, err := m.PredictNext([]int{5})
	if err != nil {
		t.Fatal(err)
	}
	if d.Len() != 2 {
		t.Errorf("expected unconditional distribution over {0,1}, got %+v", d)
	}
}

func TestMarkovShortContext(t *testing.T) {
	m := fitChain(t, MarkovConfig{Order: 2, MinCount: 1}, 3, [][]int{{0, 1, 2, 0, 1, 2}})
	// Empty context at the start of generation uses the order-0 row.
	d, err := m.PredictNext(nil)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, p := range d.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("order-0 row sums to %f", sum)
	}
}

func TestMarkovPredictReturnsCopy(t *testing.T) {
	m := fitChain(t, MarkovConfig{Order: 1, MinCount: 1}, 3, [][]int{{0, 1, 0, 1}})
	d1, _ := m.PredictNext([]int{0})
	for i := range d1.Probs {
		d1.Probs[i] = 0
	}
	d2, _ := m.PredictNext([]int{0})
	sum := 0.0
	for _, p := range d2.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Error("mutating a prediction corrupted the shared table")
	}
}

func TestMarkovStateRoundTrip(t *testing.T) {
	m := fitChain(t, MarkovConfig{Order: 2, MinCount: 1}, 3, [][]int{{0, 1, 2, 0, 1, 2}})
	restored := MarkovFromState(m.State())
	if !restored.Ready() {
		t.Fatal("restored chain not ready")
	}
	want, _ := m.PredictNext([]int{0, 1})
	got, _ := restored.PredictNext([]int{0, 1})
	if want.Len() != got.Len() || want.IDs[0] != got.IDs[0] {
		t.Errorf("restored chain predicts %+v, want %+v", got, want)
	}
}
