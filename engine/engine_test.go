package engine

import (
	"errors"
	"testing"

	"pianogen/ai"
	"pianogen/encode"
	"pianogen/music"
)

// scriptedModel returns a fixed distribution and counts calls, so tests
// can assert that validation happens before any sampling.
type scriptedModel struct {
	dist  ai.Distribution
	err   error
	calls int
}

func (m *scriptedModel) Fit([][]int) error { return nil }

func (m *scriptedModel) PredictNext([]int) (ai.Distribution, error) {
	m.calls++
	if m.err != nil {
		return ai.Distribution{}, m.err
	}
	return m.dist, nil
}

func testCorpus() []music.Sequence {
	mkSeq := func(pitches []int) music.Sequence {
		notes := make(music.Notes, len(pitches))
		for i, p := range pitches {
			notes[i] = music.Note{
				Pitch:    p,
				Velocity: 90,
				Start:    float64(i) * 0.5,
				Duration: 0.5,
			}
		}
		return music.Sequence{Notes: notes, Tempo: 120, Total: float64(len(pitches)) * 0.5}
	}
	return []music.Sequence{
		mkSeq([]int{60, 62, 64, 65, 67, 65, 64, 62}),
		mkSeq([]int{60, 64, 67, 72, 67, 64}),
		mkSeq([]int{67, 69, 71, 72, 71, 69, 67}),
	}
}

func fittedMarkov(t *testing.T) (*Engine, *ai.Markov) {
	t.Helper()
	enc := encode.NewEncoder(encode.Default())
	alphabet, sequences, err := enc.Encode(testCorpus(), 3)
	if err != nil {
		t.Fatal(err)
	}
	m := ai.NewMarkov(ai.MarkovConfig{Order: 2, MinCount: 1}, alphabet.Size())
	if err := m.Fit(sequences); err != nil {
		t.Fatal(err)
	}
	return New(enc, alphabet), m
}

func TestGenerateScenario(t *testing.T) {
	// Three short sequences, order-2 chain, 10s at 120 BPM, greedy.
	eng, m := fittedMarkov(t)
	seq, err := eng.Generate(m, Parameters{
		DurationSeconds: 10,
		TempoBPM:        120,
		Complexity:      0,
		Seed:            1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if seq.Total < 9.5 || seq.Total > 10.5 {
		t.Errorf("total duration %f outside 9.5-10.5", seq.Total)
	}
	if seq.Tempo != 120 {
		t.Errorf("tempo %f, want 120", seq.Tempo)
	}
	if len(seq.Notes) == 0 {
		t.Fatal("no notes generated")
	}
	if seq.Notes[0].Start != 0 {
		t.Errorf("first note starts at %f, want 0", seq.Notes[0].Start)
	}
	for i, n := range seq.Notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			t.Errorf("note %d pitch %d outside 0-127", i, n.Pitch)
		}
		if i > 0 {
			prev := seq.Notes[i-1]
			if n.Start < prev.Start || (n.Start == prev.Start && n.Pitch < prev.Pitch) {
				t.Errorf("output not sorted at note %d", i)
			}
		}
	}
	if err := seq.Validate(); err != nil {
		t.Errorf("generated sequence violates invariants: %s", err)
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	eng, m := fittedMarkov(t)
	p := Parameters{DurationSeconds: 12, TempoBPM: 100, Complexity: 0.8, Seed: 7}
	a, err := eng.Generate(m, p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Generate(m, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Notes) != len(b.Notes) {
		t.Fatalf("same seed produced %d vs %d notes", len(a.Notes), len(b.Notes))
	}
	for i := range a.Notes {
		if a.Notes[i] != b.Notes[i] {
			t.Fatalf("same seed diverged at note %d", i)
		}
	}
}

func TestGenerateValidatesBeforeSampling(t *testing.T) {
	enc := encode.NewEncoder(encode.Default())
	eng := New(enc, encode.NewAlphabet(nil))
	model := &scriptedModel{dist: ai.Uniform(1)}

	tests := []Parameters{
		{DurationSeconds: 200, TempoBPM: 120, Complexity: 0.5},
		{DurationSeconds: 5, TempoBPM: 120, Complexity: 0.5},
		{DurationSeconds: 30, TempoBPM: 30, Complexity: 0.5},
		{DurationSeconds: 30, TempoBPM: 300, Complexity: 0.5},
		{DurationSeconds: 30, TempoBPM: 120, Complexity: 1.5},
	}
	for _, p := range tests {
		_, err := eng.Generate(model, p)
		if !errors.Is(err, ErrInvalidParameters) {
			t.Errorf("params %+v: expected ErrInvalidParameters, got %v", p, err)
		}
	}
	if model.calls != 0 {
		t.Errorf("model sampled %d times before validation failure", model.calls)
	}
}

func TestGenerateUntrainedModel(t *testing.T) {
	enc := encode.NewEncoder(encode.Default())
	alphabet, _, err := enc.Encode(testCorpus(), 3)
	if err != nil {
		t.Fatal(err)
	}
	eng := New(enc, alphabet)
	untrained := ai.NewMarkov(ai.DefaultMarkovConfig(), alphabet.Size())

	seq, err := eng.Generate(untrained, Parameters{DurationSeconds: 10, TempoBPM: 120})
	if !errors.Is(err, ai.ErrModelNotReady) {
		t.Errorf("expected ErrModelNotReady, got %v", err)
	}
	if len(seq.Notes) != 0 {
		t.Error("partial sequence returned alongside error")
	}
}

func TestGenerateEmptyModel(t *testing.T) {
	enc := encode.NewEncoder(encode.Default())
	eng := New(enc, encode.NewAlphabet(nil))
	// Every draw falls outside the (empty) alphabet.
	model := &scriptedModel{dist: ai.Distribution{IDs: []int{99}, Probs: []float64{1}}}

	_, err := eng.Generate(model, Parameters{
		DurationSeconds: 10,
		TempoBPM:        120,
		MaxSymbols:      50,
		Seed:            1,
	})
	if !errors.Is(err, ErrEmptyModel) {
		t.Errorf("expected ErrEmptyModel, got %v", err)
	}
	if model.calls != 50 {
		t.Errorf("expected the safety bound to stop sampling at 50 draws, got %d", model.calls)
	}
}

func TestGeneratePolyphonyLimit(t *testing.T) {
	// An alphabet of lag-0 symbols makes every note simultaneous; the
	// limit must cap how many survive.
	q := encode.Default()
	enc := encode.NewEncoder(q)
	symbols := []encode.Symbol{
		{Pitch: 60, Duration: 3, Lag: 0, Velocity: 7},
		{Pitch: 64, Duration: 3, Lag: 0, Velocity: 6},
		{Pitch: 67, Duration: 3, Lag: 0, Velocity: 5},
		{Pitch: 72, Duration: 3, Lag: 0, Velocity: 4},
	}
	alphabet := encode.NewAlphabet(symbols)
	eng := New(enc, alphabet)
	model := &scriptedModel{dist: ai.Uniform(len(symbols))}

	seq, err := eng.Generate(model, Parameters{
		DurationSeconds: 10,
		TempoBPM:        120,
		Complexity:      0.9,
		PolyphonyLimit:  2,
		MaxSymbols:      64,
		Seed:            3,
	})
	if err != nil {
		t.Fatal(err)
	}
	byStart := make(map[float64]int)
	for _, n := range seq.Notes {
		byStart[n.Start]++
	}
	for start, count := range byStart {
		if count > 2 {
			t.Errorf("%d notes sounding at %f, limit is 2", count, start)
		}
	}
}

func TestParametersTemperature(t *testing.T) {
	if (Parameters{Complexity: 0}).Temperature() != 0 {
		t.Error("complexity 0 must map to greedy")
	}
	low := (Parameters{Complexity: 0.1}).Temperature()
	high := (Parameters{Complexity: 0.9}).Temperature()
	if low <= 0 || high <= low {
		t.Errorf("temperature not monotone in complexity: %f, %f", low, high)
	}
}

func TestKeyOf(t *testing.T) {
	// Pure C major scale content names C major.
	notes := music.Notes{}
	for _, p := range []int{60, 62, 64, 65, 67, 69, 71, 72} {
		notes = append(notes, music.Note{Pitch: p, Velocity: 90, Start: 0, Duration: 1})
	}
	if got := keyOf(notes); got != "C major" {
		t.Errorf("keyOf = %q, want C major", got)
	}
	if got := keyOf(nil); got != "" {
		t.Errorf("keyOf(nil) = %q, want empty", got)
	}
}

func TestHandleSwap(t *testing.T) {
	var h Handle
	if _, ok := h.Load(); ok {
		t.Error("empty handle reported a model")
	}
	first := &Entry{Name: "a"}
	if prev := h.Swap(first); prev != nil {
		t.Error("first swap returned a previous entry")
	}
	second := &Entry{Name: "b"}
	if prev := h.Swap(second); prev != first {
		t.Error("swap did not return the displaced entry")
	}
	got, ok := h.Load()
	if !ok || got.Name != "b" {
		t.Errorf("handle holds %+v", got)
	}
}
