// Package engine turns generation parameters and a trained model into a
// finished note sequence. It owns the sampling loop, the output
// constraints (pitch range, polyphony limit, safety bound), and the
// sequence metadata; it performs no I/O of its own.
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"pianogen/ai"
	"pianogen/encode"
	"pianogen/music"
)

// ErrInvalidParameters is returned when generation parameters fall
// outside their documented ranges. Validation happens before any
// sampling starts.
var ErrInvalidParameters = errors.New("generation parameters out of range")

// ErrEmptyModel is returned when the model produces no decodable symbol
// within the safety bound, which signals a degenerate or mistrained
// model rather than a transient condition.
var ErrEmptyModel = errors.New("model produced no playable notes")

const (
	// MinDurationSeconds and MaxDurationSeconds bound the request length.
	MinDurationSeconds = 10
	MaxDurationSeconds = 120
	// MinTempoBPM and MaxTempoBPM bound the request tempo.
	MinTempoBPM = 60
	MaxTempoBPM = 200

	// defaultMaxSymbols is the safety bound on the sampling loop.
	defaultMaxSymbols = 4096
	// defaultPolyphony is the default cap on simultaneously sounding notes.
	defaultPolyphony = 4
)

// Parameters configures one generation request. Constructed per
// request, read-only, never persisted.
type Parameters struct {
	// DurationSeconds is the requested length, 10-120.
	DurationSeconds float64 `json:"duration_seconds"`
	// TempoBPM is the requested tempo, 60-200.
	TempoBPM float64 `json:"tempo_bpm"`
	// Complexity in [0,1] maps to sampling temperature
	// T = 0.25 + 1.75*Complexity; 0 selects greedy sampling.
	Complexity float64 `json:"complexity"`
	// PolyphonyLimit caps simultaneously sounding notes; 0 uses the
	// default, negative disables the limit.
	PolyphonyLimit int `json:"polyphony_limit,omitempty"`
	// MaxSymbols bounds the sampling loop; 0 uses the default.
	MaxSymbols int `json:"max_symbols,omitempty"`
	// Seed fixes the random source for reproducible output; 0 seeds
	// from the clock.
	Seed int64 `json:"seed,omitempty"`
}

// Validate checks the documented ranges.
func (p Parameters) Validate() error {
	if p.DurationSeconds < MinDurationSeconds || p.DurationSeconds > MaxDurationSeconds {
		return fmt.Errorf("duration %gs outside %d-%ds: %w",
			p.DurationSeconds, MinDurationSeconds, MaxDurationSeconds, ErrInvalidParameters)
	}
	if p.TempoBPM < MinTempoBPM || p.TempoBPM > MaxTempoBPM {
		return fmt.Errorf("tempo %g outside %d-%d BPM: %w",
			p.TempoBPM, MinTempoBPM, MaxTempoBPM, ErrInvalidParameters)
	}
	if p.Complexity < 0 || p.Complexity > 1 {
		return fmt.Errorf("complexity %g outside 0-1: %w", p.Complexity, ErrInvalidParameters)
	}
	return nil
}

// Temperature derives the sampling temperature from the complexity
// knob. Complexity 0 returns 0, which Sample treats as greedy.
func (p Parameters) Temperature() float64 {
	if p.Complexity == 0 {
		return 0
	}
	return 0.25 + 1.75*p.Complexity
}

// Engine runs the generation loop against any NextSymbolModel.
type Engine struct {
	enc      *encode.Encoder
	alphabet *encode.Alphabet
}

// New returns an engine that decodes symbols with the given encoder and
// alphabet. The alphabet must be the one the model was trained on.
func New(enc *encode.Encoder, alphabet *encode.Alphabet) *Engine {
	return &Engine{enc: enc, alphabet: alphabet}
}

// Generate runs the sampling loop and returns a finished, sorted,
// immutable sequence. The model is only read, never written, so one
// trained model may serve concurrent Generate calls.
func (g *Engine) Generate(model ai.NextSymbolModel, p Parameters) (music.Sequence, error) {
	logger := log.WithFields(log.Fields{
		"function": "Engine.Generate",
	})
	if err := p.Validate(); err != nil {
		return music.Sequence{}, err
	}

	maxSymbols := p.MaxSymbols
	if maxSymbols <= 0 {
		maxSymbols = defaultMaxSymbols
	}
	polyphony := p.PolyphonyLimit
	if polyphony == 0 {
		polyphony = defaultPolyphony
	}
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	temperature := p.Temperature()

	// Target length in beats, the inverse of the encoder's time
	// quantization.
	targetBeats := p.DurationSeconds * p.TempoBPM / 60.0

	var notes music.Notes
	context := []int{}
	cursorBeats := 0.0

	for i := 0; i < maxSymbols && cursorBeats < targetBeats; i++ {
		dist, err := model.PredictNext(context)
		if err != nil {
			return music.Sequence{}, err
		}
		id := ai.Sample(dist, temperature, rng)
		sym, ok := g.alphabet.Symbol(id)
		if !ok {
			// Symbol outside the alphabet; keep sampling until the
			// safety bound decides.
			continue
		}
		if len(notes) > 0 {
			cursorBeats += g.enc.LagBeats(sym)
		}
		if cursorBeats >= targetBeats {
			break
		}
		note := g.enc.Decode(sym, cursorBeats, p.TempoBPM)
		notes = append(notes, note)
		context = append(context, id)
	}

	if len(notes) == 0 {
		return music.Sequence{}, fmt.Errorf("no symbol decoded within %d draws: %w", maxSymbols, ErrEmptyModel)
	}

	notes = limitPolyphony(notes, polyphony)

	// Clip to the declared bound and the valid pitch range.
	for i := range notes {
		if notes[i].Pitch < 0 {
			notes[i].Pitch = 0
		}
		if notes[i].Pitch > 127 {
			notes[i].Pitch = 127
		}
		if notes[i].End() > p.DurationSeconds {
			notes[i].Duration = p.DurationSeconds - notes[i].Start
		}
	}

	sort.Sort(notes)
	seq := music.Sequence{
		Notes: notes,
		Tempo: p.TempoBPM,
		Total: p.DurationSeconds,
		Key:   keyOf(notes),
	}
	logger.Debugf("Generated %d notes over %gs at %g BPM", len(notes), p.DurationSeconds, p.TempoBPM)
	return seq, nil
}

// limitPolyphony drops excess concurrent notes at each onset, keeping
// the highest-velocity ones; on equal velocity the earlier-inserted
// note wins. limit <= 0 disables the cap.
func limitPolyphony(notes music.Notes, limit int) music.Notes {
	if limit <= 0 {
		return notes
	}
	kept := make(music.Notes, 0, len(notes))
	for _, n := range notes {
		// Notes already kept that still sound at this onset.
		sounding := 0
		for _, k := range kept {
			if k.Start <= n.Start && n.Start < k.End() {
				sounding++
			}
		}
		if sounding < limit {
			kept = append(kept, n)
			continue
		}
		// Over the limit: the new note only displaces a kept note that
		// starts at the same onset with strictly lower velocity.
		lowest := -1
		for i, k := range kept {
			if k.Start != n.Start {
				continue
			}
			if lowest == -1 || k.Velocity < kept[lowest].Velocity {
				lowest = i
			}
		}
		if lowest >= 0 && kept[lowest].Velocity < n.Velocity {
			kept[lowest] = n
		}
	}
	return kept
}

// majorScale marks the pitch classes of a major scale rooted at 0.
var majorScale = [12]bool{0: true, 2: true, 4: true, 5: true, 7: true, 9: true, 11: true}

var pitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// keyOf estimates a major key signature from the pitch-class histogram.
// It is advisory metadata, not a constraint on generation.
func keyOf(notes music.Notes) string {
	if len(notes) == 0 {
		return ""
	}
	var hist [12]float64
	for _, n := range notes {
		hist[n.Pitch%12]++
	}
	bestRoot, bestScore := 0, -1.0
	for root := 0; root < 12; root++ {
		score := 0.0
		for pc := 0; pc < 12; pc++ {
			if majorScale[(pc-root+12)%12] {
				score += hist[pc]
			}
		}
		if score > bestScore {
			bestRoot, bestScore = root, score
		}
	}
	return pitchClassNames[bestRoot] + " major"
}
