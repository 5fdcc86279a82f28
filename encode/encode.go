// Package encode turns raw note sequences into the discrete symbol
// alphabet the generation models are trained on, and decodes generated
// symbols back into notes. The mapping is deterministic for a given
// quantization config, and every symbol the models can emit decodes to
// a valid note.
package encode

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"pianogen/music"
)

// ErrInsufficientData is returned when the corpus is empty or no
// sequence yields enough symbols for the requested model order.
var ErrInsufficientData = errors.New("corpus has too few notes to encode")

// Quantization enumerates the discretization choices. All time values
// are in beats; seconds are converted using each sequence's tempo so
// that corpora recorded at different tempos share one alphabet.
type Quantization struct {
	// TimeResolution is the smallest distinguishable time delta, in beats.
	TimeResolution float64 `json:"time_resolution"`
	// MinPitch and MaxPitch bound the usable pitch range. Notes outside
	// the range are clamped to it during encoding.
	MinPitch int `json:"min_pitch"`
	MaxPitch int `json:"max_pitch"`
	// DurationBuckets is the number of discrete duration classes.
	// Bucket b spans ((b)*TimeResolution, (b+1)*TimeResolution] beats.
	DurationBuckets int `json:"duration_buckets"`
	// VelocityBuckets is the number of discrete velocity classes over 0-127.
	VelocityBuckets int `json:"velocity_buckets"`
	// MaxLagSteps caps the encoded gap between consecutive onsets, in
	// multiples of TimeResolution.
	MaxLagSteps int `json:"max_lag_steps"`
}

// Default returns the quantization used when nothing else is configured:
// sixteenth-note resolution on an 88-key piano.
func Default() Quantization {
	return Quantization{
		TimeResolution:  0.25,
		MinPitch:        21,
		MaxPitch:        108,
		DurationBuckets: 16,
		VelocityBuckets: 8,
		MaxLagSteps:     16,
	}
}

// SecondsPerStep converts one TimeResolution step to seconds at the
// given tempo.
func (q Quantization) SecondsPerStep(tempoBPM float64) float64 {
	return q.TimeResolution * 60.0 / tempoBPM
}

// Symbol is the discretized, model-facing encoding of a note event:
// absolute pitch, a duration bucket, the quantized time delta since the
// previous onset (0 means the note sounds together with the previous
// one), and a velocity bucket.
type Symbol struct {
	Pitch    int `json:"p"`
	Duration int `json:"d"`
	Lag      int `json:"l"`
	Velocity int `json:"v"`
}

// Alphabet assigns stable integer IDs to symbols in first-seen order,
// so that encoding the same corpus twice yields identical IDs.
type Alphabet struct {
	symbols []Symbol
	index   map[Symbol]int
}

// NewAlphabet builds an alphabet from an explicit symbol list, e.g. one
// restored from a model store.
func NewAlphabet(symbols []Symbol) *Alphabet {
	a := &Alphabet{
		symbols: symbols,
		index:   make(map[Symbol]int, len(symbols)),
	}
	for i, s := range symbols {
		a.index[s] = i
	}
	return a
}

// Size returns the number of distinct symbols.
func (a *Alphabet) Size() int {
	return len(a.symbols)
}

// Symbols returns the symbol list in ID order. The returned slice is
// shared; callers must not modify it.
func (a *Alphabet) Symbols() []Symbol {
	return a.symbols
}

// ID returns the symbol's ID, registering it if unseen.
func (a *Alphabet) id(s Symbol) int {
	if i, ok := a.index[s]; ok {
		return i
	}
	i := len(a.symbols)
	a.symbols = append(a.symbols, s)
	a.index[s] = i
	return i
}

// Lookup returns the ID of a known symbol.
func (a *Alphabet) Lookup(s Symbol) (int, bool) {
	i, ok := a.index[s]
	return i, ok
}

// Symbol returns the symbol for an ID.
func (a *Alphabet) Symbol(id int) (Symbol, bool) {
	if id < 0 || id >= len(a.symbols) {
		return Symbol{}, false
	}
	return a.symbols[id], true
}

// Encoder converts between note sequences and symbol ID sequences under
// one quantization config.
type Encoder struct {
	Quant Quantization
}

// NewEncoder returns an encoder for the given quantization.
func NewEncoder(q Quantization) *Encoder {
	return &Encoder{Quant: q}
}

// clamp keeps v within [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// steps rounds a beat count to the nearest whole number of
// TimeResolution steps.
func (e *Encoder) steps(beats float64) int {
	return int(beats/e.Quant.TimeResolution + 0.5)
}

// Quantize discretizes a single note. prevStart is the previous note's
// onset in seconds (pass the note's own start for the first note, which
// yields lag 0), tempo the sequence tempo.
func (e *Encoder) Quantize(n music.Note, prevStart float64, tempoBPM float64) Symbol {
	q := e.Quant
	beatsPerSecond := tempoBPM / 60.0

	durSteps := e.steps(n.Duration * beatsPerSecond)
	if durSteps < 1 {
		durSteps = 1
	}
	lagSteps := e.steps((n.Start - prevStart) * beatsPerSecond)

	velBucket := n.Velocity * q.VelocityBuckets / 128

	return Symbol{
		Pitch:    clamp(n.Pitch, q.MinPitch, q.MaxPitch),
		Duration: clamp(durSteps-1, 0, q.DurationBuckets-1),
		Lag:      clamp(lagSteps, 0, q.MaxLagSteps),
		Velocity: clamp(velBucket, 0, q.VelocityBuckets-1),
	}
}

// Decode reconstructs a note from a symbol. startBeats anchors the note
// at the engine's running time cursor (already advanced by the symbol's
// lag); tempo converts beats back to seconds. Decoding is total: any
// symbol yields a valid note.
func (e *Encoder) Decode(s Symbol, startBeats float64, tempoBPM float64) music.Note {
	q := e.Quant
	secondsPerBeat := 60.0 / tempoBPM

	durBeats := float64(clamp(s.Duration, 0, q.DurationBuckets-1)+1) * q.TimeResolution
	velBucket := clamp(s.Velocity, 0, q.VelocityBuckets-1)
	velocity := clamp((velBucket*128+64)/q.VelocityBuckets, 1, 127)

	return music.Note{
		Pitch:    clamp(s.Pitch, q.MinPitch, q.MaxPitch),
		Velocity: velocity,
		Start:    startBeats * secondsPerBeat,
		Duration: durBeats * secondsPerBeat,
	}
}

// LagBeats returns the symbol's onset delta in beats.
func (e *Encoder) LagBeats(s Symbol) float64 {
	return float64(clamp(s.Lag, 0, e.Quant.MaxLagSteps)) * e.Quant.TimeResolution
}

// Encode converts a corpus into an alphabet and per-sequence symbol ID
// sequences. minLength is the shortest usable sequence, normally model
// order + 1; ErrInsufficientData is returned when the corpus is empty
// or every sequence falls below it. Notes are scanned in start-time
// order so identical inputs always produce identical IDs.
func (e *Encoder) Encode(corpus []music.Sequence, minLength int) (*Alphabet, [][]int, error) {
	logger := log.WithFields(log.Fields{
		"function": "Encoder.Encode",
	})
	if len(corpus) == 0 {
		return nil, nil, fmt.Errorf("empty corpus: %w", ErrInsufficientData)
	}

	alphabet := NewAlphabet(nil)
	sequences := make([][]int, 0, len(corpus))
	usable := 0
	for _, seq := range corpus {
		if seq.Tempo <= 0 {
			return nil, nil, fmt.Errorf("sequence with tempo %f: %w", seq.Tempo, ErrInsufficientData)
		}
		notes := seq.Notes.Sorted()
		ids := make([]int, 0, len(notes))
		prevStart := 0.0
		for i, n := range notes {
			if i == 0 {
				prevStart = n.Start
			}
			sym := e.Quantize(n, prevStart, seq.Tempo)
			ids = append(ids, alphabet.id(sym))
			prevStart = n.Start
		}
		sequences = append(sequences, ids)
		if len(ids) >= minLength {
			usable++
		}
	}
	if usable == 0 {
		return nil, nil, fmt.Errorf("no sequence has %d or more symbols: %w", minLength, ErrInsufficientData)
	}
	logger.Debugf("Encoded %d sequences into alphabet of %d symbols", len(sequences), alphabet.Size())
	return alphabet, sequences, nil
}
