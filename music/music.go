package music

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Note carries the pitch, velocity, and timing information of a single press.
// Start and Duration are in seconds.
type Note struct {
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// End returns when the note stops sounding.
func (n Note) End() float64 {
	return n.Start + n.Duration
}

func (n Note) String() string {
	return fmt.Sprintf("%d@%2.3f", n.Pitch, n.Start)
}

// Valid reports whether the note satisfies general MIDI semantics.
func (n Note) Valid() bool {
	return n.Pitch >= 0 && n.Pitch <= 127 &&
		n.Velocity >= 0 && n.Velocity <= 127 &&
		n.Start >= 0 && n.Duration > 0
}

// Notes is a structure for sorting notes by start time, ties broken
// by pitch ascending.
type Notes []Note

func (p Notes) Len() int {
	return len(p)
}

func (p Notes) Less(i, j int) bool {
	if p[i].Start == p[j].Start {
		return p[i].Pitch < p[j].Pitch
	}
	return p[i].Start < p[j].Start
}

func (p Notes) Swap(i, j int) {
	p[i], p[j] = p[j], p[i]
}

// Sorted returns a sorted copy, leaving the receiver untouched.
func (p Notes) Sorted() Notes {
	out := make(Notes, len(p))
	copy(out, p)
	sort.Sort(out)
	return out
}

// Sequence is a finished piece of music: an ordered collection of notes
// plus sequence-level metadata. A Sequence handed out by the generation
// engine is immutable; consumers derive new sequences instead of
// mutating in place.
type Sequence struct {
	Notes Notes   `json:"notes"`
	Tempo float64 `json:"tempo"`
	// Total is the declared length in seconds. Every note ends at or
	// before Total.
	Total float64 `json:"total_duration"`
	// Key is an optional symbolic key signature, e.g. "C major".
	Key string `json:"key,omitempty"`
}

// Validate checks the sequence invariants: positive tempo, valid notes,
// and no note extending past the declared total duration.
func (s Sequence) Validate() error {
	if s.Tempo <= 0 {
		return fmt.Errorf("tempo must be positive, got %f", s.Tempo)
	}
	if s.Total < 0 {
		return fmt.Errorf("total duration must be non-negative, got %f", s.Total)
	}
	for i, n := range s.Notes {
		if !n.Valid() {
			return fmt.Errorf("note %d is out of range: %+v", i, n)
		}
		if n.End() > s.Total+1e-9 {
			return fmt.Errorf("note %d ends at %f, past total duration %f", i, n.End(), s.Total)
		}
	}
	return nil
}

// Open loads a previously saved corpus of sequences.
func Open(filename string) (corpus []Sequence, err error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return
	}
	err = json.Unmarshal(b, &corpus)
	return
}

// Save writes a corpus of sequences to a JSON file.
func Save(filename string, corpus []Sequence) (err error) {
	b, err := json.Marshal(corpus)
	if err != nil {
		return
	}
	return os.WriteFile(filename, b, 0644)
}
