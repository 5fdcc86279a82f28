package engine

import (
	"sync/atomic"

	"pianogen/ai"
	"pianogen/encode"
)

// Entry pairs a trained model with the encoder state it was trained
// against. An Entry is immutable once published.
type Entry struct {
	Name     string
	Model    ai.NextSymbolModel
	Encoder  *encode.Encoder
	Alphabet *encode.Alphabet
}

// Handle is the process-wide "current trained model" reference.
// Retraining builds a new Entry off to the side and Swap publishes it
// atomically, so generation never observes a model mid-Fit.
type Handle struct {
	v atomic.Pointer[Entry]
}

// Swap publishes a new entry and returns the previous one, if any.
func (h *Handle) Swap(e *Entry) *Entry {
	return h.v.Swap(e)
}

// Load returns the current entry, or false when nothing has been
// trained yet.
func (h *Handle) Load() (*Entry, bool) {
	e := h.v.Load()
	return e, e != nil
}
