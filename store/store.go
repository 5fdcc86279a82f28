// Package store persists trained models to a JSON store so that
// training can run offline and serving loads the result. Generated
// sequences are never stored here; only fitted model state and the
// encoder state it was trained with.
package store

import (
	"errors"
	"fmt"

	"github.com/schollz/jsonstore"
	log "github.com/sirupsen/logrus"

	"pianogen/ai"
	"pianogen/encode"
	"pianogen/engine"
)

// ErrNotFound is returned when no model was saved under a name.
var ErrNotFound = errors.New("no model stored under that name")

// Store wraps one on-disk JSON store of trained models.
type Store struct {
	path string
	ks   *jsonstore.JSONStore
}

// Open loads the store at path, starting empty when the file does not
// exist yet.
func Open(path string) (*Store, error) {
	logger := log.WithFields(log.Fields{
		"function": "store.Open",
	})
	ks, err := jsonstore.Open(path)
	if err != nil {
		logger.Warnf("Could not open model store %s, starting empty: %s", path, err)
		ks = new(jsonstore.JSONStore)
	} else {
		logger.Infof("Loaded model store with %d entries", len(ks.Keys()))
	}
	return &Store{path: path, ks: ks}, nil
}

// markovRecord and neuralRecord bundle a model snapshot with the
// quantization and alphabet it was trained against.
type markovRecord struct {
	Quant   encode.Quantization `json:"quantization"`
	Symbols []encode.Symbol     `json:"symbols"`
	Markov  ai.MarkovState      `json:"markov"`
}

type neuralRecord struct {
	Quant   encode.Quantization `json:"quantization"`
	Symbols []encode.Symbol     `json:"symbols"`
	Neural  ai.NeuralState      `json:"neural"`
}

// SaveMarkov writes a fitted chain under the given name.
func (s *Store) SaveMarkov(name string, quant encode.Quantization, alphabet *encode.Alphabet, m *ai.Markov) error {
	rec := markovRecord{Quant: quant, Symbols: alphabet.Symbols(), Markov: m.State()}
	if err := s.ks.Set("markov:"+name, rec); err != nil {
		return err
	}
	return jsonstore.Save(s.ks, s.path)
}

// SaveNeural writes a trained sequence model under the given name.
func (s *Store) SaveNeural(name string, quant encode.Quantization, alphabet *encode.Alphabet, n *ai.Neural) error {
	rec := neuralRecord{Quant: quant, Symbols: alphabet.Symbols(), Neural: n.State()}
	if err := s.ks.Set("neural:"+name, rec); err != nil {
		return err
	}
	return jsonstore.Save(s.ks, s.path)
}

// LoadMarkov restores a fitted chain as a ready-to-publish engine entry.
func (s *Store) LoadMarkov(name string) (*engine.Entry, error) {
	var rec markovRecord
	if err := s.ks.Get("markov:"+name, &rec); err != nil {
		return nil, fmt.Errorf("markov model %q: %w", name, ErrNotFound)
	}
	return &engine.Entry{
		Name:     name,
		Model:    ai.MarkovFromState(rec.Markov),
		Encoder:  encode.NewEncoder(rec.Quant),
		Alphabet: encode.NewAlphabet(rec.Symbols),
	}, nil
}

// LoadNeural restores a trained sequence model as an engine entry.
func (s *Store) LoadNeural(name string) (*engine.Entry, error) {
	var rec neuralRecord
	if err := s.ks.Get("neural:"+name, &rec); err != nil {
		return nil, fmt.Errorf("neural model %q: %w", name, ErrNotFound)
	}
	return &engine.Entry{
		Name:     name,
		Model:    ai.NeuralFromState(rec.Neural),
		Encoder:  encode.NewEncoder(rec.Quant),
		Alphabet: encode.NewAlphabet(rec.Symbols),
	}, nil
}
