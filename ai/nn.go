package ai

import (
	"fmt"

	"github.com/schollz/gobrain"
	log "github.com/sirupsen/logrus"
)

// bitsPerSymbol is the width of the binary input encoding of one
// symbol ID. 16 bits covers any realistic alphabet.
const bitsPerSymbol = 16

// TrainingConfig enumerates the sequence model's training knobs.
// Training is an offline batch process, invoked from the train command,
// never on the generation hot path.
type TrainingConfig struct {
	// Epochs is the number of passes over the training windows.
	Epochs int `json:"epochs"`
	// BatchSize caps how many training windows are used per epoch;
	// 0 means all of them.
	BatchSize int `json:"batch_size"`
	// LearningRate and Momentum are passed to the network trainer.
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
	// WindowLength is how many preceding symbols the model sees.
	WindowLength int `json:"window_length"`
	// HiddenUnits sizes the hidden layer.
	HiddenUnits int `json:"hidden_units"`
}

// DefaultTrainingConfig mirrors the defaults the demo app trains with.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Epochs:       200,
		LearningRate: 0.1,
		Momentum:     0.3,
		WindowLength: 8,
		HiddenUnits:  32,
	}
}

// Neural is an autoregressive next-symbol predictor backed by a
// feed-forward network. Each context window is encoded as a binary
// float vector; the output layer has one unit per alphabet symbol and
// is normalized into a distribution on prediction.
type Neural struct {
	cfg          TrainingConfig
	alphabetSize int

	ff *gobrain.FeedForward

	isLearning bool
	hasLearned bool
}

// NewNeural returns an untrained sequence model over an alphabet of the
// given size.
func NewNeural(cfg TrainingConfig, alphabetSize int) *Neural {
	if cfg.WindowLength < 1 {
		cfg.WindowLength = 1
	}
	if cfg.Epochs < 1 {
		cfg.Epochs = 1
	}
	if cfg.HiddenUnits < 1 {
		cfg.HiddenUnits = 16
	}
	return &Neural{cfg: cfg, alphabetSize: alphabetSize}
}

// Ready reports whether Fit has completed.
func (n *Neural) Ready() bool {
	return n.hasLearned && !n.isLearning
}

// WindowLength returns how many preceding symbols the model consumes.
func (n *Neural) WindowLength() int {
	return n.cfg.WindowLength
}

// sosID is the start-of-sequence marker used to left-pad contexts
// shorter than the window.
func (n *Neural) sosID() int {
	return n.alphabetSize
}

// encodeID converts a symbol ID to its binary float vector.
func encodeID(id int) []float64 {
	v := make([]float64, bitsPerSymbol)
	for b := 0; b < bitsPerSymbol; b++ {
		if id&(1<<uint(b)) != 0 {
			v[bitsPerSymbol-1-b] = 1
		}
	}
	return v
}

// encodeWindow encodes the last WindowLength symbols of context,
// left-padded with the start-of-sequence marker.
func (n *Neural) encodeWindow(context []int) []float64 {
	w := n.cfg.WindowLength
	input := make([]float64, 0, w*bitsPerSymbol)
	pad := w - len(context)
	for i := 0; i < w; i++ {
		id := n.sosID()
		if i >= pad {
			id = context[len(context)-w+i]
		}
		input = append(input, encodeID(id)...)
	}
	return input
}

// Fit trains the network on teacher-forced next-step prediction over
// the encoded corpus.
func (n *Neural) Fit(sequences [][]int) (err error) {
	logger := log.WithFields(log.Fields{
		"function": "Neural.Fit",
	})
	if n.isLearning {
		return ErrAlreadyLearning
	}
	n.isLearning = true
	defer func() { n.isLearning = false }()

	patterns := [][][]float64{}
	for _, seq := range sequences {
		for i, next := range seq {
			if next < 0 || next >= n.alphabetSize {
				return fmt.Errorf("symbol %d outside alphabet of %d", next, n.alphabetSize)
			}
			start := i - n.cfg.WindowLength
			if start < 0 {
				start = 0
			}
			target := make([]float64, n.alphabetSize)
			target[next] = 1
			patterns = append(patterns, [][]float64{
				n.encodeWindow(seq[start:i]),
				target,
			})
		}
	}
	if len(patterns) == 0 {
		return fmt.Errorf("no training windows in corpus")
	}
	if n.cfg.BatchSize > 0 && len(patterns) > n.cfg.BatchSize {
		patterns = patterns[:n.cfg.BatchSize]
	}

	n.ff = &gobrain.FeedForward{}
	n.ff.Init(n.cfg.WindowLength*bitsPerSymbol, n.cfg.HiddenUnits, n.alphabetSize)

	logger.Infof("Training on %d windows for %d epochs", len(patterns), n.cfg.Epochs)
	n.ff.Train(patterns, n.cfg.Epochs, n.cfg.LearningRate, n.cfg.Momentum, false)
	logger.Debug("Finished training")
	n.hasLearned = true
	return
}

// PredictNext runs the network on the padded context window and
// normalizes the output layer into a distribution over the alphabet.
// IDs appear in alphabet order, so greedy ties resolve to the lowest ID.
func (n *Neural) PredictNext(context []int) (Distribution, error) {
	if !n.Ready() {
		return Distribution{}, ErrModelNotReady
	}
	out := n.ff.Update(n.encodeWindow(context))

	d := Distribution{
		IDs:   make([]int, n.alphabetSize),
		Probs: make([]float64, n.alphabetSize),
	}
	total := 0.0
	for i := 0; i < n.alphabetSize; i++ {
		d.IDs[i] = i
		p := out[i]
		if p < 0 {
			p = 0
		}
		d.Probs[i] = p
		total += p
	}
	if total <= 0 {
		return Uniform(n.alphabetSize), nil
	}
	for i := range d.Probs {
		d.Probs[i] /= total
	}
	return d, nil
}

// NeuralState is the serializable form of a trained sequence model.
type NeuralState struct {
	Config       TrainingConfig       `json:"config"`
	AlphabetSize int                  `json:"alphabet_size"`
	Network      *gobrain.FeedForward `json:"network"`
}

// State snapshots a trained model for persistence.
func (n *Neural) State() NeuralState {
	return NeuralState{
		Config:       n.cfg,
		AlphabetSize: n.alphabetSize,
		Network:      n.ff,
	}
}

// NeuralFromState restores a model previously snapshotted with State.
func NeuralFromState(st NeuralState) *Neural {
	n := NewNeural(st.Config, st.AlphabetSize)
	n.ff = st.Network
	n.hasLearned = st.Network != nil
	return n
}
