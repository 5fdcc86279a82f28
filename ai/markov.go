package ai

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	hashids "github.com/speps/go-hashids"
)

// rootKey stands in for the empty context of the order-0 table.
const rootKey = "-"

// MarkovConfig fixes the chain's shape at training time.
type MarkovConfig struct {
	// Order is the context length k (k >= 1).
	Order int `json:"order"`
	// MinCount is the back-off threshold: a context observed fewer
	// times than this defers to the next shorter context.
	MinCount int `json:"min_count"`
}

// DefaultMarkovConfig returns an order-2 chain with a back-off
// threshold of 2.
func DefaultMarkovConfig() MarkovConfig {
	return MarkovConfig{Order: 2, MinCount: 2}
}

// Markov is an n-th order Markov chain over the symbol alphabet.
// Fit counts every observed (context, next-symbol) pair at every order
// from k down to 0 and normalizes each row to a probability
// distribution. Prediction backs off through shorter contexts exactly:
// k, k-1, ..., 0, and a context never observed at any order yields a
// uniform draw over the full alphabet.
type Markov struct {
	cfg          MarkovConfig
	alphabetSize int

	// tables[o] maps a hashed o-symbol context to its normalized
	// next-symbol distribution. Read-only after Fit.
	tables []map[string]Distribution
	// counts[o] holds how often each context was observed, for the
	// back-off threshold.
	counts []map[string]int

	hasher *hashids.HashIDData

	isLearning bool
	hasLearned bool
}

// NewMarkov returns an untrained chain over an alphabet of the given size.
func NewMarkov(cfg MarkovConfig, alphabetSize int) *Markov {
	if cfg.Order < 1 {
		cfg.Order = 1
	}
	if cfg.MinCount < 1 {
		cfg.MinCount = 1
	}
	hd := hashids.NewData()
	hd.Salt = "pianogen"
	hd.MinLength = 4
	return &Markov{
		cfg:          cfg,
		alphabetSize: alphabetSize,
		hasher:       hd,
	}
}

// Order returns the context length k.
func (m *Markov) Order() int {
	return m.cfg.Order
}

// Ready reports whether Fit has completed.
func (m *Markov) Ready() bool {
	return m.hasLearned && !m.isLearning
}

// contextKey encodes a context tuple into a stable string map key.
func (m *Markov) contextKey(context []int) string {
	if len(context) == 0 {
		return rootKey
	}
	h, _ := hashids.NewWithData(m.hasher)
	key, err := h.Encode(context)
	if err != nil {
		// IDs are non-negative so this only fires on a corrupted
		// context; fall back to a printable key.
		return fmt.Sprintf("%v", context)
	}
	return key
}

// Fit builds the transition tables from encoded symbol sequences.
func (m *Markov) Fit(sequences [][]int) (err error) {
	logger := log.WithFields(log.Fields{
		"function": "Markov.Fit",
	})
	if m.isLearning {
		return ErrAlreadyLearning
	}
	m.isLearning = true
	defer func() { m.isLearning = false }()

	k := m.cfg.Order
	m.tables = make([]map[string]Distribution, k+1)
	m.counts = make([]map[string]int, k+1)
	for o := 0; o <= k; o++ {
		m.tables[o] = make(map[string]Distribution)
		m.counts[o] = make(map[string]int)
	}

	logger.Info("Counting transitions")
	observations := 0
	for _, seq := range sequences {
		for i, next := range seq {
			for o := 0; o <= k && o <= i; o++ {
				key := m.contextKey(seq[i-o : i])
				d := m.tables[o][key]
				d.Add(next, 1)
				m.tables[o][key] = d
				m.counts[o][key]++
			}
			observations++
		}
	}
	if observations == 0 {
		return fmt.Errorf("no symbols to fit")
	}

	logger.Debug("Normalizing transitions")
	for o := 0; o <= k; o++ {
		for key, d := range m.tables[o] {
			d.Normalize()
			m.tables[o][key] = d
		}
	}
	logger.Infof("Fitted order-%d chain on %d observations, %d distinct contexts",
		k, observations, len(m.counts[k]))
	m.hasLearned = true
	return
}

// PredictNext returns the next-symbol distribution for the context,
// backing off to shorter contexts when the full one was seen too
// rarely. The returned distribution is a copy; reweighting it does not
// touch the shared tables.
func (m *Markov) PredictNext(context []int) (Distribution, error) {
	if !m.Ready() {
		return Distribution{}, ErrModelNotReady
	}
	maxOrder := m.cfg.Order
	if len(context) < maxOrder {
		maxOrder = len(context)
	}
	for o := maxOrder; o >= 0; o-- {
		key := m.contextKey(context[len(context)-o:])
		d, ok := m.tables[o][key]
		if !ok {
			continue
		}
		if o > 0 && m.counts[o][key] < m.cfg.MinCount {
			continue
		}
		return d.clone(), nil
	}
	// Complete cold start: the context was never observed at any order.
	return Uniform(m.alphabetSize), nil
}

// MarkovState is the serializable form of a fitted chain.
type MarkovState struct {
	Config       MarkovConfig              `json:"config"`
	AlphabetSize int                       `json:"alphabet_size"`
	Tables       []map[string]Distribution `json:"tables"`
	Counts       []map[string]int          `json:"counts"`
}

// State snapshots a fitted chain for persistence.
func (m *Markov) State() MarkovState {
	return MarkovState{
		Config:       m.cfg,
		AlphabetSize: m.alphabetSize,
		Tables:       m.tables,
		Counts:       m.counts,
	}
}

// MarkovFromState restores a chain previously snapshotted with State.
func MarkovFromState(st MarkovState) *Markov {
	m := NewMarkov(st.Config, st.AlphabetSize)
	m.tables = st.Tables
	m.counts = st.Counts
	m.hasLearned = len(st.Tables) > 0
	return m
}
