package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"pianogen/ai"
	"pianogen/engine"
	"pianogen/export"
	"pianogen/music"
)

// Handler exposes the generation service over HTTP.
type Handler struct {
	svc     *Service
	metrics *Metrics
}

// NewHandler returns a Handler over the given service. Metrics may be
// nil to disable metric recording, e.g. in tests.
func NewHandler(svc *Service, m *Metrics) *Handler {
	return &Handler{svc: svc, metrics: m}
}

// NewRouter wires the handler and middleware into a chi router.
func NewRouter(h *Handler, m *Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	r.Use(CountRequests(m))
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Get("/healthz", h.Health)
	r.Get("/models", h.Models)
	r.Post("/generate", h.Generate)
	r.Get("/generate.mid", h.GenerateMIDI)
	return r
}

type generateRequest struct {
	Model           string  `json:"model"`
	DurationSeconds float64 `json:"duration_seconds"`
	TempoBPM        float64 `json:"tempo_bpm"`
	Complexity      float64 `json:"complexity"`
	Seed            int64   `json:"seed,omitempty"`
}

func (req generateRequest) parameters() engine.Parameters {
	return engine.Parameters{
		DurationSeconds: req.DurationSeconds,
		TempoBPM:        req.TempoBPM,
		Complexity:      req.Complexity,
		Seed:            req.Seed,
	}
}

type generateResponse struct {
	Model    string             `json:"model"`
	Sequence music.Sequence     `json:"sequence"`
	Plot     []export.PlotPoint `json:"plot"`
	MIDI     string             `json:"midi_base64"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Models handles GET /models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"models": h.svc.Models()})
}

// Generate handles POST /generate: runs the engine and returns the
// sequence, the plot matrix, and the MIDI file inline.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	seq, ok := h.generate(w, req)
	if !ok {
		return
	}
	midiBytes, err := export.SMFBytes(seq)
	if err != nil {
		log.Errorf("MIDI export failed: %s", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export failed"})
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Model:    req.Model,
		Sequence: seq,
		Plot:     export.PlotMatrix(seq),
		MIDI:     base64.StdEncoding.EncodeToString(midiBytes),
	})
}

// GenerateMIDI handles GET /generate.mid: same engine call, streamed as
// a downloadable standard MIDI file.
func (h *Handler) GenerateMIDI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := generateRequest{
		Model:           q.Get("model"),
		DurationSeconds: queryFloat(q.Get("duration"), 0),
		TempoBPM:        queryFloat(q.Get("tempo"), 0),
		Complexity:      queryFloat(q.Get("complexity"), 0),
		Seed:            int64(queryFloat(q.Get("seed"), 0)),
	}
	seq, ok := h.generate(w, req)
	if !ok {
		return
	}
	midiBytes, err := export.SMFBytes(seq)
	if err != nil {
		log.Errorf("MIDI export failed: %s", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export failed"})
		return
	}
	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition", `attachment; filename="generated.mid"`)
	w.WriteHeader(http.StatusOK)
	w.Write(midiBytes)
}

// generate maps the service call's failures onto HTTP statuses. Every
// failure reaches the caller; no default output is substituted.
func (h *Handler) generate(w http.ResponseWriter, req generateRequest) (music.Sequence, bool) {
	if req.Model == "" {
		req.Model = "markov"
	}
	seq, err := h.svc.Generate(req.Model, req.parameters())
	if err == nil {
		return seq, true
	}

	reason := "internal"
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidParameters):
		reason, status = "parameters", http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnknownModel):
		reason, status = "unknown_model", http.StatusNotFound
	case errors.Is(err, ai.ErrModelNotReady):
		reason, status = "model_not_ready", http.StatusConflict
	case errors.Is(err, engine.ErrEmptyModel):
		reason = "empty_model"
	}
	if h.metrics != nil {
		h.metrics.IncErrors(reason)
	}
	log.WithFields(log.Fields{
		"model":  req.Model,
		"reason": reason,
	}).Warnf("Generation failed: %s", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
	return music.Sequence{}, false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryFloat(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return fallback
}
