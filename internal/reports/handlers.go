package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/pitmetrics/internal/catalog"
	"github.com/aristath/pitmetrics/internal/period"
)

// Invalidator drops cached evaluations of an instrument after its reports change
type Invalidator interface {
	InvalidateInstrument(instrument string) (int64, error)
}

// Handler handles report HTTP requests
type Handler struct {
	repo        *Repository
	catalog     *catalog.Catalog
	invalidator Invalidator
	log         zerolog.Logger
}

// NewHandler creates a new report handler. catalog and invalidator may be nil.
func NewHandler(repo *Repository, cat *catalog.Catalog, invalidator Invalidator, log zerolog.Logger) *Handler {
	return &Handler{
		repo:        repo,
		catalog:     cat,
		invalidator: invalidator,
		log:         log.With().Str("handler", "reports").Logger(),
	}
}

// RegisterRoutes registers all report routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Post("/", h.HandleImport)
		r.Get("/", h.HandleListInstruments)
		r.Get("/{instrument}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetInstrument(w, r, chi.URLParam(r, "instrument"))
		})
		r.Get("/{instrument}/{field}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetSeries(w, r, chi.URLParam(r, "instrument"), chi.URLParam(r, "field"))
		})
	})
}

type reportRequest struct {
	Instrument  string          `json:"instrument"`
	Field       string          `json:"field"`
	Period      json.RawMessage `json:"period"`
	Value       *float64        `json:"value"`
	PublishedAt *time.Time      `json:"published_at"`
}

type importRequest struct {
	Reports []reportRequest `json:"reports"`
}

func (rr reportRequest) toReport() (Report, error) {
	raw := strings.Trim(strings.TrimSpace(string(rr.Period)), `"`)
	code, err := period.Parse(raw)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	rep := Report{
		Instrument: rr.Instrument,
		Field:      rr.Field,
		Period:     code,
		Value:      rr.Value,
	}
	if rr.PublishedAt != nil {
		rep.PublishedAt = *rr.PublishedAt
	}
	return rep, rep.Validate()
}

// HandleImport handles POST /api/reports
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Reports) == 0 {
		http.Error(w, "No reports in request", http.StatusBadRequest)
		return
	}

	reports := make([]Report, 0, len(req.Reports))
	for i, rr := range req.Reports {
		rep, err := rr.toReport()
		if err != nil {
			http.Error(w, fmt.Sprintf("report %d: %v", i, err), http.StatusBadRequest)
			return
		}
		if !h.catalog.Known(rep.Field) {
			http.Error(w, fmt.Sprintf("report %d: unknown field %s", i, rep.Field), http.StatusBadRequest)
			return
		}
		reports = append(reports, rep)
	}

	stored, err := h.repo.Upsert(r.Context(), reports)
	if err != nil {
		if errors.Is(err, ErrInvalidReport) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Msg("Failed to store reports")
		http.Error(w, "Failed to store reports", http.StatusInternalServerError)
		return
	}

	h.invalidate(reports)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"stored": stored,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) invalidate(reports []Report) {
	if h.invalidator == nil {
		return
	}
	seen := make(map[string]bool)
	for _, rep := range reports {
		if seen[rep.Instrument] {
			continue
		}
		seen[rep.Instrument] = true
		if _, err := h.invalidator.InvalidateInstrument(rep.Instrument); err != nil {
			h.log.Warn().Err(err).Str("instrument", rep.Instrument).Msg("Failed to invalidate cached evaluations")
		}
	}
}

// HandleListInstruments handles GET /api/reports
func (h *Handler) HandleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := h.repo.Instruments(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list instruments")
		http.Error(w, "Failed to list instruments", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"instruments": nonNil(instruments),
			"count":       len(instruments),
		},
	})
}

// HandleGetInstrument handles GET /api/reports/{instrument}
func (h *Handler) HandleGetInstrument(w http.ResponseWriter, r *http.Request, instrument string) {
	asOf, err := ParseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reports, err := h.repo.List(r.Context(), instrument, asOf)
	if err != nil {
		h.log.Error().Err(err).Str("instrument", instrument).Msg("Failed to list reports")
		http.Error(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}
	if len(reports) == 0 {
		http.Error(w, "No reports for instrument", http.StatusNotFound)
		return
	}

	fields, err := h.repo.Fields(r.Context(), instrument)
	if err != nil {
		h.log.Error().Err(err).Str("instrument", instrument).Msg("Failed to list fields")
		http.Error(w, "Failed to list fields", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"instrument": instrument,
			"fields":     fields,
			"reports":    reports,
			"count":      len(reports),
		},
	})
}

// HandleGetSeries handles GET /api/reports/{instrument}/{field}
func (h *Handler) HandleGetSeries(w http.ResponseWriter, r *http.Request, instrument, field string) {
	asOf, err := ParseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	s, err := h.repo.Load(r.Context(), instrument, field, asOf, limit)
	if err != nil {
		h.log.Error().Err(err).Str("instrument", instrument).Str("field", field).Msg("Failed to load series")
		http.Error(w, "Failed to load series", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"instrument": instrument,
			"field":      field,
			"points":     s.Points(),
			"count":      s.Len(),
		},
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
