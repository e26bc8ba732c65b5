package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/pitmetrics/internal/engine"
	"github.com/aristath/pitmetrics/internal/reports"
)

// PITHandlers serves expression evaluation
type PITHandlers struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewPITHandlers creates new expression handlers
func NewPITHandlers(eng *engine.Engine, log zerolog.Logger) *PITHandlers {
	return &PITHandlers{
		engine: eng,
		log:    log.With().Str("handler", "pit").Logger(),
	}
}

// RegisterRoutes registers the evaluation routes
func (h *PITHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/pit", func(r chi.Router) {
		r.Get("/evaluate", h.HandleEvaluate)
		r.Get("/plan", h.HandlePlan)
	})
}

// HandleEvaluate handles GET /api/pit/evaluate?expr=&instruments=&start=&end=&as_of=
//
// The response is 200 when at least one instrument evaluated. When every instrument
// failed it is 422 for data errors (missing prior annual report, unsupported mode)
// and 500 otherwise.
func (h *PITHandlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := intParam(q.Get("start"), 0)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	end, err := intParam(q.Get("end"), start)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	asOf, err := reports.ParseAsOf(q.Get("as_of"))
	if err != nil {
		writeError(h.log, w, fmt.Errorf("%w: %v", engine.ErrInvalidRequest, err))
		return
	}

	resp, err := h.engine.Evaluate(r.Context(), engine.Request{
		Expression:  q.Get("expr"),
		Instruments: splitList(q.Get("instruments")),
		Start:       start,
		End:         end,
		AsOf:        asOf,
	})
	if err != nil {
		writeError(h.log, w, err)
		return
	}

	writeJSON(h.log, w, evaluationStatus(resp.Results), map[string]interface{}{
		"data": resp,
	})
}

// HandlePlan handles GET /api/pit/plan?expr=&start=
func (h *PITHandlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := intParam(q.Get("start"), 0)
	if err != nil {
		writeError(h.log, w, err)
		return
	}

	expression := q.Get("expr")
	if strings.TrimSpace(expression) == "" {
		writeError(h.log, w, fmt.Errorf("%w: expr is required", engine.ErrInvalidRequest))
		return
	}

	canonical, plan, err := h.engine.Explain(expression, start)
	if err != nil {
		writeError(h.log, w, err)
		return
	}

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"expression": canonical,
			"plan":       plan,
		},
	})
}

func evaluationStatus(results []engine.Result) int {
	status := http.StatusInternalServerError
	for _, r := range results {
		switch r.ErrorKind {
		case "":
			return http.StatusOK
		case "missing_period_data", "unsupported_aggregation_type", "unsupported_frequency":
			status = http.StatusUnprocessableEntity
		}
	}
	return status
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", engine.ErrInvalidRequest, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
