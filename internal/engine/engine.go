// Package engine evaluates point-in-time expressions over many instruments.
//
// An evaluation parses the expression once, plans how much history each leaf
// needs, prefetches that history from the report store into an in-memory
// snapshot and evaluates instruments in parallel against the snapshot.
// Within a window every back-index is evaluated on its own, so each returned
// point carries the metric as it stood at that period.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/pitmetrics/internal/cache"
	"github.com/aristath/pitmetrics/internal/catalog"
	"github.com/aristath/pitmetrics/internal/expr"
	"github.com/aristath/pitmetrics/internal/parse"
	"github.com/aristath/pitmetrics/internal/period"
	"github.com/aristath/pitmetrics/internal/rolling"
	"github.com/aristath/pitmetrics/internal/series"
)

// ErrInvalidRequest is returned for requests that cannot be evaluated at all
var ErrInvalidRequest = errors.New("invalid request")

// MaxStart is the furthest back-index a request may start at
const MaxStart = 400

// Store is the report storage the engine reads from
type Store interface {
	Load(ctx context.Context, instrument, field string, asOf time.Time, limit int) (series.Series, error)
}

// Cache stores evaluated series between requests
type Cache interface {
	GetIfFresh(key string) (series.Series, bool, error)
	Store(key, instrument string, s series.Series, ttl time.Duration) error
}

// Config holds engine settings
type Config struct {
	Concurrency int           // instruments evaluated in parallel; <= 0 means 1
	CacheTTL    time.Duration // 0 disables caching
}

// Engine evaluates expressions against a report store
type Engine struct {
	store   Store
	cache   Cache
	catalog *catalog.Catalog
	cfg     Config
	log     zerolog.Logger
}

// New creates an engine. cache and cat may be nil.
func New(store Store, c Cache, cat *catalog.Catalog, cfg Config, log zerolog.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Engine{
		store:   store,
		cache:   c,
		catalog: cat,
		cfg:     cfg,
		log:     log.With().Str("component", "engine").Logger(),
	}
}

// Request is one evaluation over a set of instruments
type Request struct {
	Expression  string
	Instruments []string
	Start       int
	End         int
	AsOf        time.Time // only reports published at or before AsOf are visible; zero sees everything
}

// Result is the outcome for one instrument.
// A failed instrument carries Error and ErrorKind and no points.
type Result struct {
	Instrument string         `json:"instrument"`
	Points     []series.Point `json:"points"`
	Cached     bool           `json:"cached"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`

	Series series.Series `json:"-"`
	Err    error         `json:"-"`
}

// Response is the outcome of an evaluation
type Response struct {
	RunID      string    `json:"run_id"`
	Expression string    `json:"expression"`
	Plan       FetchPlan `json:"plan"`
	Results    []Result  `json:"results"`
}

// Explain parses an expression and returns its canonical text and fetch plan
func (e *Engine) Explain(expression string, start int) (string, FetchPlan, error) {
	if start < 0 || start > MaxStart {
		return "", FetchPlan{}, fmt.Errorf("%w: start %d out of range [0, %d]", ErrInvalidRequest, start, MaxStart)
	}
	tree, err := parse.Parse(expression, expr.NewMapSource(), e.catalog)
	if err != nil {
		return "", FetchPlan{}, err
	}
	return tree.String(), Plan(tree, start), nil
}

// Evaluate runs req. Failures of single instruments are reported in their Result;
// the returned error is reserved for invalid requests and cancellation.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	snapshot := expr.NewMapSource()
	tree, err := parse.Parse(req.Expression, snapshot, e.catalog)
	if err != nil {
		return nil, err
	}

	asOf := req.AsOf
	resp := &Response{
		RunID:      uuid.New().String(),
		Expression: tree.String(),
		Plan:       Plan(tree, req.Start),
		Results:    make([]Result, len(req.Instruments)),
	}

	log := e.log.With().Str("run_id", resp.RunID).Logger()
	log.Debug().
		Str("expression", resp.Expression).
		Int("instruments", len(req.Instruments)).
		Int("depth", resp.Plan.Depth).
		Bool("full", resp.Plan.Full).
		Msg("Evaluating expression")

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, instrument := range req.Instruments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resp.Results[i] = e.evaluateOne(gctx, tree, snapshot, resp, instrument, req, asOf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range resp.Results {
		if r.Err != nil {
			failed++
		}
	}
	log.Info().
		Str("expression", resp.Expression).
		Int("instruments", len(req.Instruments)).
		Int("failed", failed).
		Dur("duration", time.Since(started)).
		Msg("Evaluation completed")

	return resp, nil
}

func (e *Engine) evaluateOne(
	ctx context.Context,
	tree expr.Expression,
	snapshot *expr.MapSource,
	resp *Response,
	instrument string,
	req Request,
	asOf time.Time,
) Result {
	result := Result{Instrument: instrument}
	key := cache.Key(resp.Expression, instrument, req.Start, req.End, asOf)

	if s, ok := e.cached(key); ok {
		result.Series = s
		result.Points = s.Points()
		result.Cached = true
		return result
	}

	if err := e.prefetch(ctx, snapshot, resp.Plan, instrument, asOf); err != nil {
		return failure(result, err)
	}

	s, err := pointInTime(ctx, tree, instrument, req.Start, req.End)
	if err != nil {
		return failure(result, err)
	}

	result.Series = s
	result.Points = s.Points()

	if e.cache != nil && e.cfg.CacheTTL > 0 {
		if err := e.cache.Store(key, instrument, s, e.cfg.CacheTTL); err != nil {
			e.log.Warn().Err(err).Str("instrument", instrument).Msg("Failed to cache evaluation")
		}
	}
	return result
}

// pointInTime evaluates tree once per back-index from start down to end and
// keeps the latest entry of each evaluation, oldest first. Back-indices past
// the available history yield nothing.
func pointInTime(ctx context.Context, tree expr.Expression, instrument string, start, end int) (series.Series, error) {
	var (
		periods []period.Code
		values  []float64
	)
	for i := start; i >= end; i-- {
		if err := ctx.Err(); err != nil {
			return series.Empty(), err
		}
		s, err := tree.Load(ctx, instrument, i, i)
		if err != nil {
			return series.Empty(), err
		}
		if s.Empty() {
			continue
		}
		p, v := s.Last()
		if n := len(periods); n > 0 && p <= periods[n-1] {
			continue
		}
		periods = append(periods, p)
		values = append(values, v)
	}
	return series.New(periods, values)
}

func (e *Engine) cached(key string) (series.Series, bool) {
	if e.cache == nil || e.cfg.CacheTTL <= 0 {
		return series.Empty(), false
	}
	s, ok, err := e.cache.GetIfFresh(key)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Failed to read cached evaluation")
		return series.Empty(), false
	}
	return s, ok
}

// prefetch copies every leaf the plan names from the store into the snapshot
func (e *Engine) prefetch(ctx context.Context, snapshot *expr.MapSource, plan FetchPlan, instrument string, asOf time.Time) error {
	for _, field := range plan.Fields {
		s, err := e.store.Load(ctx, instrument, field, asOf, plan.limit())
		if err != nil {
			return fmt.Errorf("failed to prefetch %s for %s: %w", field, instrument, err)
		}
		snapshot.Set(instrument, field, s)
	}
	return nil
}

func failure(r Result, err error) Result {
	r.Err = err
	r.Error = err.Error()
	r.ErrorKind = ErrorKind(err)
	r.Points = []series.Point{}
	return r
}

// ErrorKind classifies an evaluation error for API responses
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rolling.ErrMissingPeriodData):
		return "missing_period_data"
	case errors.Is(err, rolling.ErrUnsupportedAggregationType):
		return "unsupported_aggregation_type"
	case errors.Is(err, expr.ErrUnsupportedFrequency):
		return "unsupported_frequency"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Expression) == "":
		return fmt.Errorf("%w: expression is required", ErrInvalidRequest)
	case len(req.Instruments) == 0:
		return fmt.Errorf("%w: at least one instrument is required", ErrInvalidRequest)
	case req.End < 0:
		return fmt.Errorf("%w: end %d is negative", ErrInvalidRequest, req.End)
	case req.Start < req.End:
		return fmt.Errorf("%w: start %d is after end %d", ErrInvalidRequest, req.Start, req.End)
	case req.Start > MaxStart:
		return fmt.Errorf("%w: start %d exceeds %d", ErrInvalidRequest, req.Start, MaxStart)
	}
	for _, inst := range req.Instruments {
		if strings.TrimSpace(inst) == "" {
			return fmt.Errorf("%w: empty instrument", ErrInvalidRequest)
		}
	}
	return nil
}
