package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aristath/pitmetrics/internal/parse"
	"github.com/aristath/pitmetrics/internal/period"
	"github.com/aristath/pitmetrics/internal/series"
)

// cumulative year-to-date net profit, 201601..201804
var ytd = []float64{10, 25, 45, 70, 12, 30, 51, 80, 15, 33, 56, 90}

func ytdSeries(from period.Code, values []float64) series.Series {
	periods := make([]period.Code, len(values))
	p := from
	for i := range values {
		periods[i] = p
		p = p.Next()
	}
	return series.MustNew(periods, values)
}

type loadCall struct {
	instrument, field string
	asOf              time.Time
	limit             int
}

type fakeStore struct {
	mu    sync.Mutex
	data  map[string]series.Series
	calls []loadCall
	err   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]series.Series)}
}

func (f *fakeStore) set(instrument, field string, s series.Series) {
	f.data[instrument+"/"+field] = s
}

func (f *fakeStore) Load(_ context.Context, instrument, field string, asOf time.Time, limit int) (series.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, loadCall{instrument, field, asOf, limit})
	if f.err != nil {
		return series.Empty(), f.err
	}
	s, ok := f.data[instrument+"/"+field]
	if !ok {
		return series.Empty(), nil
	}
	if limit > 0 && s.Len() > limit {
		s = s.Slice(s.Len()-limit, s.Len())
	}
	return s, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]series.Series
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]series.Series)}
}

func (c *fakeCache) GetIfFresh(key string) (series.Series, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	return s, ok, nil
}

func (c *fakeCache) Store(key, _ string, s series.Series, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = s
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestPlan(t *testing.T) {
	testCases := []struct {
		expression string
		start      int
		left       int
		depth      int
		full       bool
	}{
		{"$$net_profit", 0, 0, 1, false},
		{"$$net_profit", 5, 0, 6, false},
		{"TTM($$net_profit, 3, 2)", 1, 7, 9, false},
		{"LYR($$net_profit, 2)", 0, 5, 6, false},
		{"LYR(TTM($$net_profit, 1, 2), 4)", 2, 12, 15, false},
		{"TTM($$net_profit, 0, 2)", 1, 4, 0, true},
		{"LYR(TTM($$net_profit, 0, 2), 1)", 0, 8, 0, true},
		{"TTM($$net_profit, -3, 2)", 0, 1, 2, false},
		{"TTM($$net_profit, -9, 2)", 0, -5, 1, false},
	}

	for _, tc := range testCases {
		t.Run(tc.expression, func(t *testing.T) {
			e, err := parse.Parse(tc.expression, nil, nil)
			require.NoError(t, err)

			plan := Plan(e, tc.start)
			assert.Equal(t, tc.left, plan.Left)
			assert.Equal(t, 0, plan.Right)
			assert.Equal(t, tc.full, plan.Full)
			assert.Equal(t, tc.full, plan.Bound.IsUnbounded())
			assert.Equal(t, tc.depth, plan.Depth)
			assert.Equal(t, []string{"net_profit"}, plan.Fields)
		})
	}
}

func TestEvaluate_FetchesPlannedDepth(t *testing.T) {
	store := newFakeStore()
	store.set("AAPL", "net_profit", ytdSeries(201601, ytd))
	eng := New(store, nil, nil, Config{Concurrency: 2}, testLogger())

	asOf := time.Date(2018, 12, 1, 9, 30, 0, 0, time.UTC)
	resp, err := eng.Evaluate(context.Background(), Request{
		Expression:  "P(TTM($$net_profit, 3, 2))",
		Instruments: []string{"AAPL"},
		Start:       1,
		End:         1,
		AsOf:        asOf,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "TTM($$net_profit, 3, 2)", resp.Expression)
	require.Len(t, resp.Results, 1)

	// three periods back from 201803 is the annual 201704 figure
	r := resp.Results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, []period.Code{201704}, r.Series.Periods())
	assert.Equal(t, []float64{80}, r.Series.Values())
	assert.Len(t, r.Points, 1)

	require.Len(t, store.calls, 1)
	assert.Equal(t, 9, store.calls[0].limit)
	assert.Equal(t, asOf, store.calls[0].asOf)
}

func TestEvaluate_EachPeriodGetsItsOwnFigure(t *testing.T) {
	store := newFakeStore()
	store.set("AAPL", "net_profit", ytdSeries(201601, ytd))
	eng := New(store, nil, nil, Config{Concurrency: 1}, testLogger())

	testCases := []struct {
		expression string
		periods    []period.Code
		values     []float64
	}{
		// 33+80-30, 56+80-51, annual
		{"TTM($$net_profit, 0, 2)", []period.Code{201802, 201803, 201804}, []float64{83, 85, 90}},
		// 201704 stands in for every quarter of 2018
		{"LYR($$net_profit, 0)", []period.Code{201802, 201803, 201804}, []float64{80, 80, 90}},
		{"$$net_profit", []period.Code{201802, 201803, 201804}, []float64{33, 56, 90}},
	}

	for _, tc := range testCases {
		t.Run(tc.expression, func(t *testing.T) {
			resp, err := eng.Evaluate(context.Background(), Request{
				Expression: tc.expression, Instruments: []string{"AAPL"}, Start: 2, End: 0,
			})
			require.NoError(t, err)

			r := resp.Results[0]
			require.NoError(t, r.Err)
			assert.Equal(t, tc.periods, r.Series.Periods())
			assert.Equal(t, tc.values, r.Series.Values())
		})
	}
}

func TestEvaluate_WindowPastHistory(t *testing.T) {
	store := newFakeStore()
	store.set("NEWCO", "net_profit", ytdSeries(201801, []float64{1, 2, 3}))
	eng := New(store, nil, nil, Config{}, testLogger())

	resp, err := eng.Evaluate(context.Background(), Request{
		Expression: "$$net_profit", Instruments: []string{"NEWCO"}, Start: 6, End: 0,
	})
	require.NoError(t, err)
	r := resp.Results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, []period.Code{201801, 201802, 201803}, r.Series.Periods())
}

func TestEvaluate_AsOfIsNotRounded(t *testing.T) {
	store := newFakeStore()
	store.set("AAPL", "net_profit", ytdSeries(201601, ytd))
	eng := New(store, newFakeCache(), nil, Config{CacheTTL: time.Hour}, testLogger())

	morning := time.Date(2018, 4, 28, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2018, 4, 28, 19, 0, 0, 0, time.UTC)

	for _, asOf := range []time.Time{morning, evening} {
		resp, err := eng.Evaluate(context.Background(), Request{
			Expression: "$$net_profit", Instruments: []string{"AAPL"}, AsOf: asOf,
		})
		require.NoError(t, err)
		assert.False(t, resp.Results[0].Cached, "%s must not reuse another instant's result", asOf)
	}

	require.Len(t, store.calls, 2)
	assert.Equal(t, morning, store.calls[0].asOf)
	assert.Equal(t, evening, store.calls[1].asOf)
}

func TestEvaluate_MatchesFullHistory(t *testing.T) {
	// two quarters published after the cut are simply absent from the store
	store := newFakeStore()
	store.set("AAPL", "net_profit", ytdSeries(201601, ytd[:10]))

	expressions := []string{
		"TTM($$net_profit, 2, 2)",
		"TTM($$net_profit, 1, 1)",
		"LYR($$net_profit, 1)",
		"LYR(TTM($$net_profit, 1, 2), 1)",
	}

	for _, expression := range expressions {
		t.Run(expression, func(t *testing.T) {
			eng := New(store, nil, nil, Config{Concurrency: 1}, testLogger())
			resp, err := eng.Evaluate(context.Background(), Request{
				Expression: expression, Instruments: []string{"AAPL"}, Start: 1, End: 0,
			})
			require.NoError(t, err)

			e, err := parse.Parse(expression, fullSource{store}, nil)
			require.NoError(t, err)
			want, err := pointInTime(context.Background(), e, "AAPL", 1, 0)
			require.NoError(t, err)
			require.Equal(t, 2, want.Len())

			got := resp.Results[0]
			require.NoError(t, got.Err)
			assert.True(t, want.Equal(got.Series), "want %v got %v", want.Values(), got.Series.Values())
		})
	}
}

// fullSource reads the whole history without a limit
type fullSource struct{ store *fakeStore }

func (f fullSource) Series(ctx context.Context, instrument, field string) (series.Series, error) {
	return f.store.Load(ctx, instrument, field, time.Time{}, 0)
}

func TestEvaluate_PerInstrumentFailures(t *testing.T) {
	store := newFakeStore()
	store.set("AAPL", "net_profit", ytdSeries(201601, ytd))
	// no annual report before 201803
	store.set("NEWCO", "net_profit", ytdSeries(201801, []float64{1, 2, 3}))

	eng := New(store, nil, nil, Config{Concurrency: 4}, testLogger())
	resp, err := eng.Evaluate(context.Background(), Request{
		Expression:  "LYR($$net_profit, 0)",
		Instruments: []string{"AAPL", "NEWCO"},
		Start:       1,
		End:         1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Plan.Full)

	aapl := resp.Results[0]
	require.NoError(t, aapl.Err)
	_, tail := aapl.Series.Last()
	assert.Equal(t, 80.0, tail)

	newco := resp.Results[1]
	assert.Error(t, newco.Err)
	assert.Equal(t, "missing_period_data", newco.ErrorKind)
	assert.NotEmpty(t, newco.Error)
	assert.Empty(t, newco.Points)
}

func TestEvaluate_UnsupportedMode(t *testing.T) {
	store := newFakeStore()
	store.set("AAPL", "net_profit", ytdSeries(201601, ytd))
	eng := New(store, nil, nil, Config{}, testLogger())

	resp, err := eng.Evaluate(context.Background(), Request{
		Expression: "TTM($$net_profit, 0, 9)", Instruments: []string{"AAPL"},
	})
	require.NoError(t, err)
	assert.Equal(t, "unsupported_aggregation_type", resp.Results[0].ErrorKind)
}

func TestEvaluate_UsesCache(t *testing.T) {
	store := newFakeStore()
	store.set("AAPL", "net_profit", ytdSeries(201601, ytd))
	c := newFakeCache()
	eng := New(store, c, nil, Config{Concurrency: 1, CacheTTL: time.Hour}, testLogger())

	req := Request{Expression: "TTM($$net_profit, 1, 2)", Instruments: []string{"AAPL"}}

	first, err := eng.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Results[0].Cached)
	assert.Equal(t, 1, store.callCount())

	second, err := eng.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Results[0].Cached)
	assert.True(t, first.Results[0].Series.Equal(second.Results[0].Series))
	assert.Equal(t, 1, store.callCount())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestEvaluate_FailuresAreNotCached(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("disk on fire")
	c := newFakeCache()
	eng := New(store, c, nil, Config{CacheTTL: time.Hour}, testLogger())

	resp, err := eng.Evaluate(context.Background(), Request{
		Expression: "$$net_profit", Instruments: []string{"AAPL"},
	})
	require.NoError(t, err)
	assert.Equal(t, "internal", resp.Results[0].ErrorKind)
	assert.Contains(t, resp.Results[0].Error, "disk on fire")
	assert.Empty(t, c.entries)
}

func TestEvaluate_InvalidRequests(t *testing.T) {
	eng := New(newFakeStore(), nil, nil, Config{}, testLogger())

	testCases := []struct {
		name string
		req  Request
		want error
	}{
		{"no expression", Request{Instruments: []string{"A"}}, ErrInvalidRequest},
		{"no instruments", Request{Expression: "$$x"}, ErrInvalidRequest},
		{"blank instrument", Request{Expression: "$$x", Instruments: []string{" "}}, ErrInvalidRequest},
		{"start after end", Request{Expression: "$$x", Instruments: []string{"A"}, Start: 0, End: 1}, ErrInvalidRequest},
		{"negative end", Request{Expression: "$$x", Instruments: []string{"A"}, Start: 0, End: -1}, ErrInvalidRequest},
		{"start too far back", Request{Expression: "$$x", Instruments: []string{"A"}, Start: MaxStart + 1}, ErrInvalidRequest},
		{"huge start", Request{Expression: "$$x", Instruments: []string{"A"}, Start: int(^uint(0) >> 1)}, ErrInvalidRequest},
		{"offset too large", Request{Expression: "TTM($$x, 100000, 2)", Instruments: []string{"A"}}, parse.ErrSyntax},
		{"syntax", Request{Expression: "TTM($$x", Instruments: []string{"A"}}, parse.ErrSyntax},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Evaluate(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEvaluate_Canceled(t *testing.T) {
	store := newFakeStore()
	eng := New(store, nil, nil, Config{Concurrency: 2}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Evaluate(ctx, Request{Expression: "$$x", Instruments: []string{"A", "B", "C"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_ManyInstrumentsNoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	instruments := make([]string, 50)
	for i := range instruments {
		instruments[i] = fmt.Sprintf("INST%02d", i)
		scaled := make([]float64, len(ytd))
		for j, v := range ytd {
			scaled[j] = v * float64(i+1)
		}
		store.set(instruments[i], "net_profit", ytdSeries(201601, scaled))
	}

	eng := New(store, nil, nil, Config{Concurrency: 8}, testLogger())
	resp, err := eng.Evaluate(context.Background(), Request{
		Expression: "TTM($$net_profit, 0, 2)", Instruments: instruments, Start: 1, End: 1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 50)

	for i, r := range resp.Results {
		require.NoError(t, r.Err, r.Instrument)
		assert.Equal(t, instruments[i], r.Instrument)
		// 201803: 56 + 80 - 51 = 85
		_, tail := r.Series.Last()
		assert.InDelta(t, 85*float64(i+1), tail, 1e-9)
	}
}

func TestExplain(t *testing.T) {
	eng := New(newFakeStore(), nil, nil, Config{}, testLogger())

	canonical, plan, err := eng.Explain("p( ttm($$net_profit,2,2) )", 0)
	require.NoError(t, err)
	assert.Equal(t, "TTM($$net_profit, 2, 2)", canonical)
	assert.Equal(t, 7, plan.Depth)

	_, _, err = eng.Explain("LYR(", 0)
	assert.ErrorIs(t, err, parse.ErrSyntax)

	_, _, err = eng.Explain("$$net_profit", MaxStart+1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "canceled", ErrorKind(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}
