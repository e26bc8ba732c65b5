package expr

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/pitmetrics/internal/series"
)

// Source supplies the reported history of one line item for one instrument
type Source interface {
	Series(ctx context.Context, instrument, field string) (series.Series, error)
}

// Field is the leaf expression that reads a reported line item ($$name)
type Field struct {
	name string
	src  Source
}

// NewField creates a leaf reading field name from src
func NewField(name string, src Source) *Field {
	return &Field{name: name, src: src}
}

// Name returns the line-item name
func (f *Field) Name() string {
	return f.name
}

// Load selects the entries whose back-index lies in [end, start].
// A negative end is clipped to the latest report.
func (f *Field) Load(ctx context.Context, instrument string, start, end int, freq ...string) (series.Series, error) {
	if err := CheckFrequency(freq...); err != nil {
		return series.Series{}, err
	}

	full, err := f.src.Series(ctx, instrument, f.name)
	if err != nil {
		return series.Series{}, fmt.Errorf("failed to load %s for %s: %w", f.name, instrument, err)
	}

	n := full.Len()
	return full.Slice(n-1-start, n-max(end, 0)), nil
}

// LongestBackRolling is zero for a leaf
func (f *Field) LongestBackRolling() Bound {
	return Bounded(0)
}

// ExtendedWindowSize is (0, 0) for a leaf
func (f *Field) ExtendedWindowSize() (int, int) {
	return 0, 0
}

func (f *Field) String() string {
	return "$$" + f.name
}

// MapSource is an in-memory Source keyed by instrument and field.
// A missing key yields an empty series.
type MapSource struct {
	mu   sync.RWMutex
	data map[string]map[string]series.Series
}

// NewMapSource creates an empty in-memory source
func NewMapSource() *MapSource {
	return &MapSource{data: make(map[string]map[string]series.Series)}
}

// Set stores the history of field for instrument
func (m *MapSource) Set(instrument, field string, s series.Series) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.data[instrument]
	if !ok {
		fields = make(map[string]series.Series)
		m.data[instrument] = fields
	}
	fields[field] = s
}

// Series implements Source
func (m *MapSource) Series(_ context.Context, instrument, field string) (series.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data[instrument][field], nil
}
