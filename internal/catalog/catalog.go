// Package catalog describes the reported line items and which financial statement
// each belongs to. The statement decides the default TTM aggregation: balance-sheet
// snapshots are averaged, income and cash-flow figures are telescoped.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/pitmetrics/internal/rolling"
)

// Kind is the statement a line item is reported on
type Kind string

const (
	// KindBalance is a point-in-time balance-sheet figure
	KindBalance Kind = "balance"
	// KindFlow is a cumulative income-statement or cash-flow figure
	KindFlow Kind = "flow"
)

// Field is one catalog entry
type Field struct {
	Name        string `yaml:"name"`
	Kind        Kind   `yaml:"kind"`
	Description string `yaml:"description,omitempty"`
}

// Catalog is a set of known line items.
// The zero value is an empty catalog that accepts every field.
type Catalog struct {
	fields map[string]Field
}

type file struct {
	Fields []Field `yaml:"fields"`
}

// New builds a catalog from entries, rejecting duplicates and unknown kinds
func New(fields []Field) (*Catalog, error) {
	c := &Catalog{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("catalog field without name")
		}
		if f.Kind != KindBalance && f.Kind != KindFlow {
			return nil, fmt.Errorf("catalog field %s: unknown kind %q", f.Name, f.Kind)
		}
		if _, dup := c.fields[f.Name]; dup {
			return nil, fmt.Errorf("catalog field %s declared twice", f.Name)
		}
		c.fields[f.Name] = f
	}
	return c, nil
}

// Parse decodes a YAML catalog document
func Parse(data []byte) (*Catalog, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse field catalog: %w", err)
	}
	return New(doc.Fields)
}

// Load reads a YAML catalog from path. An empty path yields an empty catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field catalog: %w", err)
	}
	return Parse(data)
}

// Len returns the number of declared fields
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.fields)
}

// Known reports whether name may be stored and queried.
// An empty catalog knows every field.
func (c *Catalog) Known(name string) bool {
	if c.Len() == 0 {
		return true
	}
	_, ok := c.fields[name]
	return ok
}

// Lookup returns the entry for name
func (c *Catalog) Lookup(name string) (Field, bool) {
	if c == nil {
		return Field{}, false
	}
	f, ok := c.fields[name]
	return f, ok
}

// DefaultMode is the TTM mode used when an expression does not name one.
// Undeclared fields fall back to BalanceSheetAverage.
func (c *Catalog) DefaultMode(name string) rolling.Mode {
	if f, ok := c.Lookup(name); ok && f.Kind == KindFlow {
		return rolling.FlowTelescoping
	}
	return rolling.BalanceSheetAverage
}
