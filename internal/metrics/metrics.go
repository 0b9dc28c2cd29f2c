// Package metrics holds ordered, named numeric measurements.
package metrics

import (
	"bytes"
	"encoding/csv"
	"maps"
	"slices"
	"strconv"
)

// Metric is a single measurement. Optional metrics are left out of terse
// reports.
type Metric struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Optional bool    `json:"optional,omitempty"`
}

// Metrics keeps insertion order. The zero value is not usable, use New.
type Metrics struct {
	entries []Metric
	index   map[string]int
}

// New returns an empty Metrics.
func New() *Metrics {
	return &Metrics{index: make(map[string]int)}
}

// FromEntries rebuilds a Metrics from its entries.
func FromEntries(entries []Metric) *Metrics {
	m := New()
	for _, e := range entries {
		m.Add(e.Name, e.Value, e.Optional)
	}
	return m
}

// Add sets name to value. An existing metric keeps its position.
func (m *Metrics) Add(name string, value float64, optional bool) {
	if i, ok := m.index[name]; ok {
		m.entries[i] = Metric{Name: name, Value: value, Optional: optional}
		return
	}
	m.index[name] = len(m.entries)
	m.entries = append(m.entries, Metric{Name: name, Value: value, Optional: optional})
}

// Get returns the value for name.
func (m *Metrics) Get(name string) (float64, bool) {
	i, ok := m.index[name]
	if !ok {
		return 0, false
	}
	return m.entries[i].Value, true
}

// Has reports whether name is set.
func (m *Metrics) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Len returns the number of metrics.
func (m *Metrics) Len() int { return len(m.entries) }

// Entries returns a copy of all metrics in order.
func (m *Metrics) Entries() []Metric { return slices.Clone(m.entries) }

// Names returns metric names in order, optionally skipping optional ones.
func (m *Metrics) Names(includeOptional bool) []string {
	names := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Optional && !includeOptional {
			continue
		}
		names = append(names, e.Name)
	}
	return names
}

// Merge adds all metrics of other, overriding values of the same name.
func (m *Metrics) Merge(other *Metrics) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		m.Add(e.Name, e.Value, e.Optional)
	}
}

// Clone returns an independent copy.
func (m *Metrics) Clone() *Metrics {
	return &Metrics{entries: slices.Clone(m.entries), index: maps.Clone(m.index)}
}

// Keep drops every metric whose name is not listed.
func (m *Metrics) Keep(names []string) {
	kept := New()
	for _, e := range m.entries {
		if slices.Contains(names, e.Name) {
			kept.Add(e.Name, e.Value, e.Optional)
		}
	}
	*m = *kept
}

// ToCSV renders a header row and a value row.
func (m *Metrics) ToCSV(includeOptional bool) string {
	var header, row []string
	for _, e := range m.entries {
		if e.Optional && !includeOptional {
			continue
		}
		header = append(header, e.Name)
		row = append(row, FormatValue(e.Value))
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	_ = w.Write(row)
	w.Flush()
	return buf.String()
}

// FormatValue prints integral values without a fraction.
func FormatValue(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DefaultBucket is the bucket for the main metrics of a run.
const DefaultBucket = "default"

// Buckets groups metrics by bucket label.
type Buckets map[string]*Metrics

// Default returns the default bucket, or nil.
func (b Buckets) Default() *Metrics { return b[DefaultBucket] }

// Labels returns bucket labels, default first then sorted.
func (b Buckets) Labels() []string {
	labels := slices.Sorted(maps.Keys(b))
	if i := slices.Index(labels, DefaultBucket); i > 0 {
		labels = append([]string{DefaultBucket}, slices.Delete(labels, i, i+1)...)
	}
	return labels
}

// Clone deep-copies all buckets.
func (b Buckets) Clone() Buckets {
	if b == nil {
		return nil
	}
	out := make(Buckets, len(b))
	for k, m := range b {
		out[k] = m.Clone()
	}
	return out
}
