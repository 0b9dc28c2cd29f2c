package metrics

import "slices"

// Reducer folds the values of one metric across invocations.
type Reducer func(values []float64) float64

// Built-in reducers.
var (
	Avg Reducer = func(values []float64) float64 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
	Min Reducer = func(values []float64) float64 { return slices.Min(values) }
	Max Reducer = func(values []float64) float64 { return slices.Max(values) }
)

// Reducers maps reducer names to implementations.
var Reducers = map[string]Reducer{"avg": Avg, "min": Min, "max": Max}

// Reduce combines several Metrics into one. Metric order follows the first
// element; a metric missing from some elements is reduced over the values
// that are present.
func Reduce(all []*Metrics, fn Reducer) *Metrics {
	out := New()
	if len(all) == 0 {
		return out
	}
	var order []Metric
	seen := make(map[string]bool)
	for _, m := range all {
		for _, e := range m.entries {
			if !seen[e.Name] {
				seen[e.Name] = true
				order = append(order, e)
			}
		}
	}
	for _, e := range order {
		var values []float64
		for _, m := range all {
			if v, ok := m.Get(e.Name); ok {
				values = append(values, v)
			}
		}
		out.Add(e.Name, fn(values), e.Optional)
	}
	return out
}
