// Package metrics maps raw NUT variables to Prometheus-style samples and
// renders them in the text exposition format. There is no network I/O and no
// shared state; all functions are safe to call from any goroutine.
package metrics

// Label is one name="value" pair on a sample.
type Label struct {
	Name  string
	Value string
}

// Labels is an ordered label set. Order is preserved on output.
type Labels []Label

// Get returns the value of the named label.
func (ls Labels) Get(name string) (string, bool) {
	for _, l := range ls {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Sample is one exposition line.
type Sample struct {
	Name   string  // Prometheus metric name, e.g. nut_battery_charge
	Value  float64 // parsed value, or 1 for string-valued variables
	Labels Labels
	Help   string

	// Source is the (possibly renamed) NUT variable name the sample was
	// derived from; Raw is the value exactly as upsd sent it.
	Source string
	Raw    string
}

// Result collects samples from one collection pass, grouped by metric name.
// Metric names and the samples within each name keep insertion order.
type Result struct {
	order   []string
	samples map[string][]Sample
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{samples: make(map[string][]Sample)}
}

// Add appends samples, creating new metric groups as needed.
func (r *Result) Add(samples ...Sample) {
	for _, s := range samples {
		if _, ok := r.samples[s.Name]; !ok {
			r.order = append(r.order, s.Name)
		}
		r.samples[s.Name] = append(r.samples[s.Name], s)
	}
}

// Names returns metric names in first-seen order.
func (r *Result) Names() []string {
	return append([]string(nil), r.order...)
}

// Samples returns the samples recorded under name.
func (r *Result) Samples(name string) []Sample {
	return r.samples[name]
}

// All returns every sample, grouped by name in first-seen order.
func (r *Result) All() []Sample {
	out := make([]Sample, 0, r.Len())
	for _, name := range r.order {
		out = append(out, r.samples[name]...)
	}
	return out
}

// Len returns the total number of samples.
func (r *Result) Len() int {
	n := 0
	for _, s := range r.samples {
		n += len(s)
	}
	return n
}
