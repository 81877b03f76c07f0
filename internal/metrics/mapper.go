package metrics

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sweeney/nut-exporter/internal/nut"
)

// StringHelp is the help text of every string-valued sample.
const StringHelp = "String-valued NUT metrics"

// Label names the mapper owns. Custom labels never override them.
const (
	LabelUPS    = "ups"
	LabelServer = "server"
	LabelKey    = "key"
	LabelValue  = "value"
)

// ReservedLabels lists label names that custom UPS labels may not use.
var ReservedLabels = []string{LabelUPS, LabelServer, LabelKey, LabelValue}

// Target identifies the UPS a variable set came from.
type Target struct {
	UPS    string
	Server string            // host only, without port
	Labels map[string]string // custom labels from configuration
}

// Rules controls which variables are exported and under which names.
type Rules struct {
	// Filter, when non-empty, is the allow-list of raw variable names.
	Filter []string
	// Rename maps raw variable names to the name used for metric naming.
	Rename map[string]string
}

// Mapper applies Rules to variable sets.
type Mapper struct {
	filter map[string]struct{}
	rename map[string]string
}

// NewMapper builds a Mapper for rules.
func NewMapper(rules Rules) *Mapper {
	m := &Mapper{rename: rules.Rename}
	if len(rules.Filter) > 0 {
		m.filter = make(map[string]struct{}, len(rules.Filter))
		for _, name := range rules.Filter {
			m.filter[name] = struct{}{}
		}
	}
	return m
}

// Map converts vars into samples, in vars order. Numeric values become
// samples carrying the number; anything else becomes a value-1 sample with
// key and value labels.
func (m *Mapper) Map(t Target, vars []nut.Variable) []Sample {
	base := baseLabels(t)
	samples := make([]Sample, 0, len(vars))

	for _, v := range vars {
		if !m.keep(v.Name) {
			continue
		}
		source := m.renamed(v.Name)
		s := Sample{Name: PrometheusName(source), Source: source, Raw: v.Value}

		if f, ok := ParseNumber(v.Value); ok {
			s.Value = f
			s.Labels = slices.Clone(base)
			s.Help = HelpText(source)
		} else {
			s.Value = 1
			s.Labels = append(slices.Clone(base),
				Label{Name: LabelKey, Value: source},
				Label{Name: LabelValue, Value: v.Value},
			)
			s.Help = StringHelp
		}
		samples = append(samples, s)
	}
	return samples
}

func (m *Mapper) keep(name string) bool {
	if m.filter == nil {
		return true
	}
	_, ok := m.filter[name]
	return ok
}

func (m *Mapper) renamed(name string) string {
	if r, ok := m.rename[name]; ok {
		return r
	}
	return name
}

// baseLabels returns ups, server, then custom labels sorted by name.
// Custom labels using a reserved name are dropped.
func baseLabels(t Target) Labels {
	ls := make(Labels, 0, 2+len(t.Labels))
	ls = append(ls, Label{Name: LabelUPS, Value: t.UPS}, Label{Name: LabelServer, Value: t.Server})

	keys := make([]string, 0, len(t.Labels))
	for k := range t.Labels {
		if !slices.Contains(ReservedLabels, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		ls = append(ls, Label{Name: k, Value: t.Labels[k]})
	}
	return ls
}

var metricNameReplacer = strings.NewReplacer(".", "_", "-", "_")

// PrometheusName lowercases name, maps '.' and '-' to '_' and adds the nut_
// prefix.
func PrometheusName(name string) string {
	return "nut_" + metricNameReplacer.Replace(strings.ToLower(name))
}

// HelpText turns a variable name into a sentence-cased description,
// e.g. battery.charge → "Battery charge".
func HelpText(name string) string {
	s := strings.ReplaceAll(name, ".", " ")
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// decimalPattern is the only numeric grammar accepted: optional sign, digits
// with an optional fraction (or a bare fraction), optional exponent.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ParseNumber reports whether s is a decimal number and returns its value.
// NaN, Inf, hex and padded strings are not numbers. Values beyond float64
// range parse as ±Inf.
func ParseNumber(s string) (float64, bool) {
	if !decimalPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}
