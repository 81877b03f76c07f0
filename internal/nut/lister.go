package nut

import "context"

// Variable holds a single NUT variable name/value pair.
// Value is the raw string received from upsd; it is never coerced here.
type Variable struct {
	Name  string
	Value string
}

// Lister abstracts one upsd connection so tests can inject a fake.
// A single Lister serves many ListVariables calls for the same server.
type Lister interface {
	ListVariables(ups string) ([]Variable, error)
	Close() error
}

// DialFunc opens a Lister for the given target.
type DialFunc func(ctx context.Context, t Target) (Lister, error)

// VarsToMap converts a []Variable slice into a name→value map for callers
// that do not care about order.
func VarsToMap(vars []Variable) map[string]string {
	m := make(map[string]string, len(vars))
	for _, v := range vars {
		m[v.Name] = v.Value
	}
	return m
}

// varSet accumulates variables in arrival order. A repeated name keeps its
// first position and takes the latest value.
type varSet struct {
	vars  []Variable
	index map[string]int
}

func (s *varSet) set(name, value string) {
	if i, ok := s.index[name]; ok {
		s.vars[i].Value = value
		return
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	s.index[name] = len(s.vars)
	s.vars = append(s.vars, Variable{Name: name, Value: value})
}

func (s *varSet) list() []Variable {
	if s.vars == nil {
		return []Variable{}
	}
	return s.vars
}
