package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sweeney/nut-exporter/internal/metrics"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var (
	labelNamePattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	metricNamePattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
)

// Validate checks c and returns an error wrapping ErrConfig listing every
// problem found.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		for _, e := range verrs {
			problems = append(problems, formatFieldError(e))
		}
	}

	if c.ConnectTimeout.Duration <= 0 {
		problems = append(problems, "connect_timeout must be positive")
	}
	if c.ReadTimeout.Duration <= 0 {
		problems = append(problems, "read_timeout must be positive")
	}
	for from, to := range c.RenameVars {
		switch name := metrics.PrometheusName(to); {
		case to == "":
			problems = append(problems, fmt.Sprintf("rename_vars[%s] must not be empty", from))
		case !metricNamePattern.MatchString(name):
			problems = append(problems, fmt.Sprintf("rename_vars[%s]: %q yields invalid metric name %q", from, to, name))
		}
	}
	problems = append(problems, c.checkServers()...)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// checkServers enforces the rules struct tags cannot express: server and UPS
// identity, and custom label names.
func (c *Config) checkServers() []string {
	var problems []string
	servers := make(map[string]int)

	for i, srv := range c.Servers {
		id := fmt.Sprintf("%s:%d", srv.Host, srv.Port)
		if first, dup := servers[id]; dup {
			problems = append(problems, fmt.Sprintf("servers[%d]: duplicate of servers[%d] (%s)", i, first, id))
		} else {
			servers[id] = i
		}

		names := make(map[string]struct{})
		for j, ups := range srv.UPSes {
			field := fmt.Sprintf("servers[%d].upses[%d]", i, j)
			if ups.Name != "" {
				if _, dup := names[ups.Name]; dup {
					problems = append(problems, fmt.Sprintf("%s.name: duplicate UPS name %q", field, ups.Name))
				}
				names[ups.Name] = struct{}{}
			}
			for k := range ups.Labels {
				switch {
				case slices.Contains(metrics.ReservedLabels, k):
					problems = append(problems, fmt.Sprintf("%s.labels: %q is reserved", field, k))
				case !labelNamePattern.MatchString(k):
					problems = append(problems, fmt.Sprintf("%s.labels: %q is not a valid label name", field, k))
				}
			}
		}
	}
	slices.Sort(problems)
	return problems
}

// formatFieldError creates human-readable error messages.
func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at least %s entries", field, e.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be %s or greater", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "excludesall":
		return fmt.Sprintf("%s must not contain any of %q", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
