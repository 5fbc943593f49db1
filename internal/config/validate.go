package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"itemexport/internal/catalog"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses job file keys, e.g.
// "jobs[0].outputs[1].dsn".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// SQLKinds are the relational stores an sql output can target.
var SQLKinds = []string{"postgres", "mssql", "mysql", "sqlite"}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks f and returns every issue found, errors and warnings.
func Validate(f *File) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if err := structValidator.Struct(f); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			add(SeverityError, "", "%v", err)
			return issues
		}
		for _, fe := range ves {
			add(SeverityError, fieldPath(fe.Namespace()), "%s", tagMessage(fe))
		}
	}

	names := map[string]int{}
	for i, j := range f.Jobs {
		base := fmt.Sprintf("jobs[%d]", i)
		if prev, ok := names[j.Name]; ok && j.Name != "" {
			add(SeverityError, base+".name", "duplicate job name %q (also jobs[%d])", j.Name, prev)
		}
		names[j.Name] = i
		validateSource(j.Source, base+".source", add)
		validateRuntime(j.Runtime, base+".runtime", add)
		validateOutputs(j.Outputs, base+".outputs", add)
	}

	if f.Metrics.Backend == "datadog" && os.Getenv("DD_API_KEY") == "" {
		add(SeverityWarning, "metrics.backend", "DD_API_KEY is not set; metric submission will fail")
	}
	return issues
}

type addFunc func(sev Severity, path, format string, args ...any)

func validateSource(s Source, path string, add addFunc) {
	for cat, fields := range s.FieldTypes {
		for field, typ := range fields {
			if _, ok := catalog.ParseScalarType(typ); !ok {
				add(SeverityError, fmt.Sprintf("%s.field_types.%s.%s", path, cat, field),
					"unknown type %q (want text, number, date, time, boolean or sequence)", typ)
			}
		}
	}

	seen := map[catalog.Connection]bool{}
	targets := map[string]bool{}
	for i, c := range s.Connections {
		k := catalog.Connection{Name: c.Name, Category: c.Category}
		if seen[k] {
			add(SeverityWarning, fmt.Sprintf("%s.connections[%d]", path, i), "connection %q to %s listed twice", c.Name, c.Category)
		}
		seen[k] = true
		targets[strings.ToLower(c.Category)] = true
	}
	for i, c := range s.Connected {
		if !targets[strings.ToLower(c.Category)] {
			add(SeverityError, fmt.Sprintf("%s.connected[%d].category", path, i),
				"category %q is not the target of any connection", c.Category)
		}
	}
	if s.View && s.ViewDelimiter == "" && len(s.Connections) == 0 {
		add(SeverityWarning, path+".view", "view without connections or view_delimiter exports direct fields only")
	}
}

func validateRuntime(r Runtime, path string, add addFunc) {
	if r.MaxFieldLength > 0 && r.MaxFieldLength < 64 {
		add(SeverityWarning, path+".max_field_length", "limit %d will truncate most multi-valued cells", r.MaxFieldLength)
	}
	if r.BatchSize > 100_000 {
		add(SeverityWarning, path+".batch_size", "batch of %d rows holds one large transaction open", r.BatchSize)
	}
}

func validateOutputs(outs []Output, path string, add addFunc) {
	targets := map[string]int{}
	for i, o := range outs {
		p := fmt.Sprintf("%s[%d]", path, i)
		if o.Format == "sql" {
			if !contains(SQLKinds, o.Kind) {
				add(SeverityError, p+".kind", "sql output needs kind one of %s", strings.Join(SQLKinds, ", "))
			}
			if o.DSN == "" {
				add(SeverityError, p+".dsn", "sql output needs a dsn")
			}
			continue
		}
		if o.Path == "" {
			add(SeverityError, p+".path", "%s output needs a path", o.Format)
			continue
		}
		if prev, ok := targets[o.Path]; ok {
			add(SeverityError, p+".path", "path %q already written by %s[%d]", o.Path, path, prev)
		}
		targets[o.Path] = i
	}
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// fieldPath drops the root type name: "File.jobs[0].name" -> "jobs[0].name".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s character", fe.Param())
	}
	return fmt.Sprintf("failed %q", fe.Tag())
}
