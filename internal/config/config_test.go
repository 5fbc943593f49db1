package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"itemexport/internal/catalog"
)

const validJob = `
concurrency: 2
jobs:
  - name: contacts
    source:
      kind: csv
      path: ${EXPORT_IN}/contacts.csv
      database: crm
      category: Contact
      connections:
        - name: Works At
          category: Company
      field_types:
        Contact:
          Age: number
      connected:
        - category: company
          kind: json
          path: ${EXPORT_IN}/companies.json
    runtime:
      batch_size: 500
      max_field_length: 4096
      staging:
        driver: sqlite
    outputs:
      - format: json
        path: out/contacts.json
      - format: sql
        kind: postgres
        dsn: postgres://u:p@localhost/${EXPORT_DB}
metrics:
  backend: none
`

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("EXPORT_IN", "/data/in")
	t.Setenv("EXPORT_DB", "items")

	f, err := Parse([]byte(validJob))
	require.NoError(t, err)
	require.Equal(t, 2, f.Concurrency)
	require.Len(t, f.Jobs, 1)

	j := f.Jobs[0]
	require.Equal(t, "/data/in/contacts.csv", j.Source.Path)
	require.Equal(t, "/data/in/companies.json", j.Source.Connected[0].Path)
	require.Equal(t, "postgres://u:p@localhost/items", j.Outputs[1].DSN)
	require.True(t, j.Source.HasIdentifier())
	require.Equal(t, "category", j.Source.DocumentKind())

	require.Empty(t, Validate(f))
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("jobs:\n  - name: x\n    sauce: {}\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "sauce")
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()
	_, err := Parse(nil)
	require.EqualError(t, err, "config: empty job file")
}

func TestLoad(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(p, []byte(strings.ReplaceAll(validJob, "${EXPORT_IN}", "in")), 0o644))

	f, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "in/contacts.csv", f.Jobs[0].Source.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func baseFile() *File {
	return &File{Jobs: []Job{{
		Name: "people",
		Source: Source{
			Kind:        "csv",
			Path:        "people.csv",
			Category:    "Person",
			Connections: []Connection{{Name: "Works At", Category: "Company"}},
		},
		Outputs: []Output{{Format: "json", Path: "people.json"}},
	}}}
}

func TestValidate(t *testing.T) {
	t.Setenv("DD_API_KEY", "")

	cases := []struct {
		name     string
		mutate   func(f *File)
		path     string
		severity Severity
	}{
		{"missing jobs", func(f *File) { f.Jobs = nil }, "jobs", SeverityError},
		{"missing job name", func(f *File) { f.Jobs[0].Name = "" }, "jobs[0].name", SeverityError},
		{"unknown source kind", func(f *File) { f.Jobs[0].Source.Kind = "parquet" }, "jobs[0].source.kind", SeverityError},
		{"comma too long", func(f *File) { f.Jobs[0].Source.Comma = ";;" }, "jobs[0].source.comma", SeverityError},
		{"unknown output format", func(f *File) { f.Jobs[0].Outputs[0].Format = "yaml" }, "jobs[0].outputs[0].format", SeverityError},
		{"negative batch", func(f *File) { f.Jobs[0].Runtime.BatchSize = -1 }, "jobs[0].runtime.batch_size", SeverityError},
		{"bad staging driver", func(f *File) { f.Jobs[0].Runtime.Staging.Driver = "pebble" }, "jobs[0].runtime.staging.driver", SeverityError},
		{"duplicate job", func(f *File) { f.Jobs = append(f.Jobs, f.Jobs[0]) }, "jobs[1].name", SeverityError},
		{"bad field type", func(f *File) {
			f.Jobs[0].Source.FieldTypes = map[string]map[string]string{"Person": {"Age": "integer"}}
		}, "jobs[0].source.field_types.Person.Age", SeverityError},
		{"sql without kind", func(f *File) {
			f.Jobs[0].Outputs[0] = Output{Format: "sql", DSN: "x"}
		}, "jobs[0].outputs[0].kind", SeverityError},
		{"sql without dsn", func(f *File) {
			f.Jobs[0].Outputs[0] = Output{Format: "sql", Kind: "mysql"}
		}, "jobs[0].outputs[0].dsn", SeverityError},
		{"file output without path", func(f *File) { f.Jobs[0].Outputs[0].Path = "" }, "jobs[0].outputs[0].path", SeverityError},
		{"duplicate output path", func(f *File) {
			f.Jobs[0].Outputs = append(f.Jobs[0].Outputs, Output{Format: "xml", Path: "people.json"})
		}, "jobs[0].outputs[1].path", SeverityError},
		{"connected category without connection", func(f *File) {
			f.Jobs[0].Source.Connected = []ConnectedSource{{Category: "Team", Kind: "csv", Path: "t.csv"}}
		}, "jobs[0].source.connected[0].category", SeverityError},
		{"duplicate connection", func(f *File) {
			s := &f.Jobs[0].Source
			s.Connections = append(s.Connections, s.Connections[0])
		}, "jobs[0].source.connections[1]", SeverityWarning},
		{"small field limit", func(f *File) { f.Jobs[0].Runtime.MaxFieldLength = 10 }, "jobs[0].runtime.max_field_length", SeverityWarning},
		{"huge batch", func(f *File) { f.Jobs[0].Runtime.BatchSize = 1_000_000 }, "jobs[0].runtime.batch_size", SeverityWarning},
		{"datadog without key", func(f *File) { f.Metrics.Backend = "datadog" }, "metrics.backend", SeverityWarning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := baseFile()
			tc.mutate(f)
			issues := Validate(f)

			var found *Issue
			for i := range issues {
				if issues[i].Path == tc.path {
					found = &issues[i]
					break
				}
			}
			require.NotNil(t, found, "no issue at %s; got %+v", tc.path, issues)
			require.Equal(t, tc.severity, found.Severity)
			require.NotEmpty(t, found.Message)
			require.Equal(t, tc.severity == SeverityError, HasErrors(issues))
		})
	}
}

func TestValidate_CleanFile(t *testing.T) {
	t.Parallel()
	require.Empty(t, Validate(baseFile()))
}

func TestSourceLookup(t *testing.T) {
	t.Parallel()
	off := false
	s := Source{
		Category:        "Person",
		Identifier:      &off,
		IdentifierField: "Key",
		Connections:     []Connection{{Name: "Works At", Category: "Company"}},
		FieldTypes:      map[string]map[string]string{"Person": {"Age": "Number", "Born": "date"}},
	}
	lk, err := s.Lookup()
	require.NoError(t, err)
	require.Equal(t, "Person", lk.PrimaryCategory())
	require.False(t, lk.HasIdentifier())
	require.Equal(t, "Key", lk.IdentifierField())
	require.Equal(t, catalog.DefaultViewDelimiter, lk.ViewDelimiter())
	require.Equal(t, []catalog.Connection{{Name: "Works At", Category: "Company"}}, lk.Connections())

	typ, ok := lk.FieldType("person", "age")
	require.True(t, ok)
	require.Equal(t, catalog.Number, typ)
	typ, _ = lk.FieldType("Person", "Born")
	require.Equal(t, catalog.Date, typ)

	s.FieldTypes["Person"]["Age"] = "int"
	_, err = s.Lookup()
	require.Error(t, err)
}
