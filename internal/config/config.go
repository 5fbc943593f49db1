// Package config reads and validates export job files.
//
// A job file is YAML (JSON is accepted as a YAML subset) holding one or more
// jobs plus process-wide metrics and tracing settings. ${VAR} references in
// paths and DSNs are expanded from the environment at load time.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type File struct {
	// Concurrency caps how many jobs run at once; <= 0 means one.
	Concurrency int     `yaml:"concurrency" validate:"gte=0"`
	Jobs        []Job   `yaml:"jobs" validate:"required,min=1,dive"`
	Metrics     Metrics `yaml:"metrics"`
	Tracing     Tracing `yaml:"tracing"`
}

type Job struct {
	Name    string   `yaml:"name" validate:"required"`
	Source  Source   `yaml:"source"`
	Runtime Runtime  `yaml:"runtime"`
	Outputs []Output `yaml:"outputs" validate:"required,min=1,dive"`
}

// Source describes the snapshot the job reads and the source store's
// metadata needed to classify its columns.
type Source struct {
	Kind     string `yaml:"kind" validate:"required,oneof=csv json html xlsx"`
	Path     string `yaml:"path" validate:"required"`
	Selector string `yaml:"selector"` // html
	Sheet    string `yaml:"sheet"`    // xlsx
	Comma    string `yaml:"comma" validate:"omitempty,len=1"`

	// Database names the source store in document metadata.
	Database string `yaml:"database"`
	Category string `yaml:"category" validate:"required"`
	// View marks a cursor over a grouped view rather than a whole category.
	View bool `yaml:"view"`
	// Shared selects the 3-segment identifier layout.
	Shared          bool   `yaml:"shared"`
	Identifier      *bool  `yaml:"identifier"`
	IdentifierField string `yaml:"identifier_field"`
	ViewDelimiter   string `yaml:"view_delimiter"`

	Connections []Connection                 `yaml:"connections" validate:"dive"`
	FieldTypes  map[string]map[string]string `yaml:"field_types"`
	Connected   []ConnectedSource            `yaml:"connected" validate:"dive"`
}

type Connection struct {
	Name     string `yaml:"name" validate:"required"`
	Category string `yaml:"category" validate:"required"`
}

// ConnectedSource is a connection-only snapshot for one category.
type ConnectedSource struct {
	Category string `yaml:"category" validate:"required"`
	Kind     string `yaml:"kind" validate:"required,oneof=csv json html xlsx"`
	Path     string `yaml:"path" validate:"required"`
	Selector string `yaml:"selector"`
	Sheet    string `yaml:"sheet"`
}

type Runtime struct {
	BatchSize        int     `yaml:"batch_size" validate:"gte=0"`
	MaxFieldLength   int     `yaml:"max_field_length" validate:"gte=0"`
	NonTextDelimiter string  `yaml:"non_text_delimiter"`
	FirstSeenWins    bool    `yaml:"first_seen_wins"`
	Staging          Staging `yaml:"staging"`
}

type Staging struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite duckdb"`
	Dir    string `yaml:"dir"`
}

type Output struct {
	Format string `yaml:"format" validate:"required,oneof=json xml xlsx sql"`
	// Path is a file path or s3://bucket/key; unused for sql.
	Path string `yaml:"path"`
	// Kind and DSN select the relational store for sql outputs.
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
	S3   S3     `yaml:"s3"`
}

type S3 struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type Metrics struct {
	Backend string   `yaml:"backend" validate:"omitempty,oneof=none datadog"`
	Service string   `yaml:"service"`
	Tags    []string `yaml:"tags"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Load reads path and expands environment references.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a job file. Unknown keys are rejected.
func Parse(b []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config: empty job file")
		}
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	f.expand()
	return &f, nil
}

func (f *File) expand() {
	f.Tracing.Endpoint = os.ExpandEnv(f.Tracing.Endpoint)
	for i := range f.Jobs {
		j := &f.Jobs[i]
		j.Source.Path = os.ExpandEnv(j.Source.Path)
		j.Runtime.Staging.Dir = os.ExpandEnv(j.Runtime.Staging.Dir)
		for k := range j.Source.Connected {
			j.Source.Connected[k].Path = os.ExpandEnv(j.Source.Connected[k].Path)
		}
		for k := range j.Outputs {
			j.Outputs[k].Path = os.ExpandEnv(j.Outputs[k].Path)
			j.Outputs[k].DSN = os.ExpandEnv(j.Outputs[k].DSN)
		}
	}
}

// HasIdentifier reports whether the cursor's first column holds item
// identifiers; it does unless the job says otherwise.
func (s Source) HasIdentifier() bool {
	return s.Identifier == nil || *s.Identifier
}

// DocumentKind is "view" or "category".
func (s Source) DocumentKind() string {
	if s.View {
		return "view"
	}
	return "category"
}
