package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONLines(t *testing.T) {
	t.Setenv("PRETTY", "")
	t.Setenv("DEBUG", "")

	var buf bytes.Buffer
	l := New(Options{Out: &buf, Component: "cli"})
	Job(l, "people").Printf("stage=ingest batch=%d rows=%d", 1, 2)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("not json: %q: %v", buf.String(), err)
	}
	if got := line["message"]; got != "stage=ingest batch=1 rows=2" {
		t.Fatalf("message=%v", got)
	}
	if line["job"] != "people" || line["component"] != "cli" {
		t.Fatalf("fields: %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatalf("no time field: %v", line)
	}
	if _, ok := line["caller"]; !ok {
		t.Fatalf("no caller field: %v", line)
	}
}

func TestNew_DebugLevel(t *testing.T) {
	t.Setenv("PRETTY", "")
	t.Setenv("DEBUG", "")

	var buf bytes.Buffer
	New(Options{Out: &buf}).Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line at info level: %q", buf.String())
	}
	New(Options{Out: &buf, Debug: true}).Debug().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug line missing: %q", buf.String())
	}
}

func TestNew_Pretty(t *testing.T) {
	t.Setenv("DEBUG", "")

	var buf bytes.Buffer
	New(Options{Out: &buf, Pretty: true}).Printf("stage=drain ok")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "stage=drain ok") {
		t.Fatalf("pretty output: %q", out)
	}
}
