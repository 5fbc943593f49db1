package probe

import (
	"context"
	"reflect"
	"testing"

	"itemexport/internal/catalog"
	"itemexport/internal/cursor"
)

func TestInference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
		want   catalog.ScalarType
	}{
		{"integers", []string{"1", "20", "-3"}, catalog.Number},
		{"decimals with separators", []string{"1,250.50", "3.5"}, catalog.Number},
		{"zero one is numeric", []string{"0", "1"}, catalog.Number},
		{"booleans", []string{"Yes", "no", "checked"}, catalog.Boolean},
		{"iso dates", []string{"2024-01-02", "1999-12-31"}, catalog.Date},
		{"mixed date layouts", []string{"2024-01-02", "31.12.1999"}, catalog.Date},
		{"clock times", []string{"09:30", "17:45:10"}, catalog.Time},
		{"blanks ignored", []string{"", " ", "7"}, catalog.Number},
		{"all blank is text", []string{"", ""}, catalog.Text},
		{"one stray value", []string{"1", "2", "n/a"}, catalog.Text},
		{"timestamps stay text", []string{"2024-01-02 10:00:00"}, catalog.Text},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := newInference()
			for _, v := range tt.values {
				in.add(v)
			}
			if got := in.result(); got != tt.want {
				t.Fatalf("result(%q) = %s, want %s", tt.values, got, tt.want)
			}
		})
	}
}

func sampleCursor() (*cursor.Slice, *catalog.Static) {
	labels := []string{"ID", "Name", "Age", "Joined", "Works At Company ID", "Works At Company Founded"}
	rows := [][]string{
		{"1:1:1", "Alice", "34", "2020-01-02", "1:1:7\n1:1:8", "1990\n2001"},
		{"1:1:2", "Bob", "", "2021-05-06", "", ""},
		{"1:1:3", "Carol", "41", "2019-11-30", "1:1:7", "1990"},
	}
	lk := &catalog.Static{
		Primary:    "Contact",
		Identifier: true,
		Conns:      []catalog.Connection{{Name: "Works At", Category: "Company"}},
		Types:      map[string]map[string]catalog.ScalarType{"Contact": {"Age": catalog.Text, "Joined": catalog.Number}},
	}
	return cursor.NewSlice("contacts", labels, rows), lk
}

func TestProbe(t *testing.T) {
	t.Parallel()
	cur, lk := sampleCursor()
	cols, err := catalog.Classify(cur.Name(), cur.Columns(), lk)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	rep, err := Probe(context.Background(), cur, cols, lk, 0)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.Rows != 3 {
		t.Fatalf("rows=%d, want 3", rep.Rows)
	}
	if len(rep.Fields) != len(cols)-2 {
		t.Fatalf("fields=%d, want %d (identifier columns skipped)", len(rep.Fields), len(cols)-2)
	}

	byLabel := map[string]Field{}
	for _, f := range rep.Fields {
		byLabel[f.Label] = f
	}
	age := byLabel["Age"]
	if age.Inferred != catalog.Number || age.Seen != 2 || age.Declared == nil || age.Mismatch() {
		t.Fatalf("Age = %+v, want inferred number from 2 values, declared text without mismatch", age)
	}
	joined := byLabel["Joined"]
	if joined.Inferred != catalog.Date || !joined.Mismatch() {
		t.Fatalf("Joined = %+v, want inferred date flagged against declared number", joined)
	}
	founded := byLabel["Works At Company Founded"]
	if founded.Category != "Company" || founded.Inferred != catalog.Number || founded.Seen != 3 || founded.Distinct != 2 {
		t.Fatalf("Founded = %+v, want 3 split values, 2 distinct, number", founded)
	}

	want := map[string]map[string]string{
		"Contact": {"Age": "number", "Joined": "date"},
		"Company": {"Founded": "number"},
	}
	if got := rep.FieldTypes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("FieldTypes() = %v, want %v", got, want)
	}
}

func TestProbe_StopsAtLimit(t *testing.T) {
	t.Parallel()
	cur, lk := sampleCursor()
	cols, err := catalog.Classify(cur.Name(), cur.Columns(), lk)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	rep, err := Probe(context.Background(), cur, cols, lk, 2)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.Rows != 2 {
		t.Fatalf("rows=%d, want 2", rep.Rows)
	}
}

func TestProbe_ColumnMismatch(t *testing.T) {
	t.Parallel()
	cur, lk := sampleCursor()
	if _, err := Probe(context.Background(), cur, nil, lk, 10); err == nil {
		t.Fatalf("Probe with no classification: want error")
	}
}
