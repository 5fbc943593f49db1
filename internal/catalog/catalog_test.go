package catalog

import (
	"errors"
	"testing"
)

func personLookup() *Static {
	return &Static{
		Primary: "Person",
		Conns: []Connection{
			{Name: "Works At", Category: "Company"},
			{Name: "Relates To", Category: "Person"},
		},
		Types: map[string]map[string]ScalarType{
			"Person":  {"Age": Number, "Active": Boolean},
			"Company": {"Founded": Date},
		},
		Identifier: true,
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	labels := []string{
		"ID",
		"Name",
		"Age",
		"Works At Company ID",
		"Works At Company Founded",
		"Relates To%%Person%%Name",
		"Notes",
	}
	cols, err := Classify("people", labels, personLookup())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(cols) != len(labels) {
		t.Fatalf("expected one column per label, got %d", len(cols))
	}

	tests := []struct {
		ord        int
		conn       bool
		category   string
		field      string
		connection string
		typ        ScalarType
		ident      bool
	}{
		{0, false, "Person", "ID", "", Text, true},
		{1, false, "Person", "Name", "", Text, false},
		{2, false, "Person", "Age", "", Number, false},
		{3, true, "Company", "ID", "Works At", Text, true},
		{4, true, "Company", "Founded", "Works At", Date, false},
		{5, true, "Person", "Name", "Relates To", Text, false},
		{6, false, "Person", "Notes", "", Text, false},
	}
	for _, tc := range tests {
		c := cols[tc.ord]
		if c.Ordinal != tc.ord || c.IsConnection != tc.conn || c.Category != tc.category ||
			c.Field != tc.field || c.Connection != tc.connection || c.Type != tc.typ || c.IsIdentifier != tc.ident {
			t.Fatalf("column %d = %+v, want %+v", tc.ord, c, tc)
		}
	}
}

func TestClassify_NoIdentifierColumn(t *testing.T) {
	t.Parallel()

	lk := personLookup()
	lk.Identifier = false
	cols, err := Classify("people", []string{"Name", "Age"}, lk)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cols[0].IsIdentifier {
		t.Fatalf("column 0 must not be an identifier when the cursor has none")
	}
}

func TestClassify_AmbiguousLabel(t *testing.T) {
	t.Parallel()

	lk := &Static{
		Primary: "Person",
		Conns: []Connection{
			{Name: "Works", Category: "At Company"},
			{Name: "Works At", Category: "Company"},
		},
	}
	_, err := Classify("people", []string{"Name", "Works At Company Name"}, lk)

	var ce *ClassificationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClassificationError, got %v", err)
	}
	if ce.Cursor != "people" || ce.Ordinal != 1 || len(ce.Candidates) != 2 {
		t.Fatalf("unexpected error detail: %+v", ce)
	}
}

func TestClassify_ViewDelimiterNeedsThreeSegments(t *testing.T) {
	t.Parallel()

	cols, err := Classify("v", []string{"a%%b"}, &Static{Primary: "Person"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cols[0].IsConnection {
		t.Fatalf("two-segment label should be a direct field")
	}
}

func TestScalarType_Convert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  ScalarType
		raw  string
		want any
	}{
		{Text, "hello", "hello"},
		{Text, "", nil},
		{Number, "1,234.5", 1234.5},
		{Number, "n/a", "n/a"},
		{Sequence, "42", int64(42)},
		{Boolean, "Yes", true},
		{Boolean, "FALSE", false},
		{Boolean, "maybe", "maybe"},
		{Date, "2024-01-02", "2024-01-02"},
	}
	for _, tc := range tests {
		if got := tc.typ.Convert(tc.raw); got != tc.want {
			t.Fatalf("%s.Convert(%q)=%#v want %#v", tc.typ, tc.raw, got, tc.want)
		}
	}
}

func TestParseScalarType(t *testing.T) {
	t.Parallel()

	if got, ok := ParseScalarType(" Number "); !ok || got != Number {
		t.Fatalf("ParseScalarType(Number)=%v,%v", got, ok)
	}
	if _, ok := ParseScalarType("blob"); ok {
		t.Fatalf("unknown type should not parse")
	}
}
