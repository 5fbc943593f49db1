package serialize

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"itemexport/internal/catalog"
	"itemexport/internal/cursor"
	"itemexport/internal/ingest"
	"itemexport/internal/progress"
	"itemexport/internal/schema"
	"itemexport/internal/staging"
)

var contactLabels = []string{"ID", "Name", "Works At Company ID", "Works At Company Name"}

func contactLookup() *catalog.Static {
	return &catalog.Static{
		Primary:    "Contact",
		Conns:      []catalog.Connection{{Name: "Works At", Category: "Company"}},
		Identifier: true,
	}
}

// populated ingests rows into a fresh store and returns it drained.
func populated(t *testing.T, rows [][]string) (*staging.Store, *schema.Schema) {
	t.Helper()
	return populatedWith(t, "", contactLookup(), contactLabels, rows)
}

func populatedWith(t *testing.T, driver string, lk *catalog.Static, labels []string, rows [][]string) (*staging.Store, *schema.Schema) {
	t.Helper()
	ctx := context.Background()
	cols, err := catalog.Classify("contacts", labels, lk)
	require.NoError(t, err)
	s, err := schema.Derive(lk.Primary, cols, schema.Options{})
	require.NoError(t, err)
	store, err := staging.Open(ctx, staging.Options{Dir: t.TempDir(), Driver: driver})
	require.NoError(t, err)
	p, err := ingest.New(store, s, cols, ingest.Options{BatchSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Prepare(ctx))
	require.NoError(t, p.Ingest(ctx, cursor.NewSlice("contacts", labels, rows), true))
	require.NoError(t, p.Drain(ctx))
	return store, s
}

var meta = Meta{Source: "contacts", Category: "Contact", Kind: KindCategory}

func TestExport_JSONScenario(t *testing.T) {
	t.Parallel()

	store, s := populated(t, [][]string{
		{"123:45:6", "Alice", "123:45:7\n123:45:8", "Acme\nBeta"},
		{"123:45:9", "Bob", "", ""},
	})

	var reports []progress.Progress
	var buf bytes.Buffer
	n, err := Export(context.Background(), store, s, NewJSON(&buf), Options{
		Meta:     meta,
		Progress: func(p progress.Progress) { reports = append(reports, p) },
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	want := `{"source":"contacts","category":"Contact","kind":"category","items":[` + "\n" +
		`{"ID":"123:45:6","Name":"Alice","WorksAt.Company":[{"ID":"123:45:7","Name":"Acme"},{"ID":"123:45:8","Name":"Beta"}]},` + "\n" +
		`{"ID":"123:45:9","Name":"Bob","WorksAt.Company":[]}` + "\n" +
		"]}\n"
	require.Equal(t, want, buf.String())

	require.Len(t, reports, 2)
	require.Equal(t, progress.Progress{Stage: progress.StageSerialize, Done: 2, Total: 2, Batch: -1, Elapsed: reports[1].Elapsed}, reports[1])
}

func TestExport_JSONScenarioOnDuckDB(t *testing.T) {
	t.Parallel()

	store, s := populatedWith(t, "duckdb", contactLookup(), contactLabels, [][]string{
		{"123:45:6", "Alice", "123:45:7\n123:45:8", "Acme\nBeta"},
		{"123:45:9", "Bob", "123:45:7", ""},
	})
	require.Equal(t, "duckdb", store.Driver())

	var buf bytes.Buffer
	n, err := Export(context.Background(), store, s, NewJSON(&buf), Options{Meta: meta})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	want := `{"source":"contacts","category":"Contact","kind":"category","items":[` + "\n" +
		`{"ID":"123:45:6","Name":"Alice","WorksAt.Company":[{"ID":"123:45:7","Name":"Acme"},{"ID":"123:45:8","Name":"Beta"}]},` + "\n" +
		`{"ID":"123:45:9","Name":"Bob","WorksAt.Company":[{"ID":"123:45:7","Name":"Acme"}]}` + "\n" +
		"]}\n"
	require.Equal(t, want, buf.String())
}

func TestExport_SelfReferenceConnection(t *testing.T) {
	t.Parallel()

	lk := &catalog.Static{
		Primary:    "Contact",
		Conns:      []catalog.Connection{{Name: "Relates To", Category: "Contact"}},
		Identifier: true,
	}
	labels := []string{"ID", "Name", "Relates To Contact ID", "Relates To Contact Name"}
	store, s := populatedWith(t, "", lk, labels, [][]string{
		{"1:1:1", "Ann", "1:1:2", "Bob"},
		{"1:1:2", "Bob", "1:1:1\n1:1:3", "Ann\nCy"},
	})
	require.Equal(t, "Contact_Related", s.Connected[0].Name)

	var buf bytes.Buffer
	n, err := Export(context.Background(), store, s, NewJSON(&buf), Options{Meta: meta})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	want := `{"source":"contacts","category":"Contact","kind":"category","items":[` + "\n" +
		`{"ID":"1:1:1","Name":"Ann","RelatesTo.Contact":[{"ID":"1:1:2","Name":"Bob"}]},` + "\n" +
		`{"ID":"1:1:2","Name":"Bob","RelatesTo.Contact":[{"ID":"1:1:1","Name":"Ann"},{"ID":"1:1:3","Name":"Cy"}]}` + "\n" +
		"]}\n"
	require.Equal(t, want, buf.String())
}

func TestExport_ChildrenKeepSourceOrder(t *testing.T) {
	t.Parallel()

	store, s := populated(t, [][]string{
		{"1:1:1", "Root", "1:1:f\n1:1:a\n1:1:c", "X\nY\nZ"},
	})

	var buf bytes.Buffer
	_, err := Export(context.Background(), store, s, NewXML(&buf), Options{Meta: meta})
	require.NoError(t, err)

	var doc struct {
		XMLName  xml.Name `xml:"Export"`
		Source   string   `xml:"source,attr"`
		Category string   `xml:"category,attr"`
		Kind     string   `xml:"kind,attr"`
		Items    []struct {
			Name  string `xml:"Name"`
			Conns []struct {
				Name  string `xml:"name,attr"`
				Items []struct {
					Name string `xml:"Name"`
				} `xml:"Item"`
			} `xml:"Connection"`
		} `xml:"Item"`
	}
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	require.Equal(t, "contacts", doc.Source)
	require.Equal(t, "category", doc.Kind)
	require.Len(t, doc.Items, 1)
	require.Len(t, doc.Items[0].Conns, 1)

	c := doc.Items[0].Conns[0]
	require.Equal(t, "WorksAt.Company", c.Name)
	var names []string
	for _, it := range c.Items {
		names = append(names, it.Name)
	}
	require.Equal(t, []string{"X", "Y", "Z"}, names)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestExport_SinkFailureIsIOError(t *testing.T) {
	t.Parallel()

	store, s := populated(t, [][]string{
		{"1:1:1", "A", "", ""},
		{"1:1:2", "B", "", ""},
	})
	n, err := Export(context.Background(), store, s, NewJSON(failWriter{}), Options{Meta: meta})
	require.Zero(t, n)

	var ioe *IOError
	require.ErrorAs(t, err, &ioe)
	require.EqualValues(t, 0, ioe.Row)
	require.Equal(t, "Contact", ioe.Table)
	require.ErrorContains(t, err, "disk full")
}

func TestExport_CancelledContext(t *testing.T) {
	t.Parallel()

	store, s := populated(t, [][]string{{"1:1:1", "A", "", ""}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Export(ctx, store, s, NewJSON(&bytes.Buffer{}), Options{Meta: meta})
	require.ErrorIs(t, err, context.Canceled)
}

func TestJSONWriter_UnrepresentableNumbersBecomeStrings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewJSON(&buf)
	require.NoError(t, w.Begin(Meta{Kind: KindView}))
	require.NoError(t, w.BeginItem([]Field{{Name: "Score", Value: math.NaN()}, {Name: "Note", Value: nil}}))
	require.NoError(t, w.EndItem())
	require.NoError(t, w.End())
	require.Contains(t, buf.String(), `{"Score":"NaN","Note":null}`)
}

func TestXMLWriter_EscapesAndEmptyValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewXML(&buf)
	require.NoError(t, w.Begin(Meta{Source: "a&b", Kind: KindView}))
	require.NoError(t, w.BeginItem([]Field{{Column: "Name", Value: "<x>"}, {Column: "Age", Value: nil}}))
	require.NoError(t, w.EndItem())
	require.NoError(t, w.End())

	out := buf.String()
	require.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	require.Contains(t, out, `source="a&amp;b"`)
	require.Contains(t, out, `<Name>&lt;x&gt;</Name>`)
	require.Contains(t, out, `<Age></Age>`)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		typ  catalog.ScalarType
		want any
	}{
		{"nil", nil, catalog.Number, nil},
		{"text_bytes", []byte("abc"), catalog.Text, "abc"},
		{"number_from_int", int64(30), catalog.Number, float64(30)},
		{"number_from_text", "1,250.5", catalog.Number, 1250.5},
		{"number_unparsable_kept", "n/a", catalog.Number, "n/a"},
		{"bool_from_int", int64(1), catalog.Boolean, true},
		{"bool_from_text", "false", catalog.Boolean, false},
		{"date_stays_text", "2024-01-02", catalog.Date, "2024-01-02"},
		{"sequence_from_text", "7", catalog.Sequence, int64(7)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, restore(tc.in, tc.typ))
		})
	}
}
