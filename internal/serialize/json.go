package serialize

import (
	"bufio"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// JSONWriter writes
//
//	{"source":..., "category":..., "kind":..., "items":[{...}, ...]}
//
// with one item per line. Connections are arrays of child objects keyed by
// connection name; nil values are written as null.
type JSONWriter struct {
	w   *bufio.Writer
	err error

	items    int
	itemKeys int // keys written in the open item
	children int // children written in the open connection
}

var _ Writer = (*JSONWriter)(nil)

func NewJSON(w io.Writer) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriterSize(w, 64<<10)}
}

func (j *JSONWriter) raw(s string) {
	if j.err != nil {
		return
	}
	_, j.err = j.w.WriteString(s)
}

func (j *JSONWriter) encode(v any) {
	if j.err != nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		// NaN and Inf parse as numbers but have no JSON form.
		b, err = json.Marshal(text(v))
		if err != nil {
			j.err = fmt.Errorf("json: encode %T: %w", v, err)
			return
		}
	}
	_, j.err = j.w.Write(b)
}

func (j *JSONWriter) key(k string) {
	j.encode(k)
	j.raw(":")
}

// fields writes `"k":v,...` without braces.
func (j *JSONWriter) fields(fs []Field) {
	for i, f := range fs {
		if i > 0 {
			j.raw(",")
		}
		j.key(f.Name)
		j.encode(f.Value)
	}
}

func (j *JSONWriter) Begin(m Meta) error {
	j.raw("{")
	j.key("source")
	j.encode(m.Source)
	j.raw(",")
	j.key("category")
	j.encode(m.Category)
	j.raw(",")
	j.key("kind")
	j.encode(string(m.Kind))
	j.raw(`,"items":[`)
	return j.err
}

func (j *JSONWriter) BeginItem(fs []Field) error {
	if j.items > 0 {
		j.raw(",")
	}
	j.items++
	j.raw("\n{")
	j.fields(fs)
	j.itemKeys = len(fs)
	return j.err
}

func (j *JSONWriter) BeginConnection(name string) error {
	if j.itemKeys > 0 {
		j.raw(",")
	}
	j.itemKeys++
	j.key(name)
	j.raw("[")
	j.children = 0
	return j.err
}

func (j *JSONWriter) WriteChild(fs []Field) error {
	if j.children > 0 {
		j.raw(",")
	}
	j.children++
	j.raw("{")
	j.fields(fs)
	j.raw("}")
	return j.err
}

func (j *JSONWriter) EndConnection() error {
	j.raw("]")
	return j.err
}

// EndItem closes the item and flushes it to the underlying writer.
func (j *JSONWriter) EndItem() error {
	j.raw("}")
	if j.err != nil {
		return j.err
	}
	j.err = j.w.Flush()
	return j.err
}

func (j *JSONWriter) End() error {
	if j.items > 0 {
		j.raw("\n")
	}
	j.raw("]}\n")
	if j.err != nil {
		return j.err
	}
	return j.w.Flush()
}
