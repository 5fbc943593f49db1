package cursor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// JSON streams a snapshot holding one array of flat objects.
//
// Behavior:
//   - column labels and their order come from the first object's keys
//   - missing keys and null read as empty values
//   - arrays are joined with line feeds, so they feed multi-valued cells
//   - numbers keep their literal text
type JSON struct {
	name    string
	f       io.ReadCloser
	dec     *json.Decoder
	columns []string
	pending map[string]any
	done    bool
	index   int
}

// OpenJSON opens path and reads the first object to learn the columns.
func OpenJSON(path string) (*JSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cursor: open %s: %w", path, err)
	}
	c, err := NewJSON(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

// NewJSON reads the opening of the array from src. The cursor owns src.
func NewJSON(name string, src io.ReadCloser) (*JSON, error) {
	dec := json.NewDecoder(src)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("cursor: %s: read first token: %w", name, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("cursor: %s: expected array of objects, got %v", name, tok)
	}

	c := &JSON{name: name, f: src, dec: dec}
	if !dec.More() {
		c.done = true
		return c, nil
	}
	keys, obj, err := readObject(dec)
	if err != nil {
		return nil, fmt.Errorf("cursor: %s: object 0: %w", name, err)
	}
	c.columns = keys
	c.pending = obj
	return c, nil
}

func (c *JSON) Name() string      { return c.name }
func (c *JSON) RowCount() int64   { return -1 }
func (c *JSON) Columns() []string { return c.columns }
func (c *JSON) Close() error      { return c.f.Close() }

func (c *JSON) Next(ctx context.Context, n, maxFieldLen int) ([][]string, error) {
	if n <= 0 {
		n = 1
	}
	var out [][]string
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		obj := c.pending
		c.pending = nil
		if obj == nil {
			if c.done || !c.dec.More() {
				c.done = true
				break
			}
			var err error
			_, obj, err = readObject(c.dec)
			if err != nil {
				return out, fmt.Errorf("cursor: %s: object %d: %w", c.name, c.index, err)
			}
		}
		c.index++
		row := make([]string, len(c.columns))
		for i, k := range c.columns {
			row[i] = Clip(stringify(obj[k]), maxFieldLen)
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// readObject reads one object token by token so key order is kept.
func readObject(dec *json.Decoder) ([]string, map[string]any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}
	var keys []string
	obj := map[string]any{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		k, ok := kt.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected key, got %v", kt)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("key %q: %w", k, err)
		}
		keys = append(keys, k)
		obj[k] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, obj, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, "\n")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
