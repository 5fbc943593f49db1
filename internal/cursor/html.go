package cursor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTML reads the first table matched by a selector in an HTML snapshot.
//
// Behavior:
//   - headers come from the table's th cells (thead, or the first row)
//   - every later row with td cells is one record
//   - <br> inside a cell separates the values of a multi-valued cell
//
// The document is parsed up front; rows are handed out in batches from
// the parsed tree.
type HTML struct {
	name    string
	columns []string
	rows    *goquery.Selection
	pos     int
}

// OpenHTML parses path and locates the table. selector defaults to "table".
func OpenHTML(path, selector string) (*HTML, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cursor: open %s: %w", path, err)
	}
	defer f.Close()
	return NewHTML(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), f, selector)
}

func NewHTML(name string, r io.Reader, selector string) (*HTML, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("cursor: %s: parse html: %w", name, err)
	}
	if strings.TrimSpace(selector) == "" {
		selector = "table"
	}
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("cursor: %s: no element matches %q", name, selector)
	}

	var cols []string
	table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Find("th").Length() > 0
	}).First().Find("th").Each(func(_ int, th *goquery.Selection) {
		cols = append(cols, cellText(th))
	})
	if len(cols) == 0 {
		return nil, fmt.Errorf("cursor: %s: table has no header cells", name)
	}

	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Find("td").Length() > 0
	})
	return &HTML{name: name, columns: cols, rows: rows}, nil
}

func (h *HTML) Name() string      { return h.name }
func (h *HTML) RowCount() int64   { return int64(h.rows.Length()) }
func (h *HTML) Columns() []string { return h.columns }
func (h *HTML) Close() error      { return nil }

func (h *HTML) Next(ctx context.Context, n, maxFieldLen int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total := h.rows.Length()
	if h.pos >= total {
		return nil, io.EOF
	}
	if n <= 0 {
		n = 1
	}
	end := min(h.pos+n, total)
	out := make([][]string, 0, end-h.pos)
	h.rows.Slice(h.pos, end).Each(func(_ int, tr *goquery.Selection) {
		var rec []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			rec = append(rec, cellText(td))
		})
		out = append(out, clipRow(rec, len(h.columns), maxFieldLen))
	})
	h.pos = end
	return out, nil
}

func cellText(sel *goquery.Selection) string {
	sel.Find("br").ReplaceWithHtml("\n")
	lines := strings.Split(sel.Text(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}
