package job

import (
	"fmt"
	"unicode/utf8"

	"itemexport/internal/config"
	"itemexport/internal/cursor"
)

// CursorSpec says how to open one snapshot.
type CursorSpec struct {
	Kind     string // csv | json | html | xlsx
	Path     string
	Selector string
	Sheet    string
	Comma    string
}

func SourceCursor(s config.Source) CursorSpec {
	return CursorSpec{Kind: s.Kind, Path: s.Path, Selector: s.Selector, Sheet: s.Sheet, Comma: s.Comma}
}

func ConnectedCursor(c config.ConnectedSource) CursorSpec {
	return CursorSpec{Kind: c.Kind, Path: c.Path, Selector: c.Selector, Sheet: c.Sheet}
}

// OpenCursor opens spec with the matching snapshot reader.
func OpenCursor(spec CursorSpec) (cursor.Cursor, error) {
	switch spec.Kind {
	case "csv":
		var opts cursor.CSVOptions
		if spec.Comma != "" {
			r, _ := utf8.DecodeRuneInString(spec.Comma)
			opts.Comma = r
		}
		return cursor.OpenCSV(spec.Path, opts)
	case "json":
		return cursor.OpenJSON(spec.Path)
	case "html":
		return cursor.OpenHTML(spec.Path, spec.Selector)
	case "xlsx":
		return cursor.OpenXLSX(spec.Path, spec.Sheet)
	default:
		return nil, fmt.Errorf("job: unsupported source kind %q", spec.Kind)
	}
}
