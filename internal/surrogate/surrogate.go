// Package surrogate turns composite item identifiers into compact integer keys.
//
// Source identifiers are colon-separated composites. Items in a shared
// (server-synchronized) database carry three segments and are keyed by the
// last one; items in a local database carry four and are keyed by the second.
// The designated segment is hexadecimal and must fit in 32 bits.
package surrogate

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is the integer surrogate key of an item.
type Key uint32

const separator = ":"

// Reasons carried by MalformedIdentifierError.
const (
	ReasonSegments = "wrong segment count"
	ReasonEmpty    = "empty key segment"
	ReasonNotHex   = "key segment is not hexadecimal"
	ReasonOverflow = "key segment exceeds 32 bits"
)

// MalformedIdentifierError reports an identifier that cannot produce a key.
type MalformedIdentifierError struct {
	ID     string
	Shared bool
	Reason string
	Err    error
}

func (e *MalformedIdentifierError) Error() string {
	mode := "local"
	if e.Shared {
		mode = "shared"
	}
	return fmt.Sprintf("surrogate: malformed %s identifier %q: %s", mode, e.ID, e.Reason)
}

func (e *MalformedIdentifierError) Unwrap() error { return e.Err }

// Derive returns the surrogate key of id. shared selects which segment
// layout is expected and is fixed for a whole export.
func Derive(id string, shared bool) (Key, error) {
	segs := strings.Split(strings.TrimSpace(id), separator)

	want, idx := 4, 1
	if shared {
		want, idx = 3, 2
	}
	if len(segs) != want {
		return 0, &MalformedIdentifierError{ID: id, Shared: shared, Reason: ReasonSegments}
	}

	seg := segs[idx]
	if seg == "" {
		return 0, &MalformedIdentifierError{ID: id, Shared: shared, Reason: ReasonEmpty}
	}

	v, err := strconv.ParseUint(seg, 16, 32)
	if err != nil {
		reason := ReasonNotHex
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			reason = ReasonOverflow
		}
		return 0, &MalformedIdentifierError{ID: id, Shared: shared, Reason: reason, Err: err}
	}
	return Key(v), nil
}

// Int64 is the value bound into SQL statements.
func (k Key) Int64() int64 { return int64(k) }
