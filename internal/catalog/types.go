package catalog

import (
	"strconv"
	"strings"

	"itemexport/internal/storage"
)

// ScalarType is the source store's field type, reduced to what the export
// needs to know.
type ScalarType int

const (
	Text ScalarType = iota
	Number
	Date
	Time
	Boolean
	Sequence
)

var typeNames = [...]string{"text", "number", "date", "time", "boolean", "sequence"}

func (t ScalarType) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return "text"
	}
	return typeNames[t]
}

// ParseScalarType accepts the lower-case names used in job files.
func ParseScalarType(s string) (ScalarType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range typeNames {
		if n == s {
			return ScalarType(i), true
		}
	}
	return Text, false
}

// LogicalType maps the scalar type onto the storage column type.
func (t ScalarType) LogicalType() string {
	switch t {
	case Number:
		return storage.TypeNumber
	case Date:
		return storage.TypeDate
	case Time:
		return storage.TypeTime
	case Boolean:
		return storage.TypeBoolean
	case Sequence:
		return storage.TypeSequence
	default:
		return storage.TypeText
	}
}

// FromLogicalType is the inverse of LogicalType. Key and integer columns
// map to Sequence.
func FromLogicalType(lt string) ScalarType {
	switch lt {
	case storage.TypeNumber:
		return Number
	case storage.TypeDate:
		return Date
	case storage.TypeTime:
		return Time
	case storage.TypeBoolean:
		return Boolean
	case storage.TypeSequence, storage.TypeKey, storage.TypeInteger:
		return Sequence
	default:
		return Text
	}
}

// Convert turns a raw source string into the value bound for storage.
// Empty strings become nil. Values that do not parse as the declared type
// are kept as the original string rather than dropped.
func (t ScalarType) Convert(raw string) any {
	if raw == "" {
		return nil
	}
	switch t {
	case Number:
		s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case Sequence:
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			return n
		}
	case Boolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "yes", "true", "1", "on", "checked":
			return true
		case "no", "false", "0", "off", "unchecked":
			return false
		}
	}
	return raw
}
