package catalog

import "strings"

// Static is a Lookup backed by values known up front, typically read from
// a job file.
type Static struct {
	Primary    string
	Conns      []Connection
	Types      map[string]map[string]ScalarType // category -> field -> type
	Identifier bool
	IDField    string
	Delimiter  string
}

var _ Lookup = (*Static)(nil)

func (s *Static) PrimaryCategory() string   { return s.Primary }
func (s *Static) Connections() []Connection { return s.Conns }
func (s *Static) HasIdentifier() bool       { return s.Identifier }
func (s *Static) ViewDelimiter() string     { return s.Delimiter }

func (s *Static) IdentifierField() string {
	if s.IDField == "" {
		return DefaultIdentifierField
	}
	return s.IDField
}

func (s *Static) FieldType(category, field string) (ScalarType, bool) {
	for cat, fields := range s.Types {
		if !strings.EqualFold(cat, category) {
			continue
		}
		for f, t := range fields {
			if strings.EqualFold(f, field) {
				return t, true
			}
		}
	}
	return Text, false
}
