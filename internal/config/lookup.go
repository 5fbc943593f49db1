package config

import (
	"fmt"

	"itemexport/internal/catalog"
)

// Lookup builds the column catalog metadata the job file declares.
func (s Source) Lookup() (*catalog.Static, error) {
	lk := &catalog.Static{
		Primary:    s.Category,
		Identifier: s.HasIdentifier(),
		IDField:    s.IdentifierField,
		Delimiter:  s.ViewDelimiter,
		Types:      map[string]map[string]catalog.ScalarType{},
	}
	if lk.Delimiter == "" {
		lk.Delimiter = catalog.DefaultViewDelimiter
	}
	for _, c := range s.Connections {
		lk.Conns = append(lk.Conns, catalog.Connection{Name: c.Name, Category: c.Category})
	}
	for cat, fields := range s.FieldTypes {
		m := map[string]catalog.ScalarType{}
		for field, name := range fields {
			t, ok := catalog.ParseScalarType(name)
			if !ok {
				return nil, fmt.Errorf("config: field %s.%s: unknown type %q", cat, field, name)
			}
			m[field] = t
		}
		lk.Types[cat] = m
	}
	return lk, nil
}
