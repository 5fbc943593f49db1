package ingest

import (
	"fmt"

	"itemexport/internal/catalog"
	"itemexport/internal/schema"
	"itemexport/internal/storage"
)

// fieldRef binds a cursor column to the table column it is stored in.
type fieldRef struct {
	index  int
	column string
	typ    catalog.ScalarType
	split  splitFunc
}

type pairPlan struct {
	pair      schema.Pair
	connected storage.TableSpec
	refIndex  int
	fields    []fieldRef

	connectedColumns []string // key + fields
	linkColumns      []string
	linkKey          []string
}

// indexedPlan compiles column names to cursor indices once per export.
type indexedPlan struct {
	idIndex        int // -1 when the cursor has no identifier column
	primary        storage.TableSpec
	primaryColumns []string
	direct         []fieldRef
	pairs          []pairPlan
	labels         []string
}

func buildIndexedPlan(s *schema.Schema, cols []catalog.Column, nonText string) (indexedPlan, error) {
	p := indexedPlan{idIndex: -1, primary: s.Primary}
	p.primaryColumns = []string{s.Primary.KeyColumn()}

	seen := map[string]bool{}
	byPair := map[catalog.Connection]*pairPlan{}
	var order []catalog.Connection

	for _, c := range cols {
		p.labels = append(p.labels, c.Label)

		if !c.IsConnection {
			if c.IsIdentifier && c.Ordinal == 0 {
				p.idIndex = 0
			}
			spec, ok := s.Primary.ColumnForSource(c.Field)
			if !ok {
				return p, fmt.Errorf("ingest: column %d %q has no column in table %s", c.Ordinal, c.Label, s.Primary.Name)
			}
			if seen[spec.Name] {
				continue
			}
			seen[spec.Name] = true
			typ := catalog.FromLogicalType(spec.Type)
			p.direct = append(p.direct, fieldRef{index: c.Ordinal, column: spec.Name, typ: typ})
			p.primaryColumns = append(p.primaryColumns, spec.Name)
			continue
		}

		key := c.Pair()
		pp, ok := byPair[key]
		if !ok {
			sp, found := s.Pair(c.Connection, c.Category)
			if !found {
				return p, fmt.Errorf("ingest: no link table for connection %q to %s", c.Connection, c.Category)
			}
			ct, _ := s.Table(sp.Connected)
			link, _ := s.Table(sp.Link)
			pp = &pairPlan{
				pair:             sp,
				connected:        ct,
				refIndex:         -1,
				connectedColumns: []string{ct.KeyColumn()},
				linkColumns:      link.ColumnNames(),
				linkKey:          link.CompoundKey(),
			}
			byPair[key] = pp
			order = append(order, key)
		}

		spec, ok := pp.connected.ColumnForSource(c.Field)
		if !ok {
			return p, fmt.Errorf("ingest: column %d %q has no column in table %s", c.Ordinal, c.Label, pp.connected.Name)
		}
		if c.IsIdentifier && pp.refIndex < 0 {
			pp.refIndex = c.Ordinal
		}
		dup := false
		for _, f := range pp.fields {
			if f.column == spec.Name {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		typ := catalog.FromLogicalType(spec.Type)
		pp.fields = append(pp.fields, fieldRef{index: c.Ordinal, column: spec.Name, typ: typ, split: splitterFor(typ, nonText)})
		pp.connectedColumns = append(pp.connectedColumns, spec.Name)
	}

	for _, k := range order {
		pp := byPair[k]
		if pp.refIndex < 0 {
			return p, fmt.Errorf("ingest: connection %q to %s has no identifier column; connected items cannot be keyed", k.Name, k.Category)
		}
		p.pairs = append(p.pairs, *pp)
	}
	return p, nil
}

// connectedPlan maps a connection-only cursor onto one Connected table.
// Column 0 holds identifiers; labels without a matching column are skipped.
type connectedPlan struct {
	table   storage.TableSpec
	fields  []fieldRef
	columns []string
	skipped []string
	width   int
}

func buildConnectedPlan(table storage.TableSpec, labels []string) (connectedPlan, error) {
	if len(labels) == 0 {
		return connectedPlan{}, fmt.Errorf("ingest: connected cursor for %s has no columns", table.Name)
	}
	p := connectedPlan{table: table, columns: []string{table.KeyColumn()}, width: len(labels)}
	seen := map[string]bool{}
	for i, l := range labels {
		spec, ok := table.ColumnForSource(l)
		if !ok || seen[spec.Name] {
			if i > 0 {
				p.skipped = append(p.skipped, l)
			}
			continue
		}
		seen[spec.Name] = true
		p.fields = append(p.fields, fieldRef{index: i, column: spec.Name, typ: catalog.FromLogicalType(spec.Type)})
		p.columns = append(p.columns, spec.Name)
	}
	return p, nil
}
