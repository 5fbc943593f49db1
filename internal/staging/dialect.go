package staging

import (
	"fmt"
	"strconv"
	"strings"

	"itemexport/internal/storage"
)

// dialect captures what differs between the embedded engines.
type dialect interface {
	driverName() string
	dsn(path string) string
	columnType(logical string) string
	// foreignKeys reports whether REFERENCES clauses are emitted.
	foreignKeys() bool
	// bind converts a value before it is handed to the driver.
	bind(v any) any
	sidecars(path string) []string
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }

func (sqliteDialect) dsn(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(OFF)"
}

func (sqliteDialect) columnType(logical string) string {
	switch logical {
	case storage.TypeKey, storage.TypeInteger, storage.TypeSequence, storage.TypeBoolean:
		return "INTEGER"
	case storage.TypeNumber:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) foreignKeys() bool { return true }
func (sqliteDialect) bind(v any) any    { return v }

func (sqliteDialect) sidecars(path string) []string {
	return []string{path + "-wal", path + "-shm", path + "-journal"}
}

// duckDialect stores every non-key value as VARCHAR; readers re-apply the
// logical type. DuckDB rejects updates to rows referenced by a foreign
// key, and connected rows are upserted, so no REFERENCES are emitted and
// integrity is checked in Drain instead.
type duckDialect struct{}

func (duckDialect) driverName() string     { return "duckdb" }
func (duckDialect) dsn(path string) string { return path }

func (duckDialect) columnType(logical string) string {
	switch logical {
	case storage.TypeKey, storage.TypeInteger:
		return "BIGINT"
	default:
		return "VARCHAR"
	}
}

func (duckDialect) foreignKeys() bool { return false }

func (duckDialect) bind(v any) any {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return v
	}
}

func (duckDialect) sidecars(path string) []string { return []string{path + ".wal"} }

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return sqliteDialect{}, nil
	case "duckdb":
		return duckDialect{}, nil
	default:
		return nil, fmt.Errorf("staging: unsupported driver %q", driver)
	}
}

// Ident quotes an identifier for both embedded engines.
func Ident(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = Ident(c)
	}
	return strings.Join(out, ", ")
}

func buildCreateTableSQL(d dialect, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", Ident(t.PrimaryKey.Name), d.columnType(t.PrimaryKey.Type)))
	}

	refs := map[string]storage.ForeignKeySpec{}
	if d.foreignKeys() {
		for _, fk := range t.ForeignKeys {
			refs[fk.Column] = fk
		}
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", Ident(c.Name), d.columnType(c.Type))
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		if fk, ok := refs[c.Name]; ok {
			col += fmt.Sprintf(" REFERENCES %s(%s)", Ident(fk.RefTable), Ident(fk.RefColumn))
		}
		parts = append(parts, col)
	}
	for _, con := range t.Constraints {
		switch con.Kind {
		case "primary_key":
			parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdents(con.Columns)))
		case "unique":
			parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdents(con.Columns)))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("table %s has no columns", t.Name)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", Ident(t.Name), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL returns a single-row INSERT, optionally with an ON CONFLICT
// clause. Merge keeps existing values where the incoming value is NULL.
func buildInsertSQL(table string, columns []string, conflict *storage.ConflictSpec) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(Ident(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimRight(strings.Repeat("?, ", len(columns)), ", "))
	b.WriteString(")")

	if conflict == nil || len(conflict.TargetColumns) == 0 {
		return b.String()
	}
	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdents(conflict.TargetColumns))
	b.WriteString(") DO ")

	target := map[string]bool{}
	for _, c := range conflict.TargetColumns {
		target[c] = true
	}
	var sets []string
	if conflict.Action == storage.ConflictMerge {
		for _, c := range columns {
			if target[c] {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = COALESCE(excluded.%s, %s)", Ident(c), Ident(c), Ident(c)))
		}
	}
	if len(sets) == 0 {
		b.WriteString("NOTHING")
		return b.String()
	}
	b.WriteString("UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}
