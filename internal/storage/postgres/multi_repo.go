package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"itemexport/internal/storage"
)

/*
MultiRepo implements storage.MultiRepository for Postgres.

Tables are created with IF NOT EXISTS so a rerun into the same database is
harmless at the DDL step. Rows are loaded with COPY, one transaction per
InsertRows call.
*/
type MultiRepo struct {
	pool *pgxpool.Pool
}

// NewMulti creates a new Postgres-backed MultiRepo and checks the pool can
// reach the server.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &MultiRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *MultiRepo) Close() {
	r.pool.Close()
}

// EnsureTables creates each table with AutoCreateTable set, in order.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		schemaSQL, baseSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, baseSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows copies rows into spec's table with COPY FROM STDIN.
func (r *MultiRepo) InsertRows(ctx context.Context, spec storage.TableSpec, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, copyIdentifier(spec.Name), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", spec.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// columnType maps a logical column type onto a Postgres type. Dates and
// times keep the source's textual form.
func columnType(logical string) string {
	switch logical {
	case storage.TypeKey, storage.TypeInteger:
		return "BIGINT"
	case storage.TypeSequence:
		return "INTEGER"
	case storage.TypeNumber:
		return "DOUBLE PRECISION"
	case storage.TypeBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// buildCreateSQL builds DDL for one table and, for a schema-qualified name,
// the CREATE SCHEMA that must run first.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols, err := buildColumnDefs(t)
	if err != nil {
		return "", "", err
	}
	constraints, err := buildConstraints(t)
	if err != nil {
		return "", "", err
	}
	cols = append(cols, constraints...)

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTableIdent(t.Name), strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

// buildColumnDefs returns the "<col> <type> ..." definitions, key first.
// Foreign keys are expressed inline on the referencing column.
func buildColumnDefs(t storage.TableSpec) ([]string, error) {
	cols := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		if pk == "" {
			return nil, fmt.Errorf("table %s: primary key name is empty", t.Name)
		}
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), columnType(t.PrimaryKey.Type)))
	}

	refs := make(map[string]storage.ForeignKeySpec, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		refs[fk.Column] = fk
	}
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("table %s: column name is empty", t.Name)
		}
		var b strings.Builder
		b.WriteString(pgIdent(name))
		b.WriteString(" ")
		b.WriteString(columnType(c.Type))
		if !c.IsNullable() {
			b.WriteString(" NOT NULL")
		}
		if fk, ok := refs[c.Name]; ok {
			fmt.Fprintf(&b, " REFERENCES %s (%s)", pgTableIdent(fk.RefTable), pgIdent(fk.RefColumn))
		}
		cols = append(cols, b.String())
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s: no columns", t.Name)
	}
	return cols, nil
}

// buildConstraints renders table-level PRIMARY KEY and UNIQUE constraints.
func buildConstraints(t storage.TableSpec) ([]string, error) {
	out := make([]string, 0, len(t.Constraints))
	for _, c := range t.Constraints {
		if len(c.Columns) == 0 {
			return nil, fmt.Errorf("table %s: %s constraint requires columns", t.Name, c.Kind)
		}
		cols := make([]string, len(c.Columns))
		for i, col := range c.Columns {
			cols[i] = pgIdent(strings.TrimSpace(col))
		}
		switch strings.ToLower(strings.TrimSpace(c.Kind)) {
		case "primary_key":
			out = append(out, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
		case "unique":
			out = append(out, "UNIQUE ("+strings.Join(cols, ", ")+")")
		default:
			return nil, fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}
	return out, nil
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "export.Person" => ("export", "Person")
//   - "Person"        => ("", "Person")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func copyIdentifier(name string) pgx.Identifier {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{name}
}

// pgIdent double-quotes an identifier. Derived names keep their case, so
// they are always quoted.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func pgTableIdent(name string) string {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgIdent(schema) + "." + pgIdent(table)
	}
	return pgIdent(name)
}
