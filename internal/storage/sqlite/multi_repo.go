package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"itemexport/internal/storage"
)

// MultiRepo implements storage.MultiRepository for SQLite.
//
// This is the backend for handing an export to someone as a single file.
// Foreign keys are switched on per connection so the copied link tables are
// checked like they were in staging.
type MultiRepo struct {
	db *sql.DB
}

func init() {
	storage.RegisterMulti("sqlite", NewMulti)
}

func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	db, err := sql.Open("sqlite", withForeignKeys(cfg.DSN))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MultiRepo{db: db}, nil
}

// withForeignKeys appends the foreign_keys pragma unless the DSN sets it.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func (r *MultiRepo) Close() { _ = r.db.Close() }

// EnsureTables creates each table with AutoCreateTable set, in order.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		q, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows runs one prepared INSERT per row inside a transaction.
func (r *MultiRepo) InsertRows(ctx context.Context, spec storage.TableSpec, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, buildInsertSQL(spec.Name, columns))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert into %s: %w", spec.Name, err)
	}
	defer stmt.Close()

	var total int64
	for i, row := range rows {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert into %s row %d: %w", spec.Name, i, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}

// columnType maps a logical type onto a SQLite affinity. Booleans are 0/1.
func columnType(logical string) string {
	switch logical {
	case storage.TypeKey, storage.TypeInteger, storage.TypeSequence, storage.TypeBoolean:
		return "INTEGER"
	case storage.TypeNumber:
		return "REAL"
	default:
		return "TEXT"
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), columnType(t.PrimaryKey.Type)))
	}

	refs := make(map[string]storage.ForeignKeySpec, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		refs[fk.Column] = fk
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), columnType(c.Type))
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		if fk, ok := refs[c.Name]; ok {
			col += fmt.Sprintf(" REFERENCES %s(%s)", sqlIdent(fk.RefTable), sqlIdent(fk.RefColumn))
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		switch con.Kind {
		case "primary_key":
			parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(con.Columns)))
		case "unique":
			parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
		default:
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("table %s has no columns", t.Name)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlIdent(table), joinIdentList(columns),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
}
