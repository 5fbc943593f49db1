// Package mysql is the MySQL/MariaDB export backend.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"itemexport/internal/storage"
)

// MySQL allows 65535 placeholders per prepared statement.
const maxParams = 65535

const defaultDialTimeout = 10 * time.Second

// MultiRepo implements storage.MultiRepository for MySQL.
type MultiRepo struct {
	db *sql.DB
}

func init() {
	storage.RegisterMulti("mysql", NewMulti)
}

// NewMulti opens a connection pool for cfg.DSN in go-sql-driver form
// ("user:pass@tcp(host:3306)/db"). The DSN must name a database.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MultiRepo{db: db}, nil
}

func normalizeDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	if c.DBName == "" {
		return "", fmt.Errorf("mysql: dsn names no database")
	}
	if c.Timeout == 0 {
		c.Timeout = defaultDialTimeout
	}
	return c.FormatDSN(), nil
}

func (r *MultiRepo) Close() { _ = r.db.Close() }

// EnsureTables creates each table with AutoCreateTable set, in order.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mysql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows writes rows with multi-row INSERTs inside one transaction.
func (r *MultiRepo) InsertRows(ctx context.Context, spec storage.TableSpec, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mysql: table %s: no columns", spec.Name)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := max(1, maxParams/len(columns))
	var total int64
	for start := 0; start < len(rows); start += per {
		chunk := rows[start:min(start+per, len(rows))]
		q, args := buildInsertSQL(spec.Name, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mysql: insert into %s: %w", spec.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// columnType maps a logical column type onto a MySQL type. LONGTEXT cannot
// be indexed, but only key columns ever are.
func columnType(logical string) string {
	switch logical {
	case storage.TypeKey, storage.TypeInteger:
		return "BIGINT"
	case storage.TypeSequence:
		return "INT"
	case storage.TypeNumber:
		return "DOUBLE"
	case storage.TypeBoolean:
		return "BOOLEAN"
	default:
		return "LONGTEXT"
	}
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mysql: table name is empty")
	}
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", ident(t.PrimaryKey.Name), columnType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		col := ident(c.Name) + " " + columnType(c.Type)
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	for _, con := range t.Constraints {
		switch con.Kind {
		case "primary_key":
			parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdents(con.Columns)))
		case "unique":
			parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdents(con.Columns)))
		default:
			return "", fmt.Errorf("mysql: table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
	}
	// InnoDB only accepts REFERENCES as a table-level clause.
	for _, fk := range t.ForeignKeys {
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", ident(fk.Column), ident(fk.RefTable), ident(fk.RefColumn)))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("mysql: table %s has no columns", t.Name)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", ident(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(ident(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row[:len(columns)]...)
	}
	return b.String(), args
}

func ident(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}
