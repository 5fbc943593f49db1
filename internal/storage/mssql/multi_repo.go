package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"itemexport/internal/storage"
)

// SQL Server caps a statement at 2100 parameters and a VALUES list at 1000
// rows.
const (
	maxParams    = 2100
	maxValueRows = 1000
)

// MultiRepo implements storage.MultiRepository for Microsoft SQL Server.
//
// Tables are created behind an OBJECT_ID guard. Rows are inserted with
// multi-row INSERT ... VALUES statements using @pN parameters, split so no
// statement exceeds the server limits, all inside one transaction per
// InsertRows call.
type MultiRepo struct {
	db dbConn
}

func init() {
	storage.RegisterMulti("mssql", NewMulti)
}

// NewMulti opens a database/sql handle on the "sqlserver" driver and pings it.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &MultiRepo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *MultiRepo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

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
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows inserts rows in as few statements as the parameter limit allows.
func (r *MultiRepo) InsertRows(ctx context.Context, spec storage.TableSpec, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 || len(columns) > maxParams {
		return 0, fmt.Errorf("mssql: table %s: cannot insert %d columns", spec.Name, len(columns))
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range chunkRows(rows, rowsPerStatement(len(columns))) {
		q, args := buildBulkInsertSQL(spec.Name, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert into %s: %w", spec.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func rowsPerStatement(columns int) int {
	return min(maxValueRows, (maxParams-1)/columns)
}

func chunkRows(rows [][]any, size int) [][][]any {
	var out [][][]any
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	return append(out, rows)
}

// columnType maps a logical column type onto a SQL Server type. Text is
// NVARCHAR(MAX); keys and link columns are BIGINT so they can be indexed.
func columnType(logical string) string {
	switch logical {
	case storage.TypeKey, storage.TypeInteger:
		return "BIGINT"
	case storage.TypeSequence:
		return "INT"
	case storage.TypeNumber:
		return "FLOAT"
	case storage.TypeBoolean:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// buildCreateSQL builds an idempotent CREATE TABLE for t.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	defs, err := buildCreateTableDefs(t)
	if err != nil {
		return "", err
	}
	return wrapCreateIfMissing(t.Name, defs), nil
}

// buildCreateTableDefs produces the "(...)" inner content for CREATE TABLE.
func buildCreateTableDefs(t storage.TableSpec) (string, error) {
	var parts []string

	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return "", fmt.Errorf("mssql: table %s: primary key name is empty", t.Name)
		}
		parts = append(parts, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name), columnType(t.PrimaryKey.Type)))
	}

	refs := make(map[string]storage.ForeignKeySpec, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		refs[fk.Column] = fk
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("mssql: table %s: column name is empty", t.Name)
		}
		def := mssqlIdent(c.Name) + " " + columnType(c.Type)
		if c.IsNullable() {
			def += " NULL"
		} else {
			def += " NOT NULL"
		}
		if fk, ok := refs[c.Name]; ok {
			def += fmt.Sprintf(" REFERENCES %s (%s)", mssqlTableIdent(fk.RefTable), mssqlIdent(fk.RefColumn))
		}
		parts = append(parts, def)
	}

	for _, con := range t.Constraints {
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("mssql: table %s: %s constraint has no columns", t.Name, con.Kind)
		}
		cols := make([]string, len(con.Columns))
		for i, c := range con.Columns {
			cols[i] = mssqlIdent(c)
		}
		switch strings.ToLower(con.Kind) {
		case "primary_key":
			parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(cols, ", ")))
		case "unique":
			parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
		default:
			return "", fmt.Errorf("mssql: table %s: unsupported constraint kind: %s", t.Name, con.Kind)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}
	return strings.Join(parts, ", "), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.Person" -> [dbo].[Person]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
