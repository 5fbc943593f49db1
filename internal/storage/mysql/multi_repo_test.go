package mysql

import (
	"strings"
	"testing"

	"itemexport/internal/storage"
)

func TestNormalizeDSN(t *testing.T) {
	t.Parallel()

	got, err := normalizeDSN("u:p@tcp(db:3306)/items")
	if err != nil {
		t.Fatalf("normalizeDSN: %v", err)
	}
	if !strings.Contains(got, "timeout=10s") || !strings.Contains(got, "tcp(db:3306)/items") {
		t.Fatalf("got %q", got)
	}

	got, err = normalizeDSN("u:p@tcp(db:3306)/items?timeout=3s")
	if err != nil {
		t.Fatalf("normalizeDSN: %v", err)
	}
	if !strings.Contains(got, "timeout=3s") {
		t.Fatalf("explicit timeout overridden: %q", got)
	}

	if _, err := normalizeDSN("u:p@tcp(db:3306)/"); err == nil {
		t.Fatalf("expected error for missing database")
	}
	if _, err := normalizeDSN("not a dsn"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	link := storage.TableSpec{
		Name: "PersonWorksAtCompany",
		Columns: []storage.ColumnSpec{
			{Name: "Person_ID", Type: storage.TypeKey, Nullable: storage.BoolPtr(false)},
			{Name: "WorksAtCompany_ID", Type: storage.TypeKey, Nullable: storage.BoolPtr(false)},
			{Name: "seq", Type: storage.TypeInteger, Nullable: storage.BoolPtr(false)},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "primary_key", Columns: []string{"Person_ID", "WorksAtCompany_ID"}}},
		ForeignKeys: []storage.ForeignKeySpec{{Column: "Person_ID", RefTable: "Person", RefColumn: "Person_ID"}},
	}
	q, err := buildCreateSQL(link)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS `PersonWorksAtCompany`",
		"`Person_ID` BIGINT NOT NULL",
		"PRIMARY KEY (`Person_ID`, `WorksAtCompany_ID`)",
		"FOREIGN KEY (`Person_ID`) REFERENCES `Person` (`Person_ID`)",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("DDL missing %q: %s", want, q)
		}
	}

	primary := storage.TableSpec{
		Name:       "Person",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "Person_ID", Type: storage.TypeKey},
		Columns:    []storage.ColumnSpec{{Name: "Bio", Type: storage.TypeText}, {Name: "Ok", Type: storage.TypeBoolean}},
	}
	q, err = buildCreateSQL(primary)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if !strings.Contains(q, "`Bio` LONGTEXT,") || !strings.Contains(q, "`Ok` BOOLEAN") {
		t.Fatalf("DDL=%s", q)
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("Company", []string{"Company_ID", "Name"}, [][]any{{int64(1), "Acme"}, {int64(2), nil}})
	if q != "INSERT INTO `Company` (`Company_ID`, `Name`) VALUES (?, ?), (?, ?)" {
		t.Fatalf("q=%q", q)
	}
	if len(args) != 4 || args[2] != int64(2) {
		t.Fatalf("args=%v", args)
	}
}
