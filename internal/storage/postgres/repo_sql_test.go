package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"pulse/internal/storage"
)

func boolPtr(v bool) *bool { return &v }

func TestBuildResetSQL_DropsWithCascadeAndCreates(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "map_user",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "district", Type: "VARCHAR(150)"},
			{Name: "app_opens", Type: "BIGINT", Nullable: boolPtr(true)},
		},
	}

	dropSQL, createSQL, err := buildResetSQL(spec)
	if err != nil {
		t.Fatalf("buildResetSQL: %v", err)
	}
	if dropSQL != `DROP TABLE IF EXISTS "map_user" CASCADE;` {
		t.Fatalf("dropSQL=%q", dropSQL)
	}
	want := `CREATE TABLE "map_user" ("id" SERIAL PRIMARY KEY, "district" VARCHAR(150) NOT NULL, "app_opens" BIGINT);`
	if createSQL != want {
		t.Fatalf("createSQL=\n%s\nwant\n%s", createSQL, want)
	}
}

func TestBuildResetSQL_SchemaQualifiedName(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:    "pulse.top_user",
		Columns: []storage.ColumnSpec{{Name: "entity_name", Type: "VARCHAR(150)"}},
	}
	dropSQL, createSQL, err := buildResetSQL(spec)
	if err != nil {
		t.Fatalf("buildResetSQL: %v", err)
	}
	if !strings.Contains(dropSQL, `"pulse"."top_user"`) || !strings.Contains(createSQL, `"pulse"."top_user"`) {
		t.Fatalf("expected qualified identifiers; drop=%q create=%q", dropSQL, createSQL)
	}
}

func TestBuildResetSQL_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec storage.TableSpec
	}{
		{name: "empty_name", spec: storage.TableSpec{Columns: []storage.ColumnSpec{{Name: "a", Type: "INT"}}}},
		{name: "no_columns", spec: storage.TableSpec{Name: "t"}},
		{name: "column_without_type", spec: storage.TableSpec{Name: "t", Columns: []storage.ColumnSpec{{Name: "a"}}}},
		{name: "pk_without_type", spec: storage.TableSpec{Name: "t", PrimaryKey: &storage.PrimaryKeySpec{Name: "id"}}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := buildResetSQL(tc.spec); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBuildInsertSQL_NumbersPlaceholdersAcrossRows(t *testing.T) {
	t.Parallel()

	sql, args, err := buildInsertSQL(
		"aggregated_transaction",
		[]string{"state", "count"},
		[][]any{{"All", int64(1)}, {"goa", int64(2)}},
	)
	if err != nil {
		t.Fatalf("buildInsertSQL: %v", err)
	}
	want := `INSERT INTO "aggregated_transaction" ("state", "count") VALUES ($1, $2), ($3, $4)`
	if sql != want {
		t.Fatalf("sql=%q, want %q", sql, want)
	}
	if len(args) != 4 || args[2] != "goa" || args[3] != int64(2) {
		t.Fatalf("args=%#v", args)
	}
}

func TestEffectiveBatchSize_StaysUnderParamLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		requested, columns, want int
	}{
		{requested: 500, columns: 7, want: 500},
		{requested: 20000, columns: 8, want: 8191},
		{requested: 0, columns: 7, want: 9362},
		{requested: -1, columns: 1, want: 65535},
	}
	for _, tc := range tests {
		got := effectiveBatchSize(tc.requested, tc.columns)
		if got != tc.want {
			t.Fatalf("effectiveBatchSize(%d,%d)=%d, want %d", tc.requested, tc.columns, got, tc.want)
		}
		if got*tc.columns > maxParams {
			t.Fatalf("%d rows x %d columns exceeds %d params", got, tc.columns, maxParams)
		}
	}
}

func TestBuildInsertSQL_RejectsRaggedRows(t *testing.T) {
	t.Parallel()

	if _, _, err := buildInsertSQL("t", []string{"a", "b"}, [][]any{{1}}); err == nil {
		t.Fatalf("expected error for short row")
	}
	if _, _, err := buildInsertSQL("t", nil, [][]any{{1}}); err == nil {
		t.Fatalf("expected error for no columns")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantConn bool
	}{
		{name: "nil", err: nil},
		{name: "syntax_error", err: &pgconn.PgError{Code: "42601"}},
		{name: "admin_shutdown", err: &pgconn.PgError{Code: "57P01"}, wantConn: true},
		{name: "connection_failure", err: fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "08006"}), wantConn: true},
		{name: "canceled", err: context.Canceled},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tc.err)
			if tc.err == nil {
				if got != nil {
					t.Fatalf("classify(nil)=%v", got)
				}
				return
			}
			if errors.Is(got, storage.ErrConnection) != tc.wantConn {
				t.Fatalf("classify(%v) conn=%v, want %v", tc.err, !tc.wantConn, tc.wantConn)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("classify must keep the cause in the chain")
			}
		})
	}
}

func TestDialect(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if d.Placeholder(3) != "$3" || d.Ident(`a"b`) != `"a""b"` || d.Limit(5) != "LIMIT 5" || d.Name() != "postgres" {
		t.Fatalf("unexpected dialect output")
	}
}
