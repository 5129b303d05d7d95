package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"pulse/internal/storage"
)

func boolPtr(v bool) *bool { return &v }

func testSpec() storage.TableSpec {
	return storage.TableSpec{
		Name:       "map_transaction",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "state", Type: "VARCHAR(100)"},
			{Name: "count", Type: "BIGINT"},
			{Name: "amount", Type: "DOUBLE PRECISION", Nullable: boolPtr(true)},
		},
	}
}

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "pulse.db")
	repo, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo.(*Repo)
}

func countRows(t *testing.T, r *Repo, table string) int64 {
	t.Helper()
	var n int64
	err := r.Query(context.Background(), "SELECT COUNT(*) FROM "+sqlIdent(table), nil, func(s storage.RowScanner) error {
		return s.Scan(&n)
	})
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestBuildResetSQL_TranslatesSerial(t *testing.T) {
	t.Parallel()

	dropSQL, createSQL, err := buildResetSQL(testSpec())
	if err != nil {
		t.Fatalf("buildResetSQL: %v", err)
	}
	if dropSQL != `DROP TABLE IF EXISTS "map_transaction";` {
		t.Fatalf("dropSQL=%q", dropSQL)
	}
	for _, want := range []string{
		`"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"state" VARCHAR(100) NOT NULL`,
		`"amount" DOUBLE PRECISION` + "\n",
	} {
		if !strings.Contains(createSQL, want) {
			t.Fatalf("createSQL missing %q:\n%s", want, createSQL)
		}
	}
}

func TestResetTables_IsRepeatableAndEmptiesTables(t *testing.T) {
	t.Parallel()

	r := openTestRepo(t)
	ctx := context.Background()
	specs := []storage.TableSpec{testSpec()}

	if err := r.ResetTables(ctx, specs); err != nil {
		t.Fatalf("ResetTables #1: %v", err)
	}
	if _, err := r.InsertRows(ctx, "map_transaction", []string{"state", "count", "amount"},
		[][]any{{"All", int64(1), 1.5}}, 10); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if err := r.ResetTables(ctx, specs); err != nil {
		t.Fatalf("ResetTables #2: %v", err)
	}
	if n := countRows(t, r, "map_transaction"); n != 0 {
		t.Fatalf("rows after reset=%d, want 0", n)
	}
}

func TestInsertRows_ChunksAndAssignsIDs(t *testing.T) {
	t.Parallel()

	r := openTestRepo(t)
	ctx := context.Background()
	if err := r.ResetTables(ctx, []storage.TableSpec{testSpec()}); err != nil {
		t.Fatalf("ResetTables: %v", err)
	}

	rows := make([][]any, 0, 7)
	for i := 0; i < 7; i++ {
		rows = append(rows, []any{"All", int64(i), float64(i) * 2})
	}
	n, err := r.InsertRows(ctx, "map_transaction", []string{"state", "count", "amount"}, rows, 3)
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 7 {
		t.Fatalf("inserted=%d, want 7", n)
	}

	var maxID int64
	err = r.Query(ctx, `SELECT MAX("id") FROM "map_transaction"`, nil, func(s storage.RowScanner) error {
		return s.Scan(&maxID)
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if maxID != 7 {
		t.Fatalf("max id=%d, want 7", maxID)
	}
}

func TestInsertRows_OversizedBatchStaysUnderVariableLimit(t *testing.T) {
	t.Parallel()

	r := openTestRepo(t)
	ctx := context.Background()
	if err := r.ResetTables(ctx, []storage.TableSpec{testSpec()}); err != nil {
		t.Fatalf("ResetTables: %v", err)
	}

	// 12000 rows x 3 columns is more bind variables than one statement allows.
	rows := make([][]any, 0, 12000)
	for i := 0; i < 12000; i++ {
		rows = append(rows, []any{"All", int64(i), 1.0})
	}
	for _, batch := range []int{0, 20000} {
		n, err := r.InsertRows(ctx, "map_transaction", []string{"state", "count", "amount"}, rows, batch)
		if err != nil {
			t.Fatalf("InsertRows(batch=%d): %v", batch, err)
		}
		if n != int64(len(rows)) {
			t.Fatalf("batch=%d inserted=%d, want %d", batch, n, len(rows))
		}
	}
	if got := effectiveBatchSize(20000, 3); got*3 > maxVariables {
		t.Fatalf("effectiveBatchSize=%d exceeds limit", got)
	}
}

func TestInsertRows_RollsBackWholeCallOnError(t *testing.T) {
	t.Parallel()

	r := openTestRepo(t)
	ctx := context.Background()
	if err := r.ResetTables(ctx, []storage.TableSpec{testSpec()}); err != nil {
		t.Fatalf("ResetTables: %v", err)
	}

	// The second chunk violates NOT NULL on state; the first chunk must not survive.
	rows := [][]any{
		{"All", int64(1), 1.0},
		{"All", int64(2), 2.0},
		{nil, int64(3), 3.0},
	}
	if _, err := r.InsertRows(ctx, "map_transaction", []string{"state", "count", "amount"}, rows, 2); err == nil {
		t.Fatalf("expected NOT NULL violation")
	}
	if n := countRows(t, r, "map_transaction"); n != 0 {
		t.Fatalf("rows after failed insert=%d, want 0", n)
	}
}

func TestInsertRows_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	r := openTestRepo(t)
	n, err := r.InsertRows(context.Background(), "does_not_exist", []string{"a"}, nil, 10)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v, want 0,nil", n, err)
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args, err := buildInsertSQL("top_user", []string{"entity_name", "registered_users"},
		[][]any{{"pune", int64(10)}, {"411001", int64(3)}})
	if err != nil {
		t.Fatalf("buildInsertSQL: %v", err)
	}
	want := `INSERT INTO "top_user" ("entity_name", "registered_users") VALUES (?,?), (?,?)`
	if q != want {
		t.Fatalf("q=%q, want %q", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("args=%d, want 4", len(args))
	}
}
