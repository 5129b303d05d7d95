package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pulse/internal/dataset"
	"pulse/internal/loader"
	"pulse/internal/storage"
	_ "pulse/internal/storage/sqlite"
)

type recLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recLogger) add(level, f string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(f, v...))
}

func (l *recLogger) Printf(f string, v ...any) { l.add("INFO", f, v...) }
func (l *recLogger) Warnf(f string, v ...any)  { l.add("WARN", f, v...) }
func (l *recLogger) Errorf(f string, v ...any) { l.add("ERROR", f, v...) }

func (l *recLogger) find(level, substr string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, s := range l.lines {
		if strings.HasPrefix(s, level+" ") && strings.Contains(s, substr) {
			out = append(out, s)
		}
	}
	return out
}

func writeCorpus(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func openSQLite(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "pulse.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func queryRows(t *testing.T, repo storage.Repository, q string, scan func(storage.RowScanner) error) {
	t.Helper()
	if err := repo.Query(context.Background(), q, nil, scan); err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
}

func countTable(t *testing.T, repo storage.Repository, table string) int {
	t.Helper()
	var n int
	queryRows(t, repo, `SELECT COUNT(*) FROM "`+table+`"`, func(s storage.RowScanner) error { return s.Scan(&n) })
	return n
}

func statsFor(t *testing.T, sum Summary, table string) TableStats {
	t.Helper()
	for _, st := range sum.Tables {
		if st.Table == table {
			return st
		}
	}
	t.Fatalf("no stats for %s in %+v", table, sum.Tables)
	return TableStats{}
}

var defaultOpts = Options{Country: "India", NationalState: "All", DefaultQuarter: 0}

func TestEngineRun_EndToEndOnSQLite(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeCorpus(t, root, map[string]string{
		// Scenario A, state tree.
		"data/aggregated/transaction/country/india/state/Maharashtra/2022/2.json": `{"success":true,"data":{"transactionData":[{"name":"Recharge","paymentInstruments":[{"type":"TOTAL","count":10,"amount":500.0}]}]}}`,
		// National tree alongside it.
		"data/aggregated/transaction/country/india/2022/1.json": `{"data":{"transactionData":[{"name":"P2P","paymentInstruments":[{"count":1,"amount":1},{"count":2,"amount":2}]}]}}`,
		// Scenario B.
		"data/aggregated/user/country/india/state/goa/2021/1.json": `{"data":{"totalUsers":12345}}`,
		// Scenario C.
		"data/map/user/hover/country/india/2023/1.json": `{"data":{"hoverData":{"Pune":{"registeredUsers":100,"appOpens":40},"Nagpur":{}}}}`,
		// Scenario D.
		"data/top/user/country/india/2023/1.json": `{"data":null}`,
		"data/top/transaction/country/india/2023/4.json": `{"data":{"pincodes":null}}`,
		// Parse failure and coerced quarter.
		"data/map/transaction/hover/country/india/2020/1.json":      `{"data":`,
		"data/map/transaction/hover/country/india/2020/latest.json": `{"data":{"hoverDataList":[{"name":"x","metric":[{"count":3,"amount":4}]}]}}`,
	})

	repo := openSQLite(t)
	log := &recLogger{}
	opts := defaultOpts
	opts.Root = root

	sum, err := (&Engine{Repo: repo, Logger: log}).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sum.Tables) != 7 {
		t.Fatalf("tables=%d, want 7", len(sum.Tables))
	}

	// Scenario A.
	var (
		country, state, typ string
		year, quarter       int
		count               int64
		amount              float64
	)
	queryRows(t, repo, `SELECT country, state, year, quarter, transaction_type, count, amount FROM aggregated_transaction WHERE state = 'Maharashtra'`,
		func(s storage.RowScanner) error { return s.Scan(&country, &state, &year, &quarter, &typ, &count, &amount) })
	if country != "India" || state != "Maharashtra" || year != 2022 || quarter != 2 || typ != "Recharge" || count != 10 || amount != 500.0 {
		t.Fatalf("scenario A row=(%s,%s,%d,%d,%s,%d,%v)", country, state, year, quarter, typ, count, amount)
	}
	if n := countTable(t, repo, "aggregated_transaction"); n != 3 {
		t.Fatalf("aggregated_transaction rows=%d, want 3", n)
	}
	var national int
	queryRows(t, repo, `SELECT COUNT(*) FROM aggregated_transaction WHERE state = 'All'`, func(s storage.RowScanner) error { return s.Scan(&national) })
	if national != 2 {
		t.Fatalf("national rows=%d, want 2", national)
	}

	// Scenario B.
	var brand string
	var users int64
	var pct float64
	queryRows(t, repo, `SELECT device_brand, user_count, user_percentage FROM aggregated_user`,
		func(s storage.RowScanner) error { return s.Scan(&brand, &users, &pct) })
	if brand != "All Devices" || users != 12345 || pct != 100.0 {
		t.Fatalf("scenario B row=(%s,%d,%v)", brand, users, pct)
	}

	// Scenario C.
	got := map[string][2]int64{}
	queryRows(t, repo, `SELECT district, registered_users, app_opens FROM map_user`, func(s storage.RowScanner) error {
		var d string
		var ru, ao int64
		if err := s.Scan(&d, &ru, &ao); err != nil {
			return err
		}
		got[d] = [2]int64{ru, ao}
		return nil
	})
	if len(got) != 2 || got["Pune"] != [2]int64{100, 40} || got["Nagpur"] != [2]int64{0, 0} {
		t.Fatalf("scenario C rows=%v", got)
	}

	// Scenario D.
	if n := countTable(t, repo, "top_user"); n != 0 {
		t.Fatalf("top_user rows=%d, want 0", n)
	}
	skips := log.find("WARN", "Skipped top_user")
	if len(skips) != 1 || !strings.Contains(skips[0], filepath.Join("2023", "1.json")) {
		t.Fatalf("skip logs=%v", skips)
	}
	if st := statsFor(t, sum, "top_user"); st.Skipped != 1 || st.Rows != 0 {
		t.Fatalf("top_user stats=%+v", st)
	}
	// Missing keys in an otherwise present top payload: zero rows, not a skip.
	if st := statsFor(t, sum, "top_transaction"); st.Skipped != 0 || st.Loaded != 1 || st.Rows != 0 {
		t.Fatalf("top_transaction stats=%+v", st)
	}

	// Parse failure is isolated; the sibling with a coerced quarter still loads.
	mt := statsFor(t, sum, "map_transaction")
	if mt.ParseErrors != 1 || mt.Rows != 1 {
		t.Fatalf("map_transaction stats=%+v", mt)
	}
	var q int
	queryRows(t, repo, `SELECT quarter FROM map_transaction`, func(s storage.RowScanner) error { return s.Scan(&q) })
	if q != 0 {
		t.Fatalf("coerced quarter=%d, want default 0", q)
	}
	if len(log.find("ERROR", "Failed to load")) != 1 {
		t.Fatalf("want one parse error log")
	}

	// Absent dataset root is a warning, not an error.
	if len(log.find("WARN", "Path does not exist")) == 0 {
		t.Fatalf("missing insurance root not reported")
	}

	if sum.TotalRows() != 3+1+2+1 {
		t.Fatalf("total rows=%d, want 7", sum.TotalRows())
	}
}

func TestEngineRun_ResetsPreviousData(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeCorpus(t, root, map[string]string{
		"data/aggregated/user/country/india/2021/1.json": `{"data":{"totalUsers":1}}`,
	})
	repo := openSQLite(t)
	opts := defaultOpts
	opts.Root = root
	opts.Kinds = []dataset.Kind{dataset.AggregatedUser}

	for i := 0; i < 2; i++ {
		if _, err := (&Engine{Repo: repo, Logger: &recLogger{}}).Run(context.Background(), opts); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}
	if n := countTable(t, repo, "aggregated_user"); n != 1 {
		t.Fatalf("rows after two runs=%d, want 1", n)
	}
}

// flakyRepo fails inserts into one table with a fixed error.
type flakyRepo struct {
	storage.Repository
	table string
	err   error
}

func (f *flakyRepo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if table == f.table {
		return 0, f.err
	}
	return f.Repository.InsertRows(ctx, table, columns, rows, batchSize)
}

func TestEngineRun_DataErrorFailsFileOnly(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeCorpus(t, root, map[string]string{
		"data/map/user/hover/country/india/2023/1.json":           `{"data":{"hoverData":{"Pune":{}}}}`,
		"data/map/user/hover/country/india/state/goa/2023/1.json": `{"data":{"hoverData":{"Panaji":{}}}}`,
		"data/top/user/country/india/2023/1.json":                 `{"data":{"districts":[{"name":"thane","registeredUsers":7}]}}`,
	})
	repo := &flakyRepo{Repository: openSQLite(t), table: "map_user", err: errors.New("value too long")}
	log := &recLogger{}
	opts := defaultOpts
	opts.Root = root

	sum, err := (&Engine{Repo: repo, Logger: log}).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := statsFor(t, sum, "map_user"); st.Failed != 2 || st.Rows != 0 {
		t.Fatalf("map_user stats=%+v", st)
	}
	if st := statsFor(t, sum, "top_user"); st.Rows != 1 {
		t.Fatalf("top_user stats=%+v", st)
	}
	if len(log.find("ERROR", "Failed to insert map_user")) != 2 {
		t.Fatalf("want two insert failure logs: %v", log.lines)
	}
}

func TestEngineRun_ConnectionLossIsFatal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeCorpus(t, root, map[string]string{
		"data/aggregated/transaction/country/india/2022/1.json": `{"data":{"transactionData":[{"name":"P2P","paymentInstruments":[{"count":1,"amount":1}]}]}}`,
		"data/aggregated/transaction/country/india/2022/2.json": `{"data":{"transactionData":[{"name":"P2P","paymentInstruments":[{"count":1,"amount":1}]}]}}`,
	})
	base := openSQLite(t)
	repo := &flakyRepo{Repository: base, table: "aggregated_transaction", err: fmt.Errorf("%w: broken pipe", storage.ErrConnection)}
	opts := defaultOpts
	opts.Root = root

	e := &Engine{
		Repo:   repo,
		Logger: &recLogger{},
		Loader: &loader.Loader{Repo: repo, MaxRetries: 1, InitialInterval: time.Millisecond},
	}
	sum, err := e.Run(context.Background(), opts)
	if !errors.Is(err, loader.ErrFatal) {
		t.Fatalf("err=%v, want loader.ErrFatal", err)
	}
	if len(sum.Tables) != 1 {
		t.Fatalf("run continued past fatal error: %+v", sum.Tables)
	}
}

func TestEngineRun_ResetFailureAborts(t *testing.T) {
	t.Parallel()

	repo := &resetFailRepo{}
	_, err := (&Engine{Repo: repo, Logger: &recLogger{}}).Run(context.Background(), Options{Root: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "schema: reset") {
		t.Fatalf("err=%v", err)
	}
	if repo.inserts != 0 {
		t.Fatalf("inserts after failed reset: %d", repo.inserts)
	}
}

type resetFailRepo struct {
	storage.Repository
	inserts int
}

func (r *resetFailRepo) ResetTables(context.Context, []storage.TableSpec) error {
	return errors.New("permission denied for schema public")
}

func (r *resetFailRepo) InsertRows(context.Context, string, []string, [][]any, int) (int64, error) {
	r.inserts++
	return 0, nil
}

func TestEngineRun_Canceled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeCorpus(t, root, map[string]string{
		"data/aggregated/transaction/country/india/2022/1.json": `{"data":{}}`,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Engine{Repo: openSQLite(t), Logger: &recLogger{}}).Run(ctx, Options{Root: root})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestEngineRun_RequiresRepoAndLogger(t *testing.T) {
	t.Parallel()

	if _, err := (&Engine{Logger: &recLogger{}}).Run(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error without repo")
	}
	if _, err := (&Engine{Repo: &resetFailRepo{}}).Run(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error without logger")
	}
}
