package probe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path      string
		wantTable string
		wantState string
		wantYear  string
		wantQ     string
		wantErr   bool
	}{
		{path: "/x/data/aggregated/user/country/india/state/goa/2021/1.json", wantTable: "aggregated_user", wantState: "goa", wantYear: "2021", wantQ: "1"},
		{path: "data/map/transaction/hover/country/india/2020/latest.json", wantTable: "map_transaction", wantYear: "2020", wantQ: "latest"},
		{path: "root/data/top/user/country/india/2023/4.json", wantTable: "top_user", wantYear: "2023", wantQ: "4"},
		{path: "root/data/top/user/country/india/2023/4.txt", wantErr: true},
		{path: "root/data/top/user/country/india/state/goa/4.json", wantErr: true},
		{path: "/tmp/elsewhere/1.json", wantErr: true},
	}
	for _, tc := range tests {
		d, state, y, q, err := Locate(tc.path)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.path)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		if d.Table != tc.wantTable || state != tc.wantState || y != tc.wantYear || q != tc.wantQ {
			t.Fatalf("%s: got %s %q %q %q", tc.path, d.Table, state, y, q)
		}
	}

	if _, _, _, _, err := Locate("/tmp/elsewhere/1.json"); !errors.Is(err, ErrUnknownDataset) {
		t.Fatalf("err=%v, want ErrUnknownDataset", err)
	}
}

func TestFile_StateTree(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "aggregated", "transaction", "country", "india", "state", "goa", "2022", "2.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	body := `{"success":true,"data":{"transactionData":[{"name":"Recharge","paymentInstruments":[{"count":10,"amount":500}]}]}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := File(path, Options{})
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if r.Table != "aggregated_transaction" || r.Country != "India" || r.State != "goa" || r.Year != 2022 || r.Quarter != 2 {
		t.Fatalf("report=%+v", r)
	}
	if len(r.Rows) != 1 || r.Rows[0][4] != "Recharge" || len(r.Notes) != 0 {
		t.Fatalf("rows=%v notes=%v", r.Rows, r.Notes)
	}
	if len(r.Columns) != len(r.Rows[0]) {
		t.Fatalf("columns=%v do not match row width %d", r.Columns, len(r.Rows[0]))
	}
}

func TestFile_CoercionSkipAndErrors(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"data/top/user/country/india/latest/q.json":     `{"data":null}`,
		"data/map/user/hover/country/india/2023/1.json": `{"data":`,
	}
	read := func(p string) ([]byte, error) {
		for rel, body := range files {
			if filepath.ToSlash(p) == rel {
				return []byte(body), nil
			}
		}
		return nil, os.ErrNotExist
	}

	r, err := File("data/top/user/country/india/latest/q.json", Options{DefaultQuarter: 3, NationalState: "national", ReadFile: read})
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if r.State != "national" || r.Year != 0 || r.Quarter != 3 || len(r.Notes) != 2 {
		t.Fatalf("report=%+v", r)
	}
	if !r.Skipped || r.Reason != "no data" || len(r.Rows) != 0 {
		t.Fatalf("want skip, got %+v", r)
	}

	if _, err := File("data/map/user/hover/country/india/2023/1.json", Options{ReadFile: read}); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := File("data/map/user/hover/country/india/2023/2.json", Options{ReadFile: read}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v, want ErrNotExist", err)
	}
}
