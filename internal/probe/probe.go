// Package probe inspects a single data file without touching a database: the
// table it feeds, the key its path implies and the rows a load would insert.
package probe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pulse/internal/dataset"
)

// ErrUnknownDataset is returned for paths outside every dataset folder.
var ErrUnknownDataset = errors.New("probe: path is not under a known dataset folder")

type Options struct {
	Country        string // default "India"
	NationalState  string // default "All"
	DefaultQuarter int

	// ReadFile defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Report describes what loading one file would do.
type Report struct {
	Path    string   `json:"path"`
	Table   string   `json:"table"`
	Country string   `json:"country"`
	State   string   `json:"state"`
	Year    int      `json:"year"`
	Quarter int      `json:"quarter"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Skipped bool     `json:"skipped"`
	Reason  string   `json:"reason,omitempty"`

	// Notes lists path coercions (non-numeric year or quarter).
	Notes []string `json:"notes,omitempty"`
}

// Locate finds the dataset a path belongs to. state is "" for the national
// tree; year and quarter are the last two path segments, unparsed.
func Locate(path string) (d dataset.Descriptor, state, year, quarter string, err error) {
	p := filepath.ToSlash(path)
	for _, cand := range dataset.All() {
		i := strings.Index(p, cand.Path+"/")
		if i < 0 {
			continue
		}
		rest := strings.Split(p[i+len(cand.Path)+1:], "/")
		if len(rest) == 4 && rest[0] == "state" {
			state, rest = rest[1], rest[2:]
		}
		if len(rest) != 2 || !strings.HasSuffix(rest[1], ".json") {
			return cand, "", "", "", fmt.Errorf("probe: %s: want [state/<name>/]<year>/<quarter>.json under %s", path, cand.Path)
		}
		return cand, state, rest[0], strings.TrimSuffix(rest[1], ".json"), nil
	}
	return dataset.Descriptor{}, "", "", "", fmt.Errorf("%w: %s", ErrUnknownDataset, path)
}

// File reads, decodes and normalizes one file.
func File(path string, opts Options) (Report, error) {
	if opts.Country == "" {
		opts.Country = "India"
	}
	if opts.NationalState == "" {
		opts.NationalState = "All"
	}
	read := opts.ReadFile
	if read == nil {
		read = os.ReadFile
	}

	d, state, ys, qs, err := Locate(path)
	if err != nil {
		return Report{}, err
	}
	if state == "" {
		state = opts.NationalState
	}

	r := Report{Path: path, Table: d.Table, Country: opts.Country, State: state, Columns: d.Columns}
	if r.Year, err = strconv.Atoi(ys); err != nil {
		r.Year = 0
		r.Notes = append(r.Notes, fmt.Sprintf("year folder %q not numeric, using year=0", ys))
	}
	if r.Quarter, err = strconv.Atoi(qs); err != nil {
		r.Quarter = opts.DefaultQuarter
		r.Notes = append(r.Notes, fmt.Sprintf("quarter file name %q not numeric, using default quarter=%d", qs, opts.DefaultQuarter))
	}

	raw, err := read(path)
	if err != nil {
		return r, fmt.Errorf("probe: read %s: %w", path, err)
	}
	payload, err := dataset.DecodeEnvelope(raw)
	if err != nil {
		return r, fmt.Errorf("probe: decode %s: %w", path, err)
	}
	res, err := d.Normalize(dataset.Key{Country: r.Country, State: r.State, Year: r.Year, Quarter: r.Quarter}, payload)
	if err != nil {
		return r, fmt.Errorf("probe: %s: %w", path, err)
	}
	r.Rows, r.Skipped, r.Reason = res.Rows, res.Skipped, res.Reason
	return r, nil
}
