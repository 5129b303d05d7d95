// Package walker traverses <base>/<year>/<quarter>.json trees and hands each
// decoded payload to a callback.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pulse/internal/dataset"
)

const dataSuffix = ".json"

// Logger is satisfied by *runlog.Logger.
type Logger interface {
	Printf(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// File is one decoded corpus file. Payload is nil when "data" was absent or null.
type File struct {
	Path    string
	Year    int
	Quarter int

	// QuarterDefaulted is set when the file name was not a number and the
	// caller's default quarter was used instead.
	QuarterDefaulted bool

	Payload []byte
}

// Stats counts what one Walk saw.
type Stats struct {
	Files       int // files handed to the callback
	ParseErrors int // files skipped because they could not be read or decoded
	Coerced     int // year or quarter segments that were not numbers
}

func (s *Stats) Add(o Stats) {
	s.Files += o.Files
	s.ParseErrors += o.ParseErrors
	s.Coerced += o.Coerced
}

type Walker struct {
	Logger Logger

	// SkipDirs are year-level directory names to ignore (e.g. "state" when
	// walking a national root).
	SkipDirs []string

	// ReadFile is a seam for tests. Nil means os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

func (w *Walker) log() Logger {
	if w.Logger == nil {
		return nopLogger{}
	}
	return w.Logger
}

func (w *Walker) readFile(name string) ([]byte, error) {
	if w.ReadFile != nil {
		return w.ReadFile(name)
	}
	return os.ReadFile(name)
}

func (w *Walker) skipped(name string) bool {
	for _, s := range w.SkipDirs {
		if s == name {
			return true
		}
	}
	return false
}

// Walk visits every <base>/<year>/<quarter>.json file in name order.
//
// A missing base is logged and returns nil. Read and parse failures are
// logged and counted; the file is skipped and siblings continue. An error
// returned by fn stops the walk and is returned unchanged.
func (w *Walker) Walk(ctx context.Context, base string, defaultQuarter int, fn func(File) error) (Stats, error) {
	var st Stats

	years, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.log().Warnf("Path does not exist: %s", base)
			return st, nil
		}
		return st, fmt.Errorf("walker: read dir %s: %w", base, err)
	}

	for _, yd := range years {
		if !isDir(base, yd) || w.skipped(yd.Name()) {
			continue
		}
		yearPath := filepath.Join(base, yd.Name())
		year, err := strconv.Atoi(yd.Name())
		if err != nil {
			year = 0
			st.Coerced++
			w.log().Warnf("year folder not numeric, using year=0: %s", yearPath)
		}

		files, err := os.ReadDir(yearPath)
		if err != nil {
			st.ParseErrors++
			w.log().Errorf("Failed to list %s: %v", yearPath, err)
			continue
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

		for _, fe := range files {
			if isDir(yearPath, fe) || !strings.HasSuffix(fe.Name(), dataSuffix) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return st, err
			}

			path := filepath.Join(yearPath, fe.Name())
			f := File{Path: path, Year: year}
			q, err := strconv.Atoi(strings.TrimSuffix(fe.Name(), dataSuffix))
			if err != nil {
				f.Quarter = defaultQuarter
				f.QuarterDefaulted = true
				st.Coerced++
				w.log().Warnf("quarter file name not numeric, using default quarter=%d: %s", defaultQuarter, path)
			} else {
				f.Quarter = q
			}

			b, err := w.readFile(path)
			if err != nil {
				st.ParseErrors++
				w.log().Errorf("Failed to load %s: %v", path, err)
				continue
			}
			payload, err := dataset.DecodeEnvelope(b)
			if err != nil {
				st.ParseErrors++
				w.log().Errorf("Failed to load %s: %v", path, err)
				continue
			}
			f.Payload = payload

			st.Files++
			if err := fn(f); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

// States lists the state directory names under root in name order. A missing
// root yields no states and no error.
func (w *Walker) States(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("walker: list states %s: %w", root, err)
	}
	var out []string
	for _, e := range entries {
		if isDir(root, e) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// isDir reports whether e is a directory, following symlinks.
func isDir(parent string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && fi.IsDir()
}
