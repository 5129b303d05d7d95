// Package loader writes normalized rows through a storage backend, retrying
// connection failures with exponential backoff.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pulse/internal/storage"
)

const (
	DefaultBatchSize       = 500
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 200 * time.Millisecond
)

// ErrFatal marks a load that could not reach the database after all retries.
// Callers abort the run on it; any other error only fails the current file.
var ErrFatal = errors.New("loader: database unreachable")

// Inserter is the subset of storage.Repository the loader needs.
type Inserter interface {
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) (int64, error)
}

type Logger interface {
	Warnf(format string, v ...any)
}

type Loader struct {
	Repo Inserter

	BatchSize int // rows per INSERT statement; 0 means DefaultBatchSize

	// MaxRetries is the number of extra attempts after a connection failure.
	// 0 means DefaultMaxRetries, negative disables retries.
	MaxRetries      int
	InitialInterval time.Duration

	Logger Logger
}

func (l *Loader) batchSize() int {
	if l.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return l.BatchSize
}

func (l *Loader) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = DefaultInitialInterval
	if l.InitialInterval > 0 {
		eb.InitialInterval = l.InitialInterval
	}
	retries := l.MaxRetries
	switch {
	case retries == 0:
		retries = DefaultMaxRetries
	case retries < 0:
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Load inserts rows into table in one transaction and returns the number
// inserted. Empty input is a no-op.
func (l *Loader) Load(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if l.Repo == nil {
		return 0, fmt.Errorf("loader: repository is nil")
	}

	var n int64
	op := func() error {
		var err error
		n, err = l.Repo.InsertRows(ctx, table, columns, rows, l.batchSize())
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrConnection) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		if l.Logger != nil {
			l.Logger.Warnf("stage=load table=%s retry_in=%s err=%v", table, wait, err)
		}
	}

	if err := backoff.RetryNotify(op, l.policy(ctx), notify); err != nil {
		if errors.Is(err, storage.ErrConnection) {
			return 0, fmt.Errorf("%w: %s: %w", ErrFatal, table, err)
		}
		return 0, fmt.Errorf("loader: %s: %w", table, err)
	}
	return n, nil
}
