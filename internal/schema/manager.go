package schema

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/storage"
)

// Logger is satisfied by *log.Logger and the run logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Resetter is the slice of storage.Repository the manager needs.
type Resetter interface {
	ResetTables(ctx context.Context, tables []storage.TableSpec) error
}

// Manager destructively recreates the statistics tables.
type Manager struct {
	Repo   Resetter
	Logger Logger
}

// Reset drops and recreates all seven tables. Any DDL error is returned and
// must abort the run; calling Reset twice leaves seven empty tables.
func (m *Manager) Reset(ctx context.Context) error {
	if m.Repo == nil {
		return fmt.Errorf("schema: Repo is required")
	}
	start := time.Now()
	tables := Tables()
	if err := m.Repo.ResetTables(ctx, tables); err != nil {
		return fmt.Errorf("schema: reset: %w", err)
	}
	if m.Logger != nil {
		m.Logger.Printf("stage=schema_reset ok tables=%d duration=%s", len(tables), time.Since(start).Truncate(time.Millisecond))
	}
	return nil
}
