package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"pulse/internal/config"
	"pulse/internal/loader"
	"pulse/internal/schema"
	"pulse/internal/storage"
)

// Runner opens storage from a pipeline config and drives the Engine.
type Runner struct {
	// NewRepository is the storage factory seam. Backends must already be
	// registered (see internal/storage/all).
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// Getenv resolves PULSE_DB_* overrides and ${VAR} in the DSN.
	Getenv func(string) string
}

func NewDefaultRunner() *Runner {
	return &Runner{
		NewRepository: storage.New,
		Getenv:        os.Getenv,
	}
}

// Open resolves p.Storage and connects. The caller closes the repository.
func (r *Runner) Open(ctx context.Context, p config.Pipeline, log Logger) (storage.Repository, error) {
	res, err := config.ResolveStorage(p.Storage, r.Getenv)
	if err != nil {
		return nil, err
	}
	log.Printf("stage=connect kind=%s dsn=%s", res.Kind, res.Redacted)
	repo, err := r.NewRepository(ctx, res.Config)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", res.Kind, err)
	}
	return repo, nil
}

// Load runs a full reset-and-load for p. p should have defaults applied.
func (r *Runner) Load(ctx context.Context, p config.Pipeline, log Logger) (Summary, error) {
	repo, err := r.Open(ctx, p, log)
	if err != nil {
		return Summary{}, err
	}
	defer repo.Close()

	e := &Engine{
		Repo:   repo,
		Logger: log,
		Loader: &loader.Loader{
			Repo:            repo,
			BatchSize:       p.Runtime.BatchSize,
			MaxRetries:      p.Runtime.MaxRetries,
			InitialInterval: time.Duration(p.Runtime.RetryInitialMS) * time.Millisecond,
			Logger:          log,
		},
	}
	return e.Run(ctx, Options{
		Root:           p.Source.Root,
		Country:        p.Source.Country,
		NationalState:  p.Source.NationalState,
		DefaultQuarter: p.Source.DefaultQuarter,
	})
}

// Reset drops and recreates the seven tables without loading anything.
func (r *Runner) Reset(ctx context.Context, p config.Pipeline, log Logger) error {
	repo, err := r.Open(ctx, p, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	return (&schema.Manager{Repo: repo, Logger: log}).Reset(ctx)
}
