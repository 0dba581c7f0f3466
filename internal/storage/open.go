package storage

import (
	"context"
	"fmt"

	"github.com/closeness/sweeper/internal/config"
)

// Open builds the Deleter described by cfg.Storage.Backends. A single backend
// is returned as is; several are wrapped in a MultiStore.
func Open(ctx context.Context, cfg *config.Config) (Deleter, error) {
	var providers []Deleter
	for _, name := range cfg.Storage.Backends {
		var (
			d   Deleter
			err error
		)
		switch name {
		case config.BackendSupabase:
			d, err = NewSupabaseStore(cfg.Supabase, cfg.Storage.RequestTimeout)
		case config.BackendS3:
			d, err = NewS3Store(ctx, cfg.S3)
		case config.BackendFS:
			d, err = NewFSStore(cfg.Storage.FSRoot)
		default:
			err = fmt.Errorf("storage: unknown backend %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("storage: init %s: %w", name, err)
		}
		providers = append(providers, d)
	}

	switch len(providers) {
	case 0:
		return nil, fmt.Errorf("storage: no backends configured")
	case 1:
		return providers[0], nil
	default:
		return NewMultiStore(providers...), nil
	}
}
