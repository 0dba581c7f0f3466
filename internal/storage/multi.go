package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MultiStore deletes from every provider. Used while uploads may live on more
// than one provider, e.g. during a migration.
type MultiStore struct {
	providers []Deleter
}

// NewMultiStore creates a MultiStore from a list of providers.
func NewMultiStore(providers ...Deleter) *MultiStore {
	return &MultiStore{providers: providers}
}

func (m *MultiStore) Provider() string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Provider()
	}
	return strings.Join(names, "+")
}

// DeleteObject tries every provider. It succeeds only if each one deleted the
// object or reported it missing, and returns ErrObjectNotFound only when all
// of them reported it missing.
func (m *MultiStore) DeleteObject(ctx context.Context, key string) error {
	if len(m.providers) == 0 {
		return fmt.Errorf("storage: no providers configured")
	}
	var errs []error
	absent := 0
	for _, p := range m.providers {
		err := p.DeleteObject(ctx, key)
		switch {
		case err == nil:
		case errors.Is(err, ErrObjectNotFound):
			absent++
		default:
			errs = append(errs, fmt.Errorf("%s: %w", p.Provider(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if absent == len(m.providers) {
		return ErrObjectNotFound
	}
	return nil
}
