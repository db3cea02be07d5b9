package plan

import (
	"context"
	"errors"
	"maps"
)

// Source defines how the plan catalog is loaded.
type Source interface {
	Load(ctx context.Context) (Catalog, error)
}

// staticSource serves a fixed in-memory catalog.
type staticSource struct {
	catalog Catalog
}

// NewStaticSource returns a Source backed by a copy of the given catalog.
func NewStaticSource(c Catalog) Source {
	return &staticSource{catalog: maps.Clone(c)}
}

// Load returns a validated copy of the catalog.
func (s *staticSource) Load(ctx context.Context) (Catalog, error) {
	if err := Validate(s.catalog); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return maps.Clone(s.catalog), nil
}
