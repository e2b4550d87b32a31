package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/orchestrator/pkg/repository"
)

// SchemaCache lazily loads and caches compiled JSON schemas by version.
type SchemaCache struct {
	repo  repository.SchemaRepo
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func NewSchemaCache(r repository.SchemaRepo) *SchemaCache {
	return &SchemaCache{
		repo:  r,
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Get returns the compiled schema for a version, loading it from the
// repository on first use.
func (s *SchemaCache) Get(ctx context.Context, version string) (*jsonschema.Schema, error) {
	s.mu.RLock()
	rs, ok := s.cache[version]
	s.mu.RUnlock()
	if ok {
		return rs, nil
	}

	raw, err := s.repo.GetSchema(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", version, err)
	}

	rs = &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(raw), rs); err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", version, err)
	}

	s.mu.Lock()
	s.cache[version] = rs
	s.mu.Unlock()

	return rs, nil
}
