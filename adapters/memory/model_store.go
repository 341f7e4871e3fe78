package memory

import (
	"context"
	"sort"
	"sync"

	"gocomp/domain/core"
	"gocomp/domain/fit"
	"gocomp/domain/posterior"
	apperrors "gocomp/internal/errors"
	"gocomp/ports"
)

// ModelStore keeps fitted models in process memory. The default store when no
// database is configured; also backs tests.
type ModelStore struct {
	mu     sync.RWMutex
	models map[core.ModelID]*record
}

type record struct {
	manifest fit.Manifest
	draws    *posterior.Draws
	flags    []fit.OutlierFlag
}

var _ ports.ModelStore = (*ModelStore)(nil)

// NewModelStore creates an empty in-memory model store
func NewModelStore() *ModelStore {
	return &ModelStore{models: make(map[core.ModelID]*record)}
}

// SaveModel stores the manifest, draws, and flags under the model id.
// The draws are shared, not copied; fitted models are immutable.
func (s *ModelStore) SaveModel(ctx context.Context, model *fit.Model) error {
	if model == nil {
		return apperrors.InvalidInput("cannot save a nil model")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[model.ID] = &record{
		manifest: model.Manifest,
		draws:    model.Draws,
		flags:    append([]fit.OutlierFlag(nil), model.Flags...),
	}
	return nil
}

// GetManifest loads one fit's audit record
func (s *ModelStore) GetManifest(ctx context.Context, id core.ModelID) (*fit.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.models[id]
	if !ok {
		return nil, core.NewNotFoundError("model", id.String())
	}
	man := rec.manifest
	return &man, nil
}

// GetDraws loads the merged posterior draw table
func (s *ModelStore) GetDraws(ctx context.Context, id core.ModelID) (*posterior.Draws, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.models[id]
	if !ok {
		return nil, core.NewNotFoundError("model draws", id.String())
	}
	return rec.draws, nil
}

// GetFlags loads the outlier verdicts the fit was conditioned on
func (s *ModelStore) GetFlags(ctx context.Context, id core.ModelID) ([]fit.OutlierFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.models[id]
	if !ok {
		return nil, core.NewNotFoundError("model flags", id.String())
	}
	return append([]fit.OutlierFlag(nil), rec.flags...), nil
}

// ListManifests returns stored manifests matching the filters, newest first
func (s *ModelStore) ListManifests(ctx context.Context, filters ports.ManifestFilters) ([]fit.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var manifests []fit.Manifest
	for _, rec := range s.models {
		if filters.DataHash != nil && rec.manifest.DataHash != *filters.DataHash {
			continue
		}
		manifests = append(manifests, rec.manifest)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[j].CreatedAt.Before(manifests[i].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(manifests) {
			return nil, nil
		}
		manifests = manifests[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(manifests) {
		manifests = manifests[:filters.Limit]
	}
	return manifests, nil
}
