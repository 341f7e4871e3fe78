package ports

import (
	"context"

	"gocomp/domain/core"
	"gocomp/domain/fit"
	"gocomp/domain/posterior"
)

// ModelStore persists fitted models: the manifest, the merged posterior draw
// table, and the outlier flags. The draw table is opaque to the store beyond
// read access.
type ModelStore interface {
	// SaveModel persists a fitted model's manifest, draws, and flags.
	SaveModel(ctx context.Context, model *fit.Model) error

	// GetManifest loads one fit's audit record.
	GetManifest(ctx context.Context, id core.ModelID) (*fit.Manifest, error)

	// GetDraws loads the merged posterior draw table.
	GetDraws(ctx context.Context, id core.ModelID) (*posterior.Draws, error)

	// GetFlags loads the outlier verdicts the fit was conditioned on.
	GetFlags(ctx context.Context, id core.ModelID) ([]fit.OutlierFlag, error)

	// ListManifests returns stored manifests matching the filters.
	ListManifests(ctx context.Context, filters ManifestFilters) ([]fit.Manifest, error)
}

// ManifestFilters narrows manifest listings
type ManifestFilters struct {
	DataHash *core.DataHash
	Limit    int
	Offset   int
}
