package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"gocomp/domain/core"
	"gocomp/domain/fit"
	"gocomp/domain/posterior"
	apperrors "gocomp/internal/errors"
	"gocomp/ports"
)

// ModelStoreImpl implements ModelStore for PostgreSQL
type ModelStoreImpl struct {
	db *sqlx.DB
}

// NewModelStore creates a new PostgreSQL model store
func NewModelStore(db *sqlx.DB) ports.ModelStore {
	return &ModelStoreImpl{db: db}
}

// EnsureSchema creates the storage tables when absent
func (r *ModelStoreImpl) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fit_manifests (
			model_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seed BIGINT NOT NULL,
			chains INT NOT NULL,
			warmup INT NOT NULL,
			samples INT NOT NULL,
			thin INT NOT NULL,
			cores INT NOT NULL,
			bimodal BOOLEAN NOT NULL,
			enable_loo BOOLEAN NOT NULL,
			duration_ms BIGINT NOT NULL,
			acceptance JSONB NOT NULL,
			data_hash TEXT NOT NULL,
			design_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fit_manifests_data_hash ON fit_manifests (data_hash);
		CREATE TABLE IF NOT EXISTS fit_draws (
			model_id TEXT PRIMARY KEY REFERENCES fit_manifests(model_id) ON DELETE CASCADE,
			names JSONB NOT NULL,
			chain_of JSONB NOT NULL,
			draws JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS outlier_flags (
			model_id TEXT NOT NULL REFERENCES fit_manifests(model_id) ON DELETE CASCADE,
			sample_id TEXT NOT NULL,
			group_id TEXT NOT NULL,
			tail_prob DOUBLE PRECISION NOT NULL,
			flagged BOOLEAN NOT NULL,
			pass INT NOT NULL,
			PRIMARY KEY (model_id, sample_id, group_id)
		)`)
	if err != nil {
		return apperrors.Wrap(err, "ensuring model store schema")
	}
	return nil
}

// SaveModel persists the manifest, the merged draw table, and the outlier
// flags in one transaction. Saving the same model id again replaces all three.
func (r *ModelStoreImpl) SaveModel(ctx context.Context, model *fit.Model) error {
	if model == nil {
		return apperrors.InvalidInput("cannot save a nil model")
	}

	acceptanceJSON, _ := json.Marshal(model.Manifest.Acceptance)
	namesJSON, _ := json.Marshal(model.Draws.Names)
	chainOfJSON, _ := json.Marshal(model.Draws.ChainOf)
	drawsJSON, _ := json.Marshal(model.Draws.Values)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "beginning save transaction")
	}
	defer tx.Rollback()

	man := model.Manifest
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fit_manifests (
			model_id, run_id, seed, chains, warmup, samples, thin, cores,
			bimodal, enable_loo, duration_ms, acceptance, data_hash, design_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (model_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			seed = EXCLUDED.seed,
			chains = EXCLUDED.chains,
			warmup = EXCLUDED.warmup,
			samples = EXCLUDED.samples,
			thin = EXCLUDED.thin,
			cores = EXCLUDED.cores,
			bimodal = EXCLUDED.bimodal,
			enable_loo = EXCLUDED.enable_loo,
			duration_ms = EXCLUDED.duration_ms,
			acceptance = EXCLUDED.acceptance,
			data_hash = EXCLUDED.data_hash,
			design_hash = EXCLUDED.design_hash,
			created_at = EXCLUDED.created_at`,
		model.ID, man.RunID, man.Seed, man.Chains, man.Warmup, man.Samples, man.Thin, man.Cores,
		man.Bimodal, man.EnableLOO, man.DurationMS, acceptanceJSON, man.DataHash, man.DesignHash,
		man.CreatedAt.Time())
	if err != nil {
		return apperrors.WithCode(apperrors.CodeDatabaseError, fmt.Errorf("saving manifest: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fit_draws (model_id, names, chain_of, draws)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (model_id) DO UPDATE SET
			names = EXCLUDED.names,
			chain_of = EXCLUDED.chain_of,
			draws = EXCLUDED.draws`,
		model.ID, namesJSON, chainOfJSON, drawsJSON)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeDatabaseError, fmt.Errorf("saving draws: %w", err))
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM outlier_flags WHERE model_id = $1`, model.ID)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeDatabaseError, fmt.Errorf("clearing flags: %w", err))
	}
	for _, f := range model.Flags {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outlier_flags (model_id, sample_id, group_id, tail_prob, flagged, pass)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			model.ID, f.Sample, f.Group, f.TailProb, f.Flagged, f.Pass)
		if err != nil {
			return apperrors.WithCode(apperrors.CodeDatabaseError, fmt.Errorf("saving flag: %w", err))
		}
	}

	return tx.Commit()
}

// GetManifest loads one fit's audit record
func (r *ModelStoreImpl) GetManifest(ctx context.Context, id core.ModelID) (*fit.Manifest, error) {
	var man fit.Manifest
	var acceptanceJSON []byte
	var createdAt time.Time

	err := r.db.QueryRowContext(ctx, `
		SELECT model_id, run_id, seed, chains, warmup, samples, thin, cores,
			   bimodal, enable_loo, duration_ms, acceptance, data_hash, design_hash, created_at
		FROM fit_manifests
		WHERE model_id = $1`, id).Scan(
		&man.ModelID, &man.RunID, &man.Seed, &man.Chains, &man.Warmup, &man.Samples, &man.Thin, &man.Cores,
		&man.Bimodal, &man.EnableLOO, &man.DurationMS, &acceptanceJSON, &man.DataHash, &man.DesignHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.NewNotFoundError("model", id.String())
	}
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeDatabaseError, err)
	}

	if err := json.Unmarshal(acceptanceJSON, &man.Acceptance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal acceptance: %w", err)
	}
	man.CreatedAt = core.NewTimestamp(createdAt)
	return &man, nil
}

// GetDraws loads the merged posterior draw table
func (r *ModelStoreImpl) GetDraws(ctx context.Context, id core.ModelID) (*posterior.Draws, error) {
	var namesJSON, chainOfJSON, drawsJSON []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT names, chain_of, draws FROM fit_draws WHERE model_id = $1`, id).
		Scan(&namesJSON, &chainOfJSON, &drawsJSON)
	if err == sql.ErrNoRows {
		return nil, core.NewNotFoundError("model draws", id.String())
	}
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeDatabaseError, err)
	}

	var names []string
	var chainOf []int
	var values [][]float64
	if err := json.Unmarshal(namesJSON, &names); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameter names: %w", err)
	}
	if err := json.Unmarshal(chainOfJSON, &chainOf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain index: %w", err)
	}
	if err := json.Unmarshal(drawsJSON, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draw values: %w", err)
	}
	return posterior.Restore(names, values, chainOf)
}

// GetFlags loads the outlier verdicts the fit was conditioned on
func (r *ModelStoreImpl) GetFlags(ctx context.Context, id core.ModelID) ([]fit.OutlierFlag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sample_id, group_id, tail_prob, flagged, pass
		FROM outlier_flags
		WHERE model_id = $1
		ORDER BY sample_id, group_id`, id)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeDatabaseError, err)
	}
	defer rows.Close()

	var flags []fit.OutlierFlag
	for rows.Next() {
		var f fit.OutlierFlag
		if err := rows.Scan(&f.Sample, &f.Group, &f.TailProb, &f.Flagged, &f.Pass); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// ListManifests returns stored manifests matching the filters, newest first
func (r *ModelStoreImpl) ListManifests(ctx context.Context, filters ports.ManifestFilters) ([]fit.Manifest, error) {
	query := `
		SELECT model_id, run_id, seed, chains, warmup, samples, thin, cores,
			   bimodal, enable_loo, duration_ms, acceptance, data_hash, design_hash, created_at
		FROM fit_manifests`

	args := []interface{}{}
	if filters.DataHash != nil {
		query += fmt.Sprintf(" WHERE data_hash = $%d", len(args)+1)
		args = append(args, *filters.DataHash)
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filters.Limit)
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeDatabaseError, err)
	}
	defer rows.Close()

	var manifests []fit.Manifest
	for rows.Next() {
		var man fit.Manifest
		var acceptanceJSON []byte
		var createdAt time.Time
		if err := rows.Scan(
			&man.ModelID, &man.RunID, &man.Seed, &man.Chains, &man.Warmup, &man.Samples, &man.Thin, &man.Cores,
			&man.Bimodal, &man.EnableLOO, &man.DurationMS, &acceptanceJSON, &man.DataHash, &man.DesignHash, &createdAt,
		); err != nil {
			return nil, err
		}
		json.Unmarshal(acceptanceJSON, &man.Acceptance)
		man.CreatedAt = core.NewTimestamp(createdAt)
		manifests = append(manifests, man)
	}
	return manifests, rows.Err()
}
