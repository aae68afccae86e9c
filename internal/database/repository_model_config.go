package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetActiveModelConfig returns the active config row for a config type,
// or ErrNotFound when none has been activated yet.
func (r *Repository) GetActiveModelConfig(ctx context.Context, configType string) (*ModelConfig, error) {
	query := `
		SELECT id, config_type, config_data, version, is_active, created_at, updated_at
		FROM alpha_model_config
		WHERE config_type = $1 AND is_active = TRUE
	`
	cfg := &ModelConfig{}
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, query, configType).Scan(
		&cfg.ID, &cfg.ConfigType, &raw, &cfg.Version, &cfg.IsActive,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active %s config: %w", configType, err)
	}
	if err := json.Unmarshal(raw, &cfg.ConfigData); err != nil {
		return nil, fmt.Errorf("failed to decode %s config data: %w", configType, err)
	}
	return cfg, nil
}

// SaveModelConfig inserts a new config version and atomically makes it the
// active row for its type. Older versions are kept for audit.
func (r *Repository) SaveModelConfig(ctx context.Context, configType string, data map[string]float64, version string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s config data: %w", configType, err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE alpha_model_config SET is_active = FALSE, updated_at = NOW()
		WHERE config_type = $1 AND is_active = TRUE
	`, configType)
	if err != nil {
		return fmt.Errorf("failed to deactivate old %s config: %w", configType, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alpha_model_config (config_type, config_data, version, is_active)
		VALUES ($1, $2, $3, TRUE)
	`, configType, raw, version)
	if err != nil {
		return fmt.Errorf("failed to insert %s config: %w", configType, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s config: %w", configType, err)
	}
	return nil
}
