package database

import (
	"context"
	"fmt"
)

// UpsertAlphaToken refreshes the tradable token registry entry for a symbol.
// The scheduler's hourly liquidity sweep is the main writer.
func (r *Repository) UpsertAlphaToken(ctx context.Context, token *AlphaToken) error {
	query := `
		INSERT INTO binance_alpha_tokens (
			symbol, name, contract_address, chain, is_dex_only,
			liquidity, volume_24h, listing_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, chain) DO UPDATE SET
			name = EXCLUDED.name,
			contract_address = EXCLUDED.contract_address,
			is_dex_only = EXCLUDED.is_dex_only,
			liquidity = EXCLUDED.liquidity,
			volume_24h = EXCLUDED.volume_24h,
			listing_time = EXCLUDED.listing_time,
			updated_at = NOW()
		RETURNING id, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		token.Symbol, token.Name, token.ContractAddress, token.Chain, token.IsDEXOnly,
		token.Liquidity, token.Volume24h, token.ListingTime,
	).Scan(&token.ID, &token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert alpha token %s/%s: %w", token.Symbol, token.Chain, err)
	}
	return nil
}

// GetAlphaToken looks up a registry entry by symbol and chain
func (r *Repository) GetAlphaToken(ctx context.Context, symbol, chain string) (*AlphaToken, error) {
	query := alphaTokenSelectColumns + ` FROM binance_alpha_tokens WHERE symbol = $1 AND chain = $2`
	tokens, err := r.scanAlphaTokens(ctx, query, symbol, chain)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ErrNotFound
	}
	return tokens[0], nil
}

// GetAlphaTokenBySymbol returns the deepest entry for a symbol on any chain
func (r *Repository) GetAlphaTokenBySymbol(ctx context.Context, symbol string) (*AlphaToken, error) {
	query := alphaTokenSelectColumns + `
		FROM binance_alpha_tokens
		WHERE symbol = $1
		ORDER BY liquidity DESC
		LIMIT 1`
	tokens, err := r.scanAlphaTokens(ctx, query, symbol)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ErrNotFound
	}
	return tokens[0], nil
}

// GetAlphaTokens lists every registry entry, deepest pools first
func (r *Repository) GetAlphaTokens(ctx context.Context) ([]*AlphaToken, error) {
	query := alphaTokenSelectColumns + ` FROM binance_alpha_tokens ORDER BY liquidity DESC`
	return r.scanAlphaTokens(ctx, query)
}

// UpdateAlphaTokenLiquidity refreshes the cached liquidity figure
func (r *Repository) UpdateAlphaTokenLiquidity(ctx context.Context, symbol, chain string, liquidity float64) error {
	query := `
		UPDATE binance_alpha_tokens
		SET liquidity = $3, updated_at = NOW()
		WHERE symbol = $1 AND chain = $2
	`
	result, err := r.db.Pool.Exec(ctx, query, symbol, chain, liquidity)
	if err != nil {
		return fmt.Errorf("failed to update liquidity for %s/%s: %w", symbol, chain, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const alphaTokenSelectColumns = `
	SELECT id, symbol, name, contract_address, chain, is_dex_only,
	       liquidity, volume_24h, listing_time, updated_at`

func (r *Repository) scanAlphaTokens(ctx context.Context, query string, args ...interface{}) ([]*AlphaToken, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alpha tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*AlphaToken
	for rows.Next() {
		token := &AlphaToken{}
		var name, contractAddress *string
		err := rows.Scan(
			&token.ID, &token.Symbol, &name, &contractAddress,
			&token.Chain, &token.IsDEXOnly, &token.Liquidity, &token.Volume24h,
			&token.ListingTime, &token.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alpha token: %w", err)
		}
		if name != nil {
			token.Name = *name
		}
		if contractAddress != nil {
			token.ContractAddress = *contractAddress
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alpha tokens: %w", err)
	}
	return tokens, nil
}
