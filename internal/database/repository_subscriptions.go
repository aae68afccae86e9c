package database

import (
	"context"
	"fmt"
)

// UpsertAgentSubscription links a user to a strategy feed
func (r *Repository) UpsertAgentSubscription(ctx context.Context, sub *AgentSubscription) error {
	query := `
		INSERT INTO alpha_agent_subscriptions (user_id, strategy_id, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, strategy_id) DO UPDATE SET
			enabled = EXCLUDED.enabled
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query, sub.UserID, sub.StrategyID, sub.Enabled).
		Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription for user %s: %w", sub.UserID, err)
	}
	return nil
}

// GetSubscribedUserIDs returns users subscribed to a strategy feed
func (r *Repository) GetSubscribedUserIDs(ctx context.Context, strategyID string) ([]string, error) {
	query := `
		SELECT user_id FROM alpha_agent_subscriptions
		WHERE strategy_id = $1 AND enabled = TRUE
		ORDER BY user_id
	`
	return r.scanUserIDs(ctx, query, strategyID)
}

// UpsertTelegramGroupConfig registers a telegram group binding for a user
func (r *Repository) UpsertTelegramGroupConfig(ctx context.Context, cfg *TelegramGroupConfig) error {
	query := `
		INSERT INTO telegram_group_configs (chat_id, user_id, strategy_id, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			strategy_id = EXCLUDED.strategy_id,
			enabled = EXCLUDED.enabled
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query, cfg.ChatID, cfg.UserID, cfg.StrategyID, cfg.Enabled).
		Scan(&cfg.ID, &cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert group config for chat %s: %w", cfg.ChatID, err)
	}
	return nil
}

// GetTelegramGroupUserIDs returns users bound to a telegram chat
func (r *Repository) GetTelegramGroupUserIDs(ctx context.Context, chatID string) ([]string, error) {
	query := `
		SELECT user_id FROM telegram_group_configs
		WHERE chat_id = $1 AND enabled = TRUE
		ORDER BY user_id
	`
	return r.scanUserIDs(ctx, query, chatID)
}

// GetTelegramBroadcastUserIDs returns every user with an enabled telegram
// group binding. Fallback tier of the SELL fanout when neither a strategy id
// nor a chat id resolves any user.
func (r *Repository) GetTelegramBroadcastUserIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT user_id FROM telegram_group_configs
		WHERE enabled = TRUE
	`
	return r.scanUserIDs(ctx, query)
}

func (r *Repository) scanUserIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ids: %w", err)
	}
	return ids, nil
}
