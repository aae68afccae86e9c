package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateSignal inserts a new signal
func (r *Repository) CreateSignal(ctx context.Context, signal *Signal) error {
	takeProfitsJSON, err := json.Marshal(signal.TakeProfits)
	if err != nil {
		return fmt.Errorf("failed to marshal take profits: %w", err)
	}

	query := `
		INSERT INTO alpha_signals (
			id, token_symbol, chain, contract_address, signal_type, confidence,
			entry_price_min, entry_price_max, stop_loss, take_profits, current_price,
			predicted_direction, predicted_return, reasoning, source, strategy_id,
			chat_id, is_alpha_token, knowledge_answer, knowledge_adjustment,
			knowledge_case_count, model_version, status, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24
		)
		RETURNING created_at, updated_at
	`
	err = r.db.Pool.QueryRow(ctx, query,
		signal.ID, signal.TokenSymbol, signal.Chain, signal.ContractAddress, signal.SignalType, signal.Confidence,
		signal.EntryPriceMin, signal.EntryPriceMax, signal.StopLoss, takeProfitsJSON, signal.CurrentPrice,
		signal.PredictedDirection, signal.PredictedReturn, signal.Reasoning, signal.Source, signal.StrategyID,
		signal.ChatID, signal.IsAlphaToken, signal.KnowledgeAnswer, signal.KnowledgeAdjustment,
		signal.KnowledgeCaseCount, signal.ModelVersion, signal.Status, signal.ExpiresAt,
	).Scan(&signal.CreatedAt, &signal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create signal %s: %w", signal.ID, err)
	}
	return nil
}

// GetSignal retrieves a signal by id
func (r *Repository) GetSignal(ctx context.Context, id string) (*Signal, error) {
	query := signalSelectColumns + ` FROM alpha_signals WHERE id = $1`
	signals, err := r.scanSignals(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, ErrNotFound
	}
	return signals[0], nil
}

// GetActiveEntrySignals retrieves ACTIVE, unexpired LONG/BUY signals. Used by
// agent recovery to restart price monitoring after a restart.
func (r *Repository) GetActiveEntrySignals(ctx context.Context) ([]*Signal, error) {
	query := signalSelectColumns + `
		FROM alpha_signals
		WHERE status = 'ACTIVE'
		  AND signal_type IN ('LONG', 'BUY')
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at
	`
	return r.scanSignals(ctx, query)
}

// GetActiveSignalsForToken retrieves all ACTIVE signals for one token
func (r *Repository) GetActiveSignalsForToken(ctx context.Context, tokenSymbol, chain string) ([]*Signal, error) {
	query := signalSelectColumns + `
		FROM alpha_signals
		WHERE token_symbol = $1 AND chain = $2 AND status = 'ACTIVE'
	`
	return r.scanSignals(ctx, query, tokenSymbol, chain)
}

// UpdateSignalStatus transitions a signal's status
func (r *Repository) UpdateSignalStatus(ctx context.Context, id, status string) error {
	query := `UPDATE alpha_signals SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update signal %s status: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSignalRejectReason records why a signal was not acted on. The status
// is left untouched so a later tick may re-evaluate the signal.
func (r *Repository) UpdateSignalRejectReason(ctx context.Context, id, reason string) error {
	query := `UPDATE alpha_signals SET reject_reason = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, id, reason); err != nil {
		return fmt.Errorf("failed to record reject reason for signal %s: %w", id, err)
	}
	return nil
}

// MarkTokenSignalsTriggered demotes every ACTIVE signal on a token to
// TRIGGERED. Called after the first successful submission for that token so
// no further entry fires from a parallel signal.
func (r *Repository) MarkTokenSignalsTriggered(ctx context.Context, tokenSymbol, chain string) (int64, error) {
	query := `
		UPDATE alpha_signals
		SET status = 'TRIGGERED', updated_at = NOW()
		WHERE token_symbol = $1 AND chain = $2 AND status = 'ACTIVE'
	`
	result, err := r.db.Pool.Exec(ctx, query, tokenSymbol, chain)
	if err != nil {
		return 0, fmt.Errorf("failed to mark signals triggered for %s: %w", tokenSymbol, err)
	}
	return result.RowsAffected(), nil
}

// MarkSignalExpired marks one signal EXPIRED
func (r *Repository) MarkSignalExpired(ctx context.Context, id string) error {
	return r.UpdateSignalStatus(ctx, id, SignalStatusExpired)
}

const signalSelectColumns = `
	SELECT id, token_symbol, chain, contract_address, signal_type, confidence,
	       entry_price_min, entry_price_max, stop_loss, take_profits, current_price,
	       predicted_direction, predicted_return, reasoning, reject_reason, source,
	       strategy_id, chat_id, is_alpha_token, knowledge_answer, knowledge_adjustment,
	       knowledge_case_count, model_version, status, expires_at, created_at, updated_at`

func (r *Repository) scanSignals(ctx context.Context, query string, args ...interface{}) ([]*Signal, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		signal := &Signal{}
		var takeProfitsJSON []byte
		var contractAddress, predictedDirection, reasoning, modelVersion *string
		var entryMin, entryMax, stopLoss, currentPrice, predictedReturn *float64
		err := rows.Scan(
			&signal.ID, &signal.TokenSymbol, &signal.Chain, &contractAddress, &signal.SignalType, &signal.Confidence,
			&entryMin, &entryMax, &stopLoss, &takeProfitsJSON, &currentPrice,
			&predictedDirection, &predictedReturn, &reasoning, &signal.RejectReason, &signal.Source,
			&signal.StrategyID, &signal.ChatID, &signal.IsAlphaToken, &signal.KnowledgeAnswer, &signal.KnowledgeAdjustment,
			&signal.KnowledgeCaseCount, &modelVersion, &signal.Status, &signal.ExpiresAt, &signal.CreatedAt, &signal.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if contractAddress != nil {
			signal.ContractAddress = *contractAddress
		}
		if predictedDirection != nil {
			signal.PredictedDirection = *predictedDirection
		}
		if reasoning != nil {
			signal.Reasoning = *reasoning
		}
		if modelVersion != nil {
			signal.ModelVersion = *modelVersion
		}
		if entryMin != nil {
			signal.EntryPriceMin = *entryMin
		}
		if entryMax != nil {
			signal.EntryPriceMax = *entryMax
		}
		if stopLoss != nil {
			signal.StopLoss = *stopLoss
		}
		if currentPrice != nil {
			signal.CurrentPrice = *currentPrice
		}
		if len(takeProfitsJSON) > 0 {
			if err := json.Unmarshal(takeProfitsJSON, &signal.TakeProfits); err != nil {
				return nil, fmt.Errorf("failed to unmarshal take profits for %s: %w", signal.ID, err)
			}
		}
		signals = append(signals, signal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return signals, nil
}

// RecordSignalDelivery logs that a signal was distributed to a user. The
// unique constraint makes repeated deliveries a no-op.
func (r *Repository) RecordSignalDelivery(ctx context.Context, userID, signalID string) error {
	query := `
		INSERT INTO user_received_signals (user_id, signal_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, signal_id) DO NOTHING
	`
	if _, err := r.db.Pool.Exec(ctx, query, userID, signalID); err != nil {
		return fmt.Errorf("failed to record signal delivery: %w", err)
	}
	return nil
}

// GetSignalDeliveries returns the users a signal was delivered to
func (r *Repository) GetSignalDeliveries(ctx context.Context, signalID string) ([]ReceivedSignal, error) {
	query := `
		SELECT id, user_id, signal_id, delivered_at
		FROM user_received_signals
		WHERE signal_id = $1
		ORDER BY delivered_at
	`
	rows, err := r.db.Pool.Query(ctx, query, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []ReceivedSignal
	for rows.Next() {
		var d ReceivedSignal
		if err := rows.Scan(&d.ID, &d.UserID, &d.SignalID, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// CountRecentSignals returns how many signals were created since the cutoff.
// Used by the status endpoint.
func (r *Repository) CountRecentSignals(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alpha_signals WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("failed to count recent signals: %w", err)
	}
	return count, nil
}
