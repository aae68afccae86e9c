package risk

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alpha-trade-engine/internal/database"
)

// SignalDetailCost is the credit price of unlocking one signal's detail view
var SignalDetailCost = decimal.NewFromInt(1)

// CreditStore is the persistence surface of the credit service
type CreditStore interface {
	GetUserCredits(ctx context.Context, userID string) (*database.UserCredits, error)
	ConsumeCredits(ctx context.Context, userID string, amount decimal.Decimal, refType, refID, description string) error
}

// CreditService charges credits for metered features. Deduction order
// (free pool before paid) is enforced by the store.
type CreditService struct {
	store  CreditStore
	logger zerolog.Logger
}

// NewCreditService creates a credit service
func NewCreditService(store CreditStore, logger zerolog.Logger) *CreditService {
	return &CreditService{
		store:  store,
		logger: logger.With().Str("component", "credits").Logger(),
	}
}

// Balance returns a user's combined credit balance
func (s *CreditService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	credits, err := s.store.GetUserCredits(ctx, userID)
	if err != nil {
		if err == database.ErrNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return credits.Total(), nil
}

// ChargeSignalDetail deducts the signal detail unlock cost for a user.
// database.ErrInsufficientCredits passes through untouched so callers can
// map it to a payment-required response.
func (s *CreditService) ChargeSignalDetail(ctx context.Context, userID, signalID string) error {
	err := s.store.ConsumeCredits(ctx, userID, SignalDetailCost,
		database.CreditRefSignalDetail, signalID,
		fmt.Sprintf("signal detail unlock %s", signalID))
	if err != nil {
		if err == database.ErrInsufficientCredits {
			return err
		}
		return fmt.Errorf("failed to charge signal detail for user %s: %w", userID, err)
	}
	s.logger.Debug().
		Str("user_id", userID).
		Str("signal_id", signalID).
		Str("amount", SignalDetailCost.String()).
		Msg("Signal detail charged")
	return nil
}
