package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alpha-trade-engine/internal/database"
)

type fakeCreditStore struct {
	credits    map[string]*database.UserCredits
	consumeErr error

	consumed []consumption
}

type consumption struct {
	userID  string
	amount  decimal.Decimal
	refType string
	refID   string
}

func (f *fakeCreditStore) GetUserCredits(ctx context.Context, userID string) (*database.UserCredits, error) {
	if c, ok := f.credits[userID]; ok {
		return c, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeCreditStore) ConsumeCredits(ctx context.Context, userID string, amount decimal.Decimal, refType, refID, description string) error {
	if f.consumeErr != nil {
		return f.consumeErr
	}
	f.consumed = append(f.consumed, consumption{userID: userID, amount: amount, refType: refType, refID: refID})
	return nil
}

func TestBalanceSumsPools(t *testing.T) {
	store := &fakeCreditStore{credits: map[string]*database.UserCredits{
		"u1": {UserID: "u1", FreeBalance: decimal.NewFromInt(2), PaidBalance: decimal.NewFromInt(3)},
	}}
	svc := NewCreditService(store, zerolog.Nop())

	got, err := svc.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance = %s, want 5", got)
	}
}

func TestBalanceMissingUserIsZero(t *testing.T) {
	svc := NewCreditService(&fakeCreditStore{}, zerolog.Nop())

	got, err := svc.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
}

func TestChargeSignalDetail(t *testing.T) {
	store := &fakeCreditStore{}
	svc := NewCreditService(store, zerolog.Nop())

	if err := svc.ChargeSignalDetail(context.Background(), "u1", "sig9"); err != nil {
		t.Fatalf("ChargeSignalDetail: %v", err)
	}
	if len(store.consumed) != 1 {
		t.Fatalf("consumed = %d rows, want 1", len(store.consumed))
	}
	c := store.consumed[0]
	if c.userID != "u1" || c.refID != "sig9" || c.refType != database.CreditRefSignalDetail {
		t.Errorf("consumption = %+v", c)
	}
	if !c.amount.Equal(SignalDetailCost) {
		t.Errorf("amount = %s, want %s", c.amount, SignalDetailCost)
	}
}

func TestChargeSignalDetailInsufficientPassesThrough(t *testing.T) {
	store := &fakeCreditStore{consumeErr: database.ErrInsufficientCredits}
	svc := NewCreditService(store, zerolog.Nop())

	err := svc.ChargeSignalDetail(context.Background(), "u1", "sig9")
	if err != database.ErrInsufficientCredits {
		t.Errorf("err = %v, want ErrInsufficientCredits untouched", err)
	}
}

func TestChargeSignalDetailWrapsStoreErrors(t *testing.T) {
	cause := errors.New("connection reset")
	store := &fakeCreditStore{consumeErr: cause}
	svc := NewCreditService(store, zerolog.Nop())

	err := svc.ChargeSignalDetail(context.Background(), "u1", "sig9")
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
	if err == cause {
		t.Error("store error should be wrapped with context")
	}
}
