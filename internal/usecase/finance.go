package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/metrics"
)

// FinanceBridge posts the receivable and the cash-in for a paid order. It
// runs inside the caller's unit of work, so a failure here rolls back the
// payment status write as well. Uniqueness of (ORDER, orderId) and
// (IN, AR, receivableId) is what keeps repeated calls from double-posting.
type FinanceBridge struct {
	Accounts AccountResolver
	Log      *slog.Logger
}

// StaticAccounts resolves the configured default ledger accounts.
type StaticAccounts domain.LedgerAccounts

func (a StaticAccounts) DefaultAccounts(context.Context) (domain.LedgerAccounts, error) {
	if a.Receivable == "" || a.Cash == "" {
		return domain.LedgerAccounts{}, fmt.Errorf("default ledger accounts not configured")
	}
	return domain.LedgerAccounts(a), nil
}

func (f *FinanceBridge) OnPaid(ctx context.Context, tx Tx, o *domain.Order, p *domain.Payment, at time.Time) error {
	accts, err := f.Accounts.DefaultAccounts(ctx)
	if err != nil {
		return fmt.Errorf("resolve ledger accounts: %w", err)
	}
	rec, created, err := tx.EnsureReceivable(ctx, &domain.Receivable{
		ID:          uuid.NewString(),
		SourceType:  domain.SourceOrder,
		SourceID:    o.ID,
		CustomerID:  o.CustomerID,
		AccountCode: accts.Receivable,
		Amount:      p.Amount,
		CreatedAt:   at,
	})
	if err != nil {
		return fmt.Errorf("ensure receivable: %w", err)
	}
	if created {
		metrics.RecordLedgerPosting("receivable")
	}
	mv, created, err := tx.EnsureCashMovement(ctx, &domain.CashMovement{
		ID:          uuid.NewString(),
		Direction:   domain.DirectionIn,
		SourceType:  domain.SourceReceivable,
		SourceID:    rec.ID,
		AccountCode: accts.Cash,
		Amount:      rec.Amount,
		OccurredAt:  at,
	})
	if err != nil {
		return fmt.Errorf("ensure cash movement: %w", err)
	}
	if created {
		metrics.RecordLedgerPosting("cash_in")
		f.logger().Info("cash-in posted", "order_id", o.ID, "receivable_id", rec.ID, "movement_id", mv.ID, "amount", mv.Amount.String())
	}
	return nil
}

func (f *FinanceBridge) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}
