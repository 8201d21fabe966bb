package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mealsub-backend/internal/domain"
)

type PaymentService struct {
	Deps
	Finance *FinanceBridge
}

type PaymentUpdate struct {
	Status      domain.PaymentStatus
	ProviderRef *string
	PaidAt      *time.Time
}

// Get returns a payment visible to the actor.
func (s *PaymentService) Get(ctx context.Context, actor domain.Actor, paymentID string) (*domain.Payment, error) {
	var out *domain.Payment
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		p, o, err := s.load(ctx, tx, paymentID, false)
		if err != nil {
			return err
		}
		if !s.canSee(ctx, actor, o) {
			return domain.ErrNotFound("payment")
		}
		out = p
		return nil
	})
	return out, err
}

// UpdateStatus is the manual path for operators.
func (s *PaymentService) UpdateStatus(ctx context.Context, actor domain.Actor, paymentID string, upd PaymentUpdate) (*domain.Payment, error) {
	var (
		out    *domain.Payment
		events []domain.Event
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		p, o, err := s.load(ctx, tx, paymentID, true)
		if err != nil {
			return err
		}
		if !s.global(ctx, actor) {
			if o.OwnedBy(actor.CustomerID) {
				return domain.Invalid("payment status can only be changed by staff")
			}
			return domain.ErrNotFound("payment")
		}
		if p.Status != upd.Status && !p.Status.CanTransitionTo(upd.Status) {
			return domain.Invalid(fmt.Sprintf("cannot move payment from %s to %s", p.Status, upd.Status))
		}
		events, err = s.apply(ctx, tx, o, p, upd)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events)
	return out, nil
}

func (s *PaymentService) load(ctx context.Context, tx Tx, paymentID string, lock bool) (*domain.Payment, *domain.Order, error) {
	var (
		p   *domain.Payment
		err error
	)
	if lock {
		p, err = tx.LockPayment(ctx, paymentID)
	} else {
		p, err = tx.GetPayment(ctx, paymentID)
	}
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil, domain.ErrNotFound("payment")
	}
	if err != nil {
		return nil, nil, err
	}
	o, err := tx.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order %s for payment %s: %w", p.OrderID, p.ID, err)
	}
	return p, o, nil
}

// apply is the single payment-status write path shared by manual updates and
// webhook reconciliation. p must be locked by the caller and the target
// status must already be known legal. Once the payment is PAID every other
// in-flight intent is marked SUCCEEDED and the ledger is posted.
func (s *PaymentService) apply(ctx context.Context, tx Tx, o *domain.Order, p *domain.Payment, upd PaymentUpdate) ([]domain.Event, error) {
	now := s.now()
	changed := p.Status != upd.Status
	if upd.ProviderRef != nil && *upd.ProviderRef != "" {
		p.ProviderRef = upd.ProviderRef
	}
	p.Status = upd.Status
	if upd.Status == domain.PaymentPaid && p.PaidAt == nil {
		at := now
		if upd.PaidAt != nil {
			at = upd.PaidAt.UTC()
		}
		p.PaidAt = &at
	}
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	if p.Status != domain.PaymentPaid {
		if !changed {
			return nil, nil
		}
		return []domain.Event{s.paymentEvent(domain.EventPaymentStatusChanged, p, now)}, nil
	}

	intents, err := tx.ListIntents(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for i := range intents {
		in := &intents[i]
		if !in.Status.IsActive() {
			continue
		}
		in.Status = domain.IntentSucceeded
		in.UpdatedAt = now
		if err := tx.UpdateIntent(ctx, in); err != nil {
			return nil, err
		}
	}
	if err := s.Finance.OnPaid(ctx, tx, o, p, *p.PaidAt); err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	s.logger().Info("payment paid", "payment_id", p.ID, "order_id", p.OrderID, "amount", p.Amount.String())
	return []domain.Event{
		s.paymentEvent(domain.EventPaymentStatusChanged, p, now),
		s.paymentEvent(domain.EventPaymentPaid, p, now),
	}, nil
}

func (s *PaymentService) paymentEvent(typ string, p *domain.Payment, at time.Time) domain.Event {
	return domain.Event{
		Type:      typ,
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Status:    string(p.Status),
		Amount:    p.Amount.String(),
		Occurred:  at,
	}
}
