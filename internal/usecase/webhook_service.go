package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mealsub-backend/internal/domain"
)

// WebhookService applies provider notifications exactly once per
// (provider, event id).
type WebhookService struct {
	Deps
	Payments *PaymentService
}

func (s *WebhookService) Process(ctx context.Context, n domain.WebhookNotice, raw []byte) (*domain.WebhookEvent, bool, error) {
	if n.EventID == "" || n.ProviderIntentRef == "" {
		return nil, false, domain.Invalid("webhook must carry an event id and an intent reference")
	}
	var (
		out    *domain.WebhookEvent
		isNew  bool
		events []domain.Event
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		now := s.now()
		ev, created, err := tx.InsertWebhookEvent(ctx, &domain.WebhookEvent{
			ID:        uuid.NewString(),
			Provider:  n.Provider,
			EventID:   n.EventID,
			Payload:   raw,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		out = ev
		if !created {
			return nil
		}
		isNew = true

		found, err := tx.FindIntentByProviderRef(ctx, n.Provider, n.ProviderIntentRef)
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.ErrIntentNotFound
		}
		if err != nil {
			return err
		}
		// payment before intent, the same order intent creation locks in
		p, err := tx.LockPayment(ctx, found.PaymentID)
		if err != nil {
			return fmt.Errorf("lock payment %s: %w", found.PaymentID, err)
		}
		in, err := tx.LockIntent(ctx, found.ID)
		if err != nil {
			return fmt.Errorf("lock intent %s: %w", found.ID, err)
		}

		if in.Status.CanBecome(n.IntentStatus) {
			in.Status = n.IntentStatus
			in.UpdatedAt = now
			if err := tx.UpdateIntent(ctx, in); err != nil {
				return err
			}
		} else if in.Status != n.IntentStatus {
			s.logger().Info("webhook intent status unchanged", "provider", n.Provider, "event_id", n.EventID,
				"intent_id", in.ID, "intent_status", in.Status, "reported", n.IntentStatus)
		}
		intentStatus := in.Status
		ev.IntentStatus = &intentStatus

		// the payment only follows notices the intent itself accepted
		if next, ok := domain.PaymentStatusFor(n.IntentStatus); ok && in.Status == n.IntentStatus {
			if p.Status == next || p.Status.CanTransitionTo(next) {
				o, err := tx.GetOrder(ctx, p.OrderID)
				if err != nil {
					return fmt.Errorf("load order %s: %w", p.OrderID, err)
				}
				events, err = s.Payments.apply(ctx, tx, o, p, PaymentUpdate{
					Status:      next,
					ProviderRef: n.ProviderRef,
					PaidAt:      n.PaidAt,
				})
				if err != nil {
					return err
				}
			} else {
				s.logger().Warn("webhook status ignored", "provider", n.Provider, "event_id", n.EventID,
					"payment_id", p.ID, "payment_status", p.Status, "reported", next)
			}
		}
		paymentStatus := p.Status
		ev.PaymentStatus = &paymentStatus
		processed := s.now()
		ev.ProcessedAt = &processed
		return tx.UpdateWebhookEvent(ctx, ev)
	})
	if err != nil {
		return nil, false, err
	}
	if isNew {
		s.logger().Info("webhook processed", "provider", n.Provider, "event_id", n.EventID,
			"intent_status", deref(out.IntentStatus), "payment_status", deref(out.PaymentStatus))
	}
	s.publish(ctx, events)
	return out, isNew, nil
}

func deref[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}
