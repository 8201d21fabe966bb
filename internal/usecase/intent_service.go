package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/metrics"
)

// IntentService opens provider-backed payment attempts under the idempotency
// key contract: one intent per (payment, key), at most one in flight per
// payment, and never a second provider call for a key already stored.
type IntentService struct {
	Deps
	Gateways        map[domain.ProviderName]PaymentGateway
	Routing         ProviderRouting
	ProviderTimeout time.Duration
}

type IntentRequest struct {
	PaymentID      string
	IdempotencyKey string
	Channel        domain.Channel
}

func (s *IntentService) GetOrCreate(ctx context.Context, actor domain.Actor, req IntentRequest) (*domain.PaymentIntent, bool, error) {
	if err := ValidateIdempotencyKey(req.IdempotencyKey); err != nil {
		return nil, false, err
	}
	var (
		out     *domain.PaymentIntent
		created bool
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockPayment(ctx, req.PaymentID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.ErrNotFound("payment")
		}
		if err != nil {
			return err
		}
		o, err := tx.GetOrder(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", p.OrderID, err)
		}
		if !s.canSee(ctx, actor, o) {
			return domain.ErrNotFound("payment")
		}

		if p.Status == domain.PaymentPaid {
			return domain.ErrConflict("payment already paid")
		}
		if !p.Method.SupportsOnlineIntent() {
			return domain.Invalid(fmt.Sprintf("payment method %s cannot be paid online", p.Method))
		}

		existing, err := tx.FindIntentByKey(ctx, p.ID, req.IdempotencyKey)
		switch {
		case err == nil:
			out = existing
			return nil
		case !errors.Is(err, domain.ErrRecordNotFound):
			return err
		}

		if o.Status == domain.OrderCanceled {
			return domain.Invalid("order is canceled")
		}
		if err := s.ensureNoActiveIntent(ctx, tx, p.ID); err != nil {
			return err
		}

		name, gw, err := s.Routing.Resolve(req.Channel, p.Method, s.Gateways)
		if err != nil {
			return err
		}
		res, err := s.callProvider(ctx, name, gw, domain.IntentRequest{
			Payment:        *p,
			Payer:          payerFor(actor, o),
			IdempotencyKey: req.IdempotencyKey,
			Channel:        req.Channel,
		})
		if err != nil {
			return err
		}

		now := s.now()
		in := &domain.PaymentIntent{
			ID:                uuid.NewString(),
			PaymentID:         p.ID,
			Provider:          name,
			Status:            res.Status,
			IdempotencyKey:    req.IdempotencyKey,
			ProviderIntentRef: res.ProviderIntentRef,
			ClientPayload:     res.ClientPayload,
			ExpiresAt:         res.ExpiresAt,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if in.ClientPayload == nil {
			in.ClientPayload = map[string]any{}
		}
		if err := tx.InsertIntent(ctx, in); err != nil {
			return err
		}
		out, created = in, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger().Info("payment intent created", "payment_id", out.PaymentID, "intent_id", out.ID, "provider", out.Provider, "status", out.Status)
	}
	return out, created, nil
}

// ensureNoActiveIntent rejects a new key while another attempt is in flight.
// Attempts past their expiry are marked EXPIRED instead of blocking.
func (s *IntentService) ensureNoActiveIntent(ctx context.Context, tx Tx, paymentID string) error {
	intents, err := tx.ListIntents(ctx, paymentID)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range intents {
		in := &intents[i]
		if !in.Status.IsActive() {
			continue
		}
		if in.Lapsed(now) {
			in.Status = domain.IntentExpired
			in.UpdatedAt = now
			if err := tx.UpdateIntent(ctx, in); err != nil {
				return err
			}
			continue
		}
		return domain.ErrConflict("another payment attempt is in progress for this payment")
	}
	return nil
}

func (s *IntentService) callProvider(ctx context.Context, name domain.ProviderName, gw PaymentGateway, req domain.IntentRequest) (domain.IntentResult, error) {
	if s.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ProviderTimeout)
		defer cancel()
	}
	res, err := gw.CreateIntent(ctx, req)
	if err != nil {
		var verr domain.ErrValidation
		if !errors.As(err, &verr) {
			metrics.RecordProviderCall(string(name), false)
			s.logger().Error("provider call failed", "provider", name, "payment_id", req.Payment.ID, "err", err)
			var ierr *domain.ErrIntegration
			if !errors.As(err, &ierr) {
				err = domain.Integration(name, err)
			}
		}
		return domain.IntentResult{}, err
	}
	metrics.RecordProviderCall(string(name), true)
	if res.ProviderIntentRef == "" {
		return domain.IntentResult{}, domain.Integration(name, errors.New("response carried no intent reference"))
	}
	if res.Status == "" {
		res.Status = domain.IntentRequiresAction
	}
	return res, nil
}

// Latest returns the most recently created intent of a payment.
func (s *IntentService) Latest(ctx context.Context, actor domain.Actor, paymentID string) (*domain.PaymentIntent, error) {
	var out *domain.PaymentIntent
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.ErrNotFound("payment")
		}
		if err != nil {
			return err
		}
		o, err := tx.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if !s.canSee(ctx, actor, o) {
			return domain.ErrNotFound("payment")
		}
		intents, err := tx.ListIntents(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(intents) == 0 {
			return domain.ErrIntentNotFound
		}
		out = &intents[0]
		return nil
	})
	return out, err
}

func payerFor(actor domain.Actor, o *domain.Order) domain.Payer {
	payer := actor.Payer()
	if o.CustomerID != nil {
		payer.CustomerID = *o.CustomerID
	}
	return payer
}
