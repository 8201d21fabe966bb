package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"mealsub-backend/internal/domain"
)

type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	OpenFor  time.Duration
}

// breakerGateway guards CreateIntent with a circuit breaker. Rejected input
// is not a provider fault and does not count against it.
type breakerGateway struct {
	Gateway
	cb *gobreaker.CircuitBreaker[domain.IntentResult]
}

func withBreaker(g Gateway, cfg BreakerConfig, log *slog.Logger) *breakerGateway {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:        string(g.Name()),
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			var verr domain.ErrValidation
			return err == nil || errors.As(err, &verr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("provider breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
	}
	return &breakerGateway{Gateway: g, cb: gobreaker.NewCircuitBreaker[domain.IntentResult](st)}
}

func (b *breakerGateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	res, err := b.cb.Execute(func() (domain.IntentResult, error) {
		return b.Gateway.CreateIntent(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.IntentResult{}, domain.Integration(b.Name(), err)
	}
	return res, err
}

func (b *breakerGateway) State() gobreaker.State { return b.cb.State() }
