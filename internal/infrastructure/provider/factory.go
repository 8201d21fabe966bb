package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/usecase"
)

type Config struct {
	// NotifyBaseURL is the public base URL providers call back on.
	NotifyBaseURL string
	Timeout       time.Duration
	Breaker       BreakerConfig
	Wechat        WechatConfig
	MercadoPago   MercadoPagoConfig
	Stripe        StripeConfig
}

// New is the single construction point for gateways.
func New(name domain.ProviderName, cfg Config, hc *http.Client) (Gateway, error) {
	switch name {
	case domain.ProviderMock:
		return NewMock(), nil
	case domain.ProviderWechat:
		return NewWechat(cfg.Wechat, cfg.NotifyBaseURL, hc)
	case domain.ProviderMercadoPago:
		return NewMercadoPago(cfg.MercadoPago, cfg.NotifyBaseURL, hc)
	case domain.ProviderStripe:
		return NewStripe(cfg.Stripe, hc)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", name)
	}
}

// Registry holds the enabled gateways, each behind its own circuit breaker.
type Registry struct {
	breaker  BreakerConfig
	log      *slog.Logger
	gateways map[domain.ProviderName]*breakerGateway
}

func NewRegistry(breaker BreakerConfig, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		breaker:  breaker,
		log:      log,
		gateways: make(map[domain.ProviderName]*breakerGateway),
	}
}

// Build constructs and registers every named provider.
func Build(names []domain.ProviderName, cfg Config, log *slog.Logger) (*Registry, error) {
	r := NewRegistry(cfg.Breaker, log)
	hc := newHTTPClient(cfg.Timeout)
	for _, name := range names {
		g, err := New(name, cfg, hc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		r.Register(g)
	}
	return r, nil
}

func (r *Registry) Register(g Gateway) {
	r.gateways[g.Name()] = withBreaker(g, r.breaker, r.log)
}

func (r *Registry) Get(name domain.ProviderName) (Gateway, bool) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, false
	}
	return g, true
}

// PaymentGateways exposes the registered gateways to the intent orchestrator.
func (r *Registry) PaymentGateways() map[domain.ProviderName]usecase.PaymentGateway {
	out := make(map[domain.ProviderName]usecase.PaymentGateway, len(r.gateways))
	for name, g := range r.gateways {
		out[name] = g
	}
	return out
}
