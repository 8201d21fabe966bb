package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"mealsub-backend/internal/auth"
	"mealsub-backend/internal/config"
	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/infrastructure/catalog"
	"mealsub-backend/internal/infrastructure/customer"
	"mealsub-backend/internal/infrastructure/events"
	"mealsub-backend/internal/infrastructure/provider"
	"mealsub-backend/internal/infrastructure/repo"
	"mealsub-backend/internal/infrastructure/wechat"
	"mealsub-backend/internal/server"
	"mealsub-backend/internal/usecase"
)

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	srv     *server.Server
	closers []func() error
}

func (a *app) Run(ctx context.Context) error {
	return a.srv.Run(ctx, ":"+strconv.Itoa(a.cfg.Port))
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("shutdown", "err", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	a := &app{cfg: cfg, log: log}

	store, err := a.store()
	if err != nil {
		a.Close()
		return nil, err
	}
	menu, err := a.catalog(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.publisher()
	if err != nil {
		a.Close()
		return nil, err
	}

	routing, err := routingFrom(cfg.Providers)
	if err != nil {
		a.Close()
		return nil, err
	}
	registry, err := provider.Build(routing.Enabled, providerConfig(cfg), log)
	if err != nil {
		a.Close()
		return nil, err
	}
	hooks, err := webhookTokens(cfg.Providers.WebhookTokens)
	if err != nil {
		a.Close()
		return nil, err
	}
	for _, name := range routing.Enabled {
		if g, ok := registry.Get(name); ok && hooks[name] == "" && !g.VerifiesWebhooks() {
			log.Warn("provider webhooks will be rejected until a webhook token is configured", "provider", name)
		}
	}

	deps := usecase.Deps{
		Store:  store,
		Access: auth.RoleAccess{Roles: cfg.GlobalRoles},
		Events: publisher,
		Log:    log,
	}
	payments := &usecase.PaymentService{
		Deps: deps,
		Finance: &usecase.FinanceBridge{
			Accounts: usecase.StaticAccounts{Receivable: cfg.ARAccount, Cash: cfg.CashAccount},
			Log:      log,
		},
	}
	tokens := auth.NewTokens(cfg.JWTSecret, 0)

	var login *auth.WechatLogin
	if cfg.WechatAppID != "" {
		login = &auth.WechatLogin{
			Sessions: &wechat.Client{
				AppID:     cfg.WechatAppID,
				Secret:    cfg.WechatSecret,
				AllowMock: cfg.Env == "dev",
			},
			Tokens: tokens,
		}
	}

	a.srv = server.New(server.Deps{
		Orders: &usecase.OrderService{
			Deps:        deps,
			Menu:        menu,
			Eligibility: customer.NewBlocklist(cfg.BlockedCustomers...),
		},
		Payments: payments,
		Intents: &usecase.IntentService{
			Deps:            deps,
			Gateways:        registry.PaymentGateways(),
			Routing:         routing,
			ProviderTimeout: cfg.ProviderTimeout,
		},
		Webhooks:      &usecase.WebhookService{Deps: deps, Payments: payments},
		Providers:     registry,
		Tokens:        tokens,
		Login:         login,
		WebhookTokens: hooks,
		Log:           log,
		Release:       cfg.Env != "dev",
	})
	log.Info("configured", "providers", routing.Enabled, "default_provider", routing.Default,
		"postgres", cfg.DatabaseURL != "", "rabbitmq", cfg.RabbitMQURL != "", "redis", cfg.RedisAddr != "")
	return a, nil
}

func (a *app) store() (usecase.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("no database configured, state is kept in memory")
		return repo.NewMemoryStore(), nil
	}
	pg, err := repo.NewPostgresStore(a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	if a.cfg.AutoMigrate {
		if err := pg.RunMigrations(); err != nil {
			return nil, err
		}
	}
	return pg, nil
}

func (a *app) catalog(ctx context.Context) (usecase.MenuCatalog, error) {
	var menu usecase.MenuCatalog
	switch {
	case a.cfg.MenuURL != "":
		menu = catalog.NewHTTPCatalog(a.cfg.MenuURL)
	case a.cfg.MenuFile != "":
		st, err := catalog.LoadFile(a.cfg.MenuFile)
		if err != nil {
			return nil, err
		}
		menu = st
	default:
		menu = catalog.NewStatic()
	}
	if a.cfg.RedisAddr == "" {
		return menu, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	return catalog.NewCached(menu, rdb, a.cfg.MenuTTL, a.log), nil
}

func (a *app) publisher() (usecase.EventPublisher, error) {
	if a.cfg.RabbitMQURL == "" {
		return events.Log{Logger: a.log}, nil
	}
	mq, err := events.Dial(a.cfg.RabbitMQURL, a.cfg.Exchange)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { mq.Close(); return nil })
	return mq, nil
}

func providerConfig(cfg *config.Config) provider.Config {
	return provider.Config{
		NotifyBaseURL: cfg.PublicBaseURL,
		Timeout:       cfg.ProviderTimeout,
		Wechat: provider.WechatConfig{
			AppID:        cfg.WechatAppID,
			MchID:        cfg.WechatMchID,
			MchSerial:    cfg.WechatMchSerial,
			PrivateKey:   cfg.WechatKey,
			APIv3Key:     cfg.WechatAPIv3Key,
			PlatformCert: cfg.WechatCert,
		},
		MercadoPago: provider.MercadoPagoConfig{AccessToken: cfg.MercadoPagoToken},
		Stripe: provider.StripeConfig{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublicKey,
			WebhookSecret:  cfg.StripeWebhookKey,
		},
	}
}

// routingFrom validates the configured provider names.
func routingFrom(p config.Providers) (usecase.ProviderRouting, error) {
	name := func(s string) (domain.ProviderName, error) {
		n, ok := domain.ParseProviderName(s)
		if !ok {
			return "", fmt.Errorf("unknown payment provider %q", s)
		}
		return n, nil
	}
	names := func(ss []string) ([]domain.ProviderName, error) {
		out := make([]domain.ProviderName, 0, len(ss))
		for _, s := range ss {
			n, err := name(s)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}

	var (
		r   usecase.ProviderRouting
		err error
	)
	if r.Default, err = name(p.Default); err != nil {
		return r, err
	}
	if r.SafeDefault, err = name(p.SafeDefault); err != nil {
		return r, err
	}
	if r.Enabled, err = names(p.Enabled); err != nil {
		return r, err
	}
	r.Channels = make(map[domain.Channel][]domain.ProviderName, len(p.Channels))
	for ch, ps := range p.Channels {
		c, ok := domain.ParseChannel(ch)
		if !ok || c == "" {
			return r, fmt.Errorf("unknown channel %q", ch)
		}
		if r.Channels[c], err = names(ps); err != nil {
			return r, err
		}
	}
	r.Methods = make(map[domain.PaymentMethod][]domain.ProviderName, len(p.Methods))
	for m, ps := range p.Methods {
		method, ok := domain.ParsePaymentMethod(m)
		if !ok {
			return r, fmt.Errorf("unknown payment method %q", m)
		}
		if r.Methods[method], err = names(ps); err != nil {
			return r, err
		}
	}
	enabled := false
	for _, n := range r.Enabled {
		enabled = enabled || n == r.SafeDefault
	}
	if !enabled {
		r.Enabled = append(r.Enabled, r.SafeDefault)
	}
	return r, nil
}

func webhookTokens(in map[string]string) (map[domain.ProviderName]string, error) {
	out := make(map[domain.ProviderName]string, len(in))
	for k, v := range in {
		n, ok := domain.ParseProviderName(k)
		if !ok {
			return nil, fmt.Errorf("webhook token for unknown provider %q", k)
		}
		out[n] = v
	}
	return out, nil
}
