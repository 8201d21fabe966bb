package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mealsub-backend/internal/auth"
	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/infrastructure/catalog"
	"mealsub-backend/internal/infrastructure/customer"
	"mealsub-backend/internal/infrastructure/provider"
	"mealsub-backend/internal/infrastructure/repo"
	"mealsub-backend/internal/money"
	"mealsub-backend/internal/usecase"
)

var (
	alice = domain.Actor{ID: "u-alice", CustomerID: "cust-alice", Email: "alice@example.com", Roles: []string{"customer"}}
	bob   = domain.Actor{ID: "u-bob", CustomerID: "cust-bob", Roles: []string{"customer"}}
	staff = domain.Actor{ID: "u-ops", Roles: []string{"admin"}}
)

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingEvents) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store    *repo.MemoryStore
	mock     *provider.Mock
	events   *recordingEvents
	clock    time.Time
	day      domain.Date
	orders   *usecase.OrderService
	payments *usecase.PaymentService
	intents  *usecase.IntentService
	webhooks *usecase.WebhookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	day, err := domain.ParseDate("2026-03-02")
	require.NoError(t, err)
	menu := catalog.NewStatic()
	menu.Publish(day,
		domain.MenuItem{ID: "feijoada", Name: "Feijoada", Price: money.MustParse("19.90")},
		domain.MenuItem{ID: "juice", Name: "Orange juice", Price: money.MustParse("6.00")},
	)

	f := &fixture{
		store:  repo.NewMemoryStore(),
		mock:   provider.NewMock(),
		events: &recordingEvents{},
		clock:  time.Now().UTC(),
		day:    day,
	}
	deps := usecase.Deps{
		Store:  f.store,
		Access: auth.RoleAccess{Roles: []string{"admin"}},
		Events: f.events,
		Now:    func() time.Time { return f.clock },
	}
	f.orders = &usecase.OrderService{
		Deps:        deps,
		Menu:        menu,
		Eligibility: customer.NewBlocklist("cust-blocked"),
	}
	f.payments = &usecase.PaymentService{
		Deps: deps,
		Finance: &usecase.FinanceBridge{
			Accounts: usecase.StaticAccounts{Receivable: "1.1.2.01", Cash: "1.1.1.01"},
		},
	}
	f.intents = &usecase.IntentService{
		Deps:     deps,
		Gateways: map[domain.ProviderName]usecase.PaymentGateway{domain.ProviderMock: f.mock},
		Routing: usecase.ProviderRouting{
			Default:     domain.ProviderMock,
			SafeDefault: domain.ProviderMock,
			Enabled:     []domain.ProviderName{domain.ProviderMock},
		},
		ProviderTimeout: time.Second,
	}
	f.webhooks = &usecase.WebhookService{Deps: deps, Payments: f.payments}
	return f
}

// placeOrder creates alice's order of two feijoadas (39.80).
func (f *fixture) placeOrder(t *testing.T, method domain.PaymentMethod) *usecase.OrderView {
	t.Helper()
	view, err := f.orders.Create(context.Background(), alice, usecase.CreateOrderInput{
		DeliveryDate:  f.day,
		Items:         []usecase.CreateOrderItem{{MenuItemID: "feijoada", Quantity: 2}},
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) openIntent(t *testing.T, paymentID, key string) *domain.PaymentIntent {
	t.Helper()
	in, created, err := f.intents.GetOrCreate(context.Background(), alice, usecase.IntentRequest{
		PaymentID:      paymentID,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	require.True(t, created)
	return in
}

func (f *fixture) notify(eventID, ref string, st domain.IntentStatus) (*domain.WebhookEvent, bool, error) {
	return f.webhooks.Process(context.Background(), domain.WebhookNotice{
		Provider:          domain.ProviderMock,
		EventID:           eventID,
		ProviderIntentRef: ref,
		IntentStatus:      st,
	}, []byte(`{"eventId":"`+eventID+`"}`))
}

func isValidation(err error) bool {
	var v domain.ErrValidation
	return errors.As(err, &v)
}

func isConflict(err error) bool {
	var c domain.ErrConflict
	return errors.As(err, &c)
}

func isNotFound(err error) bool {
	var n domain.ErrNotFound
	return errors.As(err, &n)
}
