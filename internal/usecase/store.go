package usecase

import (
	"context"
	"log/slog"
	"time"

	"mealsub-backend/internal/domain"
)

// Store runs fn as one atomic unit. Any error returned by fn rolls back
// everything fn wrote.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the data access available inside a unit of work. Lock* methods take an
// exclusive row lock held until the unit ends and return an owned copy.
// Lookups that match nothing return domain.ErrRecordNotFound.
type Tx interface {
	InsertOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, o *domain.Order) error
	ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error)

	InsertPayment(ctx context.Context, p *domain.Payment) error
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
	LockPayment(ctx context.Context, id string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error

	InsertIntent(ctx context.Context, i *domain.PaymentIntent) error
	UpdateIntent(ctx context.Context, i *domain.PaymentIntent) error
	LockIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	FindIntentByKey(ctx context.Context, paymentID, key string) (*domain.PaymentIntent, error)
	// FindIntentByProviderRef returns the most recently created match.
	FindIntentByProviderRef(ctx context.Context, provider domain.ProviderName, ref string) (*domain.PaymentIntent, error)
	// ListIntents returns the payment's intents, newest first.
	ListIntents(ctx context.Context, paymentID string) ([]domain.PaymentIntent, error)

	// InsertWebhookEvent stores ev unless (provider, event id) exists. It
	// returns the stored row and whether this call created it.
	InsertWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (*domain.WebhookEvent, bool, error)
	UpdateWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error

	EnsureReceivable(ctx context.Context, r *domain.Receivable) (*domain.Receivable, bool, error)
	EnsureCashMovement(ctx context.Context, m *domain.CashMovement) (*domain.CashMovement, bool, error)
}

// MenuCatalog returns the active menu published for a delivery date, keyed by
// menu item id. A date without a published menu yields an empty map.
type MenuCatalog interface {
	ActiveMenu(ctx context.Context, day domain.Date) (map[string]domain.MenuItem, error)
}

type CheckoutEligibility interface {
	CanCheckout(ctx context.Context, customerID string) (bool, error)
}

type AccessChecker interface {
	HasGlobalAccess(ctx context.Context, actor domain.Actor) bool
}

type AccountResolver interface {
	DefaultAccounts(ctx context.Context) (domain.LedgerAccounts, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// PaymentGateway is one provider adapter as seen by the orchestrator.
type PaymentGateway interface {
	Supports(m domain.PaymentMethod) bool
	CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error)
}

// Deps are the collaborators every service shares.
type Deps struct {
	Store  Store
	Access AccessChecker
	Events EventPublisher
	Log    *slog.Logger
	Now    func() time.Time
}

func (b *Deps) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

func (b *Deps) logger() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}

func (b *Deps) global(ctx context.Context, actor domain.Actor) bool {
	return b.Access != nil && b.Access.HasGlobalAccess(ctx, actor)
}

// canSee applies the visibility rule: owners and global-access actors see the
// order, everybody else is told it does not exist.
func (b *Deps) canSee(ctx context.Context, actor domain.Actor, o *domain.Order) bool {
	return o.OwnedBy(actor.CustomerID) || b.global(ctx, actor)
}

// publish runs after commit; a broker outage never undoes committed state.
func (b *Deps) publish(ctx context.Context, events []domain.Event) {
	if b.Events == nil {
		return
	}
	for _, ev := range events {
		if err := b.Events.Publish(ctx, ev); err != nil {
			b.logger().Warn("publish event failed", "type", ev.Type, "order_id", ev.OrderID, "err", err)
		}
	}
}
