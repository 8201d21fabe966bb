package repo

import (
	"context"
	"sort"
	"sync"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/usecase"
)

// MemoryStore keeps everything in maps. One mutex serializes every unit of
// work, and a unit that fails is rolled back by restoring the snapshot taken
// when it started.
type MemoryStore struct {
	mu sync.Mutex
	st memState
}

type memState struct {
	orders      map[string]domain.Order
	payments    map[string]domain.Payment
	intents     map[string]domain.PaymentIntent
	webhooks    map[string]domain.WebhookEvent
	receivables map[string]domain.Receivable
	movements   map[string]domain.CashMovement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: memState{
		orders:      make(map[string]domain.Order),
		payments:    make(map[string]domain.Payment),
		intents:     make(map[string]domain.PaymentIntent),
		webhooks:    make(map[string]domain.WebhookEvent),
		receivables: make(map[string]domain.Receivable),
		movements:   make(map[string]domain.CashMovement),
	}}
}

func (s memState) clone() memState {
	return memState{
		orders:      cloneMap(s.orders),
		payments:    cloneMap(s.payments),
		intents:     cloneMap(s.intents),
		webhooks:    cloneMap(s.webhooks),
		receivables: cloneMap(s.receivables),
		movements:   cloneMap(s.movements),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx usecase.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	err := fn(&memTx{st: &s.st})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.st = snapshot
	}
	return err
}

// WebhookEvents returns every stored event, for inspection.
func (s *MemoryStore) WebhookEvents() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.st.webhooks)
}

func (s *MemoryStore) Receivables() []domain.Receivable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.st.receivables)
}

func (s *MemoryStore) CashMovements() []domain.CashMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.st.movements)
}

func values[V any](m map[string]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

type memTx struct {
	st *memState
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return ErrDuplicate
	}
	t.st.orders[o.ID] = copyOrder(*o)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (t *memTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) UpdateOrder(_ context.Context, o *domain.Order) error {
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	cur.Status = o.Status
	cur.UpdatedAt = o.UpdatedAt
	t.st.orders[o.ID] = cur
	return nil
}

func (t *memTx) ListOrders(_ context.Context, f domain.OrderFilter) ([]domain.Order, int, error) {
	all := make([]domain.Order, 0, len(t.st.orders))
	for _, o := range t.st.orders {
		if f.CustomerID != "" && !o.OwnedBy(f.CustomerID) {
			continue
		}
		all = append(all, copyOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OrderedAt.After(all[j].OrderedAt) })
	total := len(all)
	start := (f.Page - 1) * f.PageSize
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (t *memTx) InsertPayment(_ context.Context, p *domain.Payment) error {
	for _, existing := range t.st.payments {
		if existing.OrderID == p.OrderID {
			return ErrDuplicate
		}
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *memTx) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &p, nil
}

func (t *memTx) GetPaymentByOrder(_ context.Context, orderID string) (*domain.Payment, error) {
	for _, p := range t.st.payments {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (t *memTx) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return t.GetPayment(ctx, id)
}

func (t *memTx) UpdatePayment(_ context.Context, p *domain.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return domain.ErrRecordNotFound
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *memTx) InsertIntent(_ context.Context, in *domain.PaymentIntent) error {
	for _, existing := range t.st.intents {
		if existing.PaymentID == in.PaymentID && existing.IdempotencyKey == in.IdempotencyKey {
			return ErrDuplicate
		}
	}
	t.st.intents[in.ID] = *in
	return nil
}

func (t *memTx) UpdateIntent(_ context.Context, in *domain.PaymentIntent) error {
	cur, ok := t.st.intents[in.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	cur.Status = in.Status
	cur.ProviderIntentRef = in.ProviderIntentRef
	cur.UpdatedAt = in.UpdatedAt
	t.st.intents[in.ID] = cur
	return nil
}

func (t *memTx) LockIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	in, ok := t.st.intents[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &in, nil
}

func (t *memTx) FindIntentByKey(_ context.Context, paymentID, key string) (*domain.PaymentIntent, error) {
	for _, in := range t.st.intents {
		if in.PaymentID == paymentID && in.IdempotencyKey == key {
			return &in, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (t *memTx) FindIntentByProviderRef(_ context.Context, provider domain.ProviderName, ref string) (*domain.PaymentIntent, error) {
	var best *domain.PaymentIntent
	for _, in := range t.st.intents {
		if in.Provider != provider || in.ProviderIntentRef != ref {
			continue
		}
		if best == nil || in.CreatedAt.After(best.CreatedAt) {
			cp := in
			best = &cp
		}
	}
	if best == nil {
		return nil, domain.ErrRecordNotFound
	}
	return best, nil
}

func (t *memTx) ListIntents(_ context.Context, paymentID string) ([]domain.PaymentIntent, error) {
	var out []domain.PaymentIntent
	for _, in := range t.st.intents {
		if in.PaymentID == paymentID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) InsertWebhookEvent(_ context.Context, ev *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	for _, existing := range t.st.webhooks {
		if existing.Provider == ev.Provider && existing.EventID == ev.EventID {
			return &existing, false, nil
		}
	}
	t.st.webhooks[ev.ID] = *ev
	return ev, true, nil
}

func (t *memTx) UpdateWebhookEvent(_ context.Context, ev *domain.WebhookEvent) error {
	cur, ok := t.st.webhooks[ev.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	cur.IntentStatus = ev.IntentStatus
	cur.PaymentStatus = ev.PaymentStatus
	cur.ProcessedAt = ev.ProcessedAt
	t.st.webhooks[ev.ID] = cur
	return nil
}

func (t *memTx) EnsureReceivable(_ context.Context, r *domain.Receivable) (*domain.Receivable, bool, error) {
	for _, existing := range t.st.receivables {
		if existing.SourceType == r.SourceType && existing.SourceID == r.SourceID {
			return &existing, false, nil
		}
	}
	t.st.receivables[r.ID] = *r
	return r, true, nil
}

func (t *memTx) EnsureCashMovement(_ context.Context, m *domain.CashMovement) (*domain.CashMovement, bool, error) {
	for _, existing := range t.st.movements {
		if existing.Direction == m.Direction && existing.SourceType == m.SourceType && existing.SourceID == m.SourceID {
			return &existing, false, nil
		}
	}
	t.st.movements[m.ID] = *m
	return m, true, nil
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}
