package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/money"
	"mealsub-backend/internal/usecase"
)

// seed is one order with its payment, written in its own unit of work.
type seed struct {
	order   *domain.Order
	payment *domain.Payment
}

func newSeed(customerID string, at time.Time) seed {
	day := domain.DateOf(at)
	cust := customerID
	items := []domain.OrderItem{
		{MenuItemID: "feijoada", Name: "Feijoada", Quantity: 2, UnitPrice: money.MustParse("19.90")},
	}
	o := &domain.Order{
		ID:           uuid.NewString(),
		CustomerID:   &cust,
		OrderedAt:    at,
		DeliveryDate: day,
		Status:       domain.OrderCreated,
		Items:        items,
		TotalAmount:  domain.ComputeTotal(items),
		UpdatedAt:    at,
	}
	return seed{order: o, payment: &domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Method:    domain.MethodPix,
		Status:    domain.PaymentPending,
		Amount:    o.TotalAmount,
		CreatedAt: at,
		UpdatedAt: at,
	}}
}

func (s seed) insert(t *testing.T, store usecase.Store) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx usecase.Tx) error {
		if err := tx.InsertOrder(context.Background(), s.order); err != nil {
			return err
		}
		return tx.InsertPayment(context.Background(), s.payment)
	})
	require.NoError(t, err)
}

func newIntent(paymentID, key, ref string, at time.Time) *domain.PaymentIntent {
	exp := at.Add(30 * time.Minute)
	return &domain.PaymentIntent{
		ID:                uuid.NewString(),
		PaymentID:         paymentID,
		Provider:          domain.ProviderMock,
		Status:            domain.IntentRequiresAction,
		IdempotencyKey:    key,
		ProviderIntentRef: ref,
		ClientPayload:     map[string]any{"copyPasteCode": "000201"},
		ExpiresAt:         &exp,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

// testStore runs the behavior every Store implementation must share.
func testStore(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("orders round trip", func(t *testing.T) {
		s := newSeed("cust-a", now)
		s.insert(t, store)
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			o, err := tx.GetOrder(ctx, s.order.ID)
			require.NoError(t, err)
			assert.Equal(t, "39.80", o.TotalAmount.String())
			require.Len(t, o.Items, 1)
			assert.Equal(t, 2, o.Items[0].Quantity)
			assert.Equal(t, "19.90", o.Items[0].UnitPrice.String())
			assert.Equal(t, s.order.DeliveryDate.String(), o.DeliveryDate.String())

			p, err := tx.GetPaymentByOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, s.payment.ID, p.ID)
			assert.Equal(t, domain.PaymentPending, p.Status)

			o.Status = domain.OrderConfirmed
			require.NoError(t, tx.UpdateOrder(ctx, o))
			locked, err := tx.LockOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderConfirmed, locked.Status)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("missing rows", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			_, err := tx.GetOrder(ctx, uuid.NewString())
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
			_, err = tx.GetPayment(ctx, uuid.NewString())
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
			_, err = tx.FindIntentByKey(ctx, uuid.NewString(), "K1")
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
			_, err = tx.FindIntentByProviderRef(ctx, domain.ProviderMock, "mock_nope")
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("second payment for an order", func(t *testing.T) {
		s := newSeed("cust-a", now)
		s.insert(t, store)
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			dup := *s.payment
			dup.ID = uuid.NewString()
			return tx.InsertPayment(ctx, &dup)
		})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("rollback discards every write", func(t *testing.T) {
		s := newSeed("cust-a", now)
		boom := errors.New("boom")
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			require.NoError(t, tx.InsertOrder(ctx, s.order))
			require.NoError(t, tx.InsertPayment(ctx, s.payment))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		err = store.WithTx(ctx, func(tx usecase.Tx) error {
			_, err := tx.GetOrder(ctx, s.order.ID)
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
			_, err = tx.GetPayment(ctx, s.payment.ID)
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("intents by key and reference", func(t *testing.T) {
		s := newSeed("cust-b", now)
		s.insert(t, store)
		k1 := newIntent(s.payment.ID, "K1", "mock_"+uuid.NewString(), now)
		k2 := newIntent(s.payment.ID, "K2", "mock_"+uuid.NewString(), now.Add(time.Second))
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			require.NoError(t, tx.InsertIntent(ctx, k1))
			require.NoError(t, tx.InsertIntent(ctx, k2))

			got, err := tx.FindIntentByKey(ctx, s.payment.ID, "K1")
			require.NoError(t, err)
			assert.Equal(t, k1.ID, got.ID)
			assert.Equal(t, "000201", got.ClientPayload["copyPasteCode"])
			require.NotNil(t, got.ExpiresAt)

			got, err = tx.FindIntentByProviderRef(ctx, domain.ProviderMock, k2.ProviderIntentRef)
			require.NoError(t, err)
			assert.Equal(t, k2.ID, got.ID)

			all, err := tx.ListIntents(ctx, s.payment.ID)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, k2.ID, all[0].ID, "newest first")

			locked, err := tx.LockIntent(ctx, k1.ID)
			require.NoError(t, err)
			locked.Status = domain.IntentExpired
			require.NoError(t, tx.UpdateIntent(ctx, locked))
			got, err = tx.FindIntentByKey(ctx, s.payment.ID, "K1")
			require.NoError(t, err)
			assert.Equal(t, domain.IntentExpired, got.Status)
			return nil
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(tx usecase.Tx) error {
			return tx.InsertIntent(ctx, newIntent(s.payment.ID, "K1", "mock_other", now))
		})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("webhook events dedupe", func(t *testing.T) {
		eventID := "evt-" + uuid.NewString()
		first := &domain.WebhookEvent{
			ID: uuid.NewString(), Provider: domain.ProviderMock, EventID: eventID,
			Payload: []byte(`{"a":1}`), CreatedAt: now,
		}
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			ev, created, err := tx.InsertWebhookEvent(ctx, first)
			require.NoError(t, err)
			assert.True(t, created)

			st := domain.IntentSucceeded
			ev.IntentStatus = &st
			processed := now
			ev.ProcessedAt = &processed
			return tx.UpdateWebhookEvent(ctx, ev)
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(tx usecase.Tx) error {
			ev, created, err := tx.InsertWebhookEvent(ctx, &domain.WebhookEvent{
				ID: uuid.NewString(), Provider: domain.ProviderMock, EventID: eventID,
				Payload: []byte(`{"a":2}`), CreatedAt: now,
			})
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, ev.ID)
			require.NotNil(t, ev.IntentStatus)
			assert.Equal(t, domain.IntentSucceeded, *ev.IntentStatus)

			_, created, err = tx.InsertWebhookEvent(ctx, &domain.WebhookEvent{
				ID: uuid.NewString(), Provider: domain.ProviderStripe, EventID: eventID,
				Payload: []byte(`{}`), CreatedAt: now,
			})
			require.NoError(t, err)
			assert.True(t, created, "event ids are scoped per provider")
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ledger rows are unique per source", func(t *testing.T) {
		s := newSeed("cust-c", now)
		s.insert(t, store)
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			rec := &domain.Receivable{
				ID: uuid.NewString(), SourceType: domain.SourceOrder, SourceID: s.order.ID,
				CustomerID: s.order.CustomerID, AccountCode: "1.1.2.01", Amount: s.payment.Amount, CreatedAt: now,
			}
			got, created, err := tx.EnsureReceivable(ctx, rec)
			require.NoError(t, err)
			assert.True(t, created)

			again, created, err := tx.EnsureReceivable(ctx, &domain.Receivable{
				ID: uuid.NewString(), SourceType: domain.SourceOrder, SourceID: s.order.ID,
				AccountCode: "1.1.2.01", Amount: s.payment.Amount, CreatedAt: now,
			})
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, got.ID, again.ID)

			mv := func() *domain.CashMovement {
				return &domain.CashMovement{
					ID: uuid.NewString(), Direction: domain.DirectionIn, SourceType: domain.SourceReceivable,
					SourceID: got.ID, AccountCode: "1.1.1.01", Amount: got.Amount, OccurredAt: now,
				}
			}
			first, created, err := tx.EnsureCashMovement(ctx, mv())
			require.NoError(t, err)
			assert.True(t, created)
			second, created, err := tx.EnsureCashMovement(ctx, mv())
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, "39.80", second.Amount.String())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("concurrent writers race on unique rows", func(t *testing.T) {
		const writers = 8
		s := newSeed("cust-race-"+uuid.NewString(), now)
		s.insert(t, store)
		eventID := "evt-" + uuid.NewString()
		recID := uuid.NewString()

		var (
			wg                                  sync.WaitGroup
			mu                                  sync.Mutex
			events, receivables, moves, intents int
			duplicates                          int
			eventIDs                            = map[string]bool{}
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.WithTx(ctx, func(tx usecase.Tx) error {
					ev, created, err := tx.InsertWebhookEvent(ctx, &domain.WebhookEvent{
						ID: uuid.NewString(), Provider: domain.ProviderMock, EventID: eventID,
						Payload: []byte(`{}`), CreatedAt: now,
					})
					if err != nil {
						return err
					}
					rec, recCreated, err := tx.EnsureReceivable(ctx, &domain.Receivable{
						ID: uuid.NewString(), SourceType: domain.SourceOrder, SourceID: s.order.ID,
						AccountCode: "1.1.2.01", Amount: s.payment.Amount, CreatedAt: now,
					})
					if err != nil {
						return err
					}
					_, mvCreated, err := tx.EnsureCashMovement(ctx, &domain.CashMovement{
						ID: uuid.NewString(), Direction: domain.DirectionIn, SourceType: domain.SourceReceivable,
						SourceID: recID, AccountCode: "1.1.1.01", Amount: rec.Amount, OccurredAt: now,
					})
					if err != nil {
						return err
					}
					mu.Lock()
					defer mu.Unlock()
					eventIDs[ev.ID] = true
					if created {
						events++
					}
					if recCreated {
						receivables++
					}
					if mvCreated {
						moves++
					}
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, events, "one writer stores the event")
		assert.Len(t, eventIDs, 1, "every writer sees the stored event")
		assert.Equal(t, 1, receivables)
		assert.Equal(t, 1, moves)

		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.WithTx(ctx, func(tx usecase.Tx) error {
					return tx.InsertIntent(ctx, newIntent(s.payment.ID, "K-race", "mock_"+uuid.NewString(), now))
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					intents++
				case errors.Is(err, ErrDuplicate):
					duplicates++
				default:
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, intents, "one intent per idempotency key")
		assert.Equal(t, writers-1, duplicates)
	})

	t.Run("list orders pages per customer", func(t *testing.T) {
		cust := "cust-list-" + uuid.NewString()
		for i := 0; i < 3; i++ {
			newSeed(cust, now.Add(time.Duration(i)*time.Minute)).insert(t, store)
		}
		err := store.WithTx(ctx, func(tx usecase.Tx) error {
			page, total, err := tx.ListOrders(ctx, domain.OrderFilter{CustomerID: cust, Page: 1, PageSize: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, page, 2)
			assert.True(t, page[0].OrderedAt.After(page[1].OrderedAt), "newest first")
			require.Len(t, page[0].Items, 1)

			page, _, err = tx.ListOrders(ctx, domain.OrderFilter{CustomerID: cust, Page: 2, PageSize: 2})
			require.NoError(t, err)
			assert.Len(t, page, 1)
			return nil
		})
		require.NoError(t, err)
	})
}
