package repo

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/usecase"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// RunMigrations applies the embedded schema migrations.
func (s *PostgresStore) RunMigrations() error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "mealsub_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx usecase.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRecordNotFound
	}
	return err
}

const orderColumns = `id, customer_id, ordered_at, delivery_date, status, total_amount, updated_at`

func scanOrder(row interface{ Scan(...any) error }, o *domain.Order) error {
	return row.Scan(&o.ID, &o.CustomerID, &o.OrderedAt, &o.DeliveryDate, (*string)(&o.Status), &o.TotalAmount, &o.UpdatedAt)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.CustomerID, o.OrderedAt, o.DeliveryDate, string(o.Status), o.TotalAmount, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert order: %w", err)
	}
	for i, it := range o.Items {
		_, err := t.tx.ExecContext(ctx, `INSERT INTO order_items (order_id, position, menu_item_id, name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, i, it.MenuItemID, it.Name, it.Quantity, it.UnitPrice)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return t.getOrder(ctx, id, "")
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return t.getOrder(ctx, id, " FOR UPDATE")
}

func (t *pgTx) getOrder(ctx context.Context, id, suffix string) (*domain.Order, error) {
	var o domain.Order
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`+suffix, id)
	if err := scanOrder(row, &o); err != nil {
		return nil, notFound(err)
	}
	items, err := t.loadItems(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (t *pgTx) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT order_id, menu_item_id, name, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.MenuItemID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		o.ID, string(o.Status), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (t *pgTx) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY ordered_at DESC LIMIT $2 OFFSET $3`,
		f.CustomerID, f.PageSize, (f.Page-1)*f.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	out := make([]domain.Order, 0, f.PageSize)
	ids := make([]string, 0, f.PageSize)
	for rows.Next() {
		var o domain.Order
		if err := scanOrder(rows, &o); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	if len(ids) > 0 {
		items, err := t.loadItems(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range out {
			out[i].Items = items[out[i].ID]
		}
	}
	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE ($1 = '' OR customer_id = $1)`, f.CustomerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	return out, total, nil
}

const paymentColumns = `id, order_id, method, status, amount, provider_ref, paid_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.OrderID, (*string)(&p.Method), (*string)(&p.Status), &p.Amount, &p.ProviderRef, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.OrderID, string(p.Method), string(p.Status), p.Amount, p.ProviderRef, p.PaidAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (t *pgTx) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1`, orderID))
}

func (t *pgTx) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE payments SET status=$2, provider_ref=$3, paid_at=$4, updated_at=$5 WHERE id=$1`,
		p.ID, string(p.Status), p.ProviderRef, p.PaidAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

const intentColumns = `id, payment_id, provider, status, idempotency_key, provider_intent_ref, client_payload, expires_at, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (*domain.PaymentIntent, error) {
	var (
		in      domain.PaymentIntent
		payload []byte
	)
	err := row.Scan(&in.ID, &in.PaymentID, (*string)(&in.Provider), (*string)(&in.Status), &in.IdempotencyKey,
		&in.ProviderIntentRef, &payload, &in.ExpiresAt, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(payload, &in.ClientPayload); err != nil {
		return nil, fmt.Errorf("unmarshal client payload: %w", err)
	}
	return &in, nil
}

func (t *pgTx) InsertIntent(ctx context.Context, in *domain.PaymentIntent) error {
	payload, err := json.Marshal(in.ClientPayload)
	if err != nil {
		return fmt.Errorf("marshal client payload: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		in.ID, in.PaymentID, string(in.Provider), string(in.Status), in.IdempotencyKey,
		in.ProviderIntentRef, payload, in.ExpiresAt, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateIntent(ctx context.Context, in *domain.PaymentIntent) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE payment_intents SET status=$2, provider_intent_ref=$3, updated_at=$4 WHERE id=$1`,
		in.ID, string(in.Status), in.ProviderIntentRef, in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (t *pgTx) LockIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return scanIntent(t.tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) FindIntentByKey(ctx context.Context, paymentID, key string) (*domain.PaymentIntent, error) {
	return scanIntent(t.tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents
		WHERE payment_id=$1 AND idempotency_key=$2`, paymentID, key))
}

func (t *pgTx) FindIntentByProviderRef(ctx context.Context, provider domain.ProviderName, ref string) (*domain.PaymentIntent, error) {
	return scanIntent(t.tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents
		WHERE provider=$1 AND provider_intent_ref=$2 ORDER BY created_at DESC LIMIT 1`, string(provider), ref))
}

func (t *pgTx) ListIntents(ctx context.Context, paymentID string) ([]domain.PaymentIntent, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+intentColumns+` FROM payment_intents
		WHERE payment_id=$1 ORDER BY created_at DESC`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query payment intents: %w", err)
	}
	defer rows.Close()
	var out []domain.PaymentIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, `INSERT INTO webhook_events (id, provider, event_id, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (provider, event_id) DO NOTHING RETURNING id`,
		ev.ID, string(ev.Provider), ev.EventID, ev.Payload, ev.CreatedAt).Scan(&id)
	if err == nil {
		return ev, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert webhook event: %w", err)
	}
	var (
		out           domain.WebhookEvent
		intentStatus  sql.NullString
		paymentStatus sql.NullString
	)
	err = t.tx.QueryRowContext(ctx, `SELECT id, provider, event_id, payload, intent_status, payment_status, processed_at, created_at
		FROM webhook_events WHERE provider=$1 AND event_id=$2`, string(ev.Provider), ev.EventID).
		Scan(&out.ID, (*string)(&out.Provider), &out.EventID, &out.Payload, &intentStatus, &paymentStatus, &out.ProcessedAt, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("load webhook event: %w", err)
	}
	if intentStatus.Valid {
		s := domain.IntentStatus(intentStatus.String)
		out.IntentStatus = &s
	}
	if paymentStatus.Valid {
		s := domain.PaymentStatus(paymentStatus.String)
		out.PaymentStatus = &s
	}
	return &out, false, nil
}

func (t *pgTx) UpdateWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE webhook_events SET intent_status=$2, payment_status=$3, processed_at=$4 WHERE id=$1`,
		ev.ID, nullString(ev.IntentStatus), nullString(ev.PaymentStatus), ev.ProcessedAt)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	return nil
}

func nullString[T ~string](p *T) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func (t *pgTx) EnsureReceivable(ctx context.Context, r *domain.Receivable) (*domain.Receivable, bool, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, `INSERT INTO receivables (id, source_type, source_id, customer_id, account_code, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (source_type, source_id) DO NOTHING RETURNING id`,
		r.ID, r.SourceType, r.SourceID, r.CustomerID, r.AccountCode, r.Amount, r.CreatedAt).Scan(&id)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert receivable: %w", err)
	}
	var out domain.Receivable
	err = t.tx.QueryRowContext(ctx, `SELECT id, source_type, source_id, customer_id, account_code, amount, created_at
		FROM receivables WHERE source_type=$1 AND source_id=$2`, r.SourceType, r.SourceID).
		Scan(&out.ID, &out.SourceType, &out.SourceID, &out.CustomerID, &out.AccountCode, &out.Amount, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("load receivable: %w", err)
	}
	return &out, false, nil
}

func (t *pgTx) EnsureCashMovement(ctx context.Context, m *domain.CashMovement) (*domain.CashMovement, bool, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, `INSERT INTO cash_movements (id, direction, source_type, source_id, account_code, amount, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (direction, source_type, source_id) DO NOTHING RETURNING id`,
		m.ID, m.Direction, m.SourceType, m.SourceID, m.AccountCode, m.Amount, m.OccurredAt).Scan(&id)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert cash movement: %w", err)
	}
	var out domain.CashMovement
	err = t.tx.QueryRowContext(ctx, `SELECT id, direction, source_type, source_id, account_code, amount, occurred_at
		FROM cash_movements WHERE direction=$1 AND source_type=$2 AND source_id=$3`, m.Direction, m.SourceType, m.SourceID).
		Scan(&out.ID, &out.Direction, &out.SourceType, &out.SourceID, &out.AccountCode, &out.Amount, &out.OccurredAt)
	if err != nil {
		return nil, false, fmt.Errorf("load cash movement: %w", err)
	}
	return &out, false, nil
}
