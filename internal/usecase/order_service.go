package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/metrics"
)

type OrderService struct {
	Deps
	Menu        MenuCatalog
	Eligibility CheckoutEligibility
}

type CreateOrderItem struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

type CreateOrderInput struct {
	// CustomerID is honored for global-access actors only; customers always
	// order for themselves.
	CustomerID    string
	DeliveryDate  domain.Date
	Items         []CreateOrderItem
	PaymentMethod domain.PaymentMethod
}

// OrderView is an order together with its single payment.
type OrderView struct {
	domain.Order
	Payment *domain.Payment `json:"payment,omitempty"`
}

func (s *OrderService) Create(ctx context.Context, actor domain.Actor, in CreateOrderInput) (view *OrderView, err error) {
	defer func() { metrics.RecordOrderOperation("create", err == nil) }()

	customerID := actor.CustomerID
	if in.CustomerID != "" && s.global(ctx, actor) {
		customerID = in.CustomerID
	}
	method := in.PaymentMethod
	if method == "" {
		method = domain.MethodPix
	}
	if errs := validateItems(in.Items); len(errs) > 0 {
		return nil, domain.Invalid(errs...)
	}

	menu, err := s.Menu.ActiveMenu(ctx, in.DeliveryDate)
	if err != nil {
		return nil, fmt.Errorf("load menu for %s: %w", in.DeliveryDate, err)
	}
	items := make([]domain.OrderItem, 0, len(in.Items))
	var errs []string
	for _, it := range in.Items {
		mi, ok := menu[it.MenuItemID]
		if !ok {
			errs = append(errs, fmt.Sprintf("menu item %s is not on the menu for %s", it.MenuItemID, in.DeliveryDate))
			continue
		}
		items = append(items, domain.OrderItem{
			MenuItemID: mi.ID,
			Name:       mi.Name,
			Quantity:   it.Quantity,
			UnitPrice:  mi.Price,
		})
	}
	if len(errs) > 0 {
		return nil, domain.Invalid(errs...)
	}

	if customerID != "" && s.Eligibility != nil {
		ok, err := s.Eligibility.CanCheckout(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("check eligibility: %w", err)
		}
		if !ok {
			return nil, domain.Invalid("customer is not eligible to check out")
		}
	}

	now := s.now()
	o := &domain.Order{
		ID:           uuid.NewString(),
		OrderedAt:    now,
		DeliveryDate: in.DeliveryDate,
		Status:       domain.OrderCreated,
		Items:        items,
		TotalAmount:  domain.ComputeTotal(items),
		UpdatedAt:    now,
	}
	if customerID != "" {
		o.CustomerID = &customerID
	}
	p := &domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Method:    method,
		Status:    domain.PaymentPending,
		Amount:    o.TotalAmount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("order created", "order_id", o.ID, "payment_id", p.ID, "total", o.TotalAmount.String())
	s.publish(ctx, []domain.Event{{
		Type:      domain.EventOrderCreated,
		OrderID:   o.ID,
		PaymentID: p.ID,
		Status:    string(o.Status),
		Amount:    o.TotalAmount.String(),
		Occurred:  now,
	}})
	return &OrderView{Order: *o, Payment: p}, nil
}

func validateItems(items []CreateOrderItem) []string {
	if len(items) == 0 {
		return []string{"order must contain at least one item"}
	}
	var errs []string
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		id := strings.TrimSpace(it.MenuItemID)
		if id == "" {
			errs = append(errs, fmt.Sprintf("items[%d]: menuItemId required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Sprintf("items[%d]: duplicate menu item %s", i, id))
		}
		seen[id] = struct{}{}
		if it.Quantity <= 0 {
			errs = append(errs, fmt.Sprintf("items[%d]: quantity must be greater than zero", i))
		}
	}
	return errs
}

func (s *OrderService) Get(ctx context.Context, actor domain.Actor, orderID string) (*OrderView, error) {
	var view *OrderView
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.ErrNotFound("order")
		}
		if err != nil {
			return err
		}
		if !s.canSee(ctx, actor, o) {
			return domain.ErrNotFound("order")
		}
		p, err := tx.GetPaymentByOrder(ctx, o.ID)
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}
		view = &OrderView{Order: *o, Payment: p}
		return nil
	})
	return view, err
}

// List returns the actor's own orders, or every order for global access.
func (s *OrderService) List(ctx context.Context, actor domain.Actor, page, pageSize int) ([]domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	f := domain.OrderFilter{Page: page, PageSize: pageSize}
	if !s.global(ctx, actor) {
		if actor.CustomerID == "" {
			return []domain.Order{}, 0, nil
		}
		f.CustomerID = actor.CustomerID
	}
	var (
		out   []domain.Order
		total int
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, total, err = tx.ListOrders(ctx, f)
		return err
	})
	return out, total, err
}

// Transition moves the order along the lifecycle table while holding its row
// lock.
func (s *OrderService) Transition(ctx context.Context, orderID string, next domain.OrderStatus, actor domain.Actor) (out *domain.Order, err error) {
	defer func() { metrics.RecordOrderOperation("transition", err == nil) }()

	var changed bool
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.ErrNotFound("order")
		}
		if err != nil {
			return err
		}
		global := s.global(ctx, actor)
		if !global && !o.OwnedBy(actor.CustomerID) {
			return domain.ErrNotFound("order")
		}
		if o.Status == next {
			if o.Status.IsTerminal() {
				return domain.Invalid(fmt.Sprintf("order is %s and cannot change status", o.Status))
			}
			out = o
			return nil
		}
		if !o.Status.CanTransitionTo(next) {
			return domain.Invalid(fmt.Sprintf("cannot move order from %s to %s", o.Status, next))
		}
		if !global && !customerMayApply(o.Status, next) {
			return domain.Invalid("customers may only cancel before preparation starts or confirm receipt after delivery")
		}
		o.Status = next
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		changed = true
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger().Info("order status changed", "order_id", out.ID, "status", out.Status, "actor", actor.ID)
		s.publish(ctx, []domain.Event{{
			Type:     domain.EventOrderStatusChanged,
			OrderID:  out.ID,
			Status:   string(out.Status),
			Occurred: out.UpdatedAt,
		}})
	}
	return out, nil
}

func customerMayApply(from, to domain.OrderStatus) bool {
	switch to {
	case domain.OrderCanceled:
		return from == domain.OrderCreated || from == domain.OrderConfirmed
	case domain.OrderReceived:
		return from == domain.OrderDelivered
	}
	return false
}
