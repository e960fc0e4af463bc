package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
)

const instrumentationName = "github.com/xenking/mall-pos/internal/domain/order"

// CheckoutRequest holds the input for converting a cart into an order.
type CheckoutRequest struct {
	Cart           *cart.Cart
	Cashier        string
	Payment        PaymentRequest
	PromoCode      string
	IdempotencyKey string
}

// Service is the checkout engine. Each checkout validates stock, decrements
// it and records the order in a single transaction.
type Service struct {
	runner  TxRunner
	history History
	promos  promo.Validator

	attempts int
	backoff  time.Duration
	now      func() time.Time
	newID    func() string

	tracer    trace.Tracer
	placed    metric.Int64Counter
	failures  metric.Int64Counter
	conflicts metric.Int64Counter
}

type options struct {
	attempts       int
	backoff        time.Duration
	now            func() time.Time
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// Option configures a Service.
type Option func(*options)

// WithMaxAttempts bounds how many times a conflicting transaction is tried.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts. The n-th retry waits
// n times this delay.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *options) { o.backoff = d }
}

// WithClock overrides the order timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// NewService creates the checkout engine.
func NewService(runner TxRunner, history History, promos promo.Validator, opts ...Option) (*Service, error) {
	o := options{
		attempts:       3,
		backoff:        25 * time.Millisecond,
		now:            time.Now,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		runner:   runner,
		history:  history,
		promos:   promos,
		attempts: o.attempts,
		backoff:  o.backoff,
		now:      o.now,
		newID:    uuid.NewString,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
	}

	meter := o.meterProvider.Meter(instrumentationName)
	var err error
	if s.placed, err = meter.Int64Counter("pos.checkout.orders",
		metric.WithDescription("Orders created by checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if s.failures, err = meter.Int64Counter("pos.checkout.failures",
		metric.WithDescription("Checkouts that did not produce an order"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if s.conflicts, err = meter.Int64Counter("pos.checkout.conflicts",
		metric.WithDescription("Checkout transactions rolled back due to contention"),
	); err != nil {
		return nil, errors.Wrap(err, "conflicts counter")
	}
	return s, nil
}

// Checkout converts the cart into a persisted order. Either every line is
// sold and the order recorded, or nothing changes. The cart itself is left
// untouched; callers clear it on success.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(rerr))))
		}
		span.End()
	}()

	if req.Cart == nil || req.Cart.IsEmpty() {
		return nil, ErrEmptyCart
	}
	items, err := collectItems(req.Cart.Lines())
	if err != nil {
		return nil, err
	}
	if req.Payment.Method != "" {
		if _, err := ParsePaymentMethod(string(req.Payment.Method)); err != nil {
			return nil, err
		}
	}

	if req.IdempotencyKey != "" {
		existing, err := s.history.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			return existing.ReplayFor(req.Cashier)
		case !errors.Is(err, ErrNotFound):
			return nil, errors.Wrap(err, "lookup idempotency key")
		}
	}

	var code *promo.Code
	if req.PromoCode != "" {
		if code, err = s.promos.Validate(ctx, req.PromoCode); err != nil {
			return nil, err
		}
	}

	for attempt := 1; ; attempt++ {
		var placed *Order
		err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := s.place(ctx, tx, req, items, code)
			if err != nil {
				return err
			}
			placed = o
			return nil
		})
		switch {
		case err == nil:
			span.SetAttributes(
				attribute.String("pos.order.id", placed.ID),
				attribute.Int("pos.checkout.attempts", attempt),
			)
			s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(placed.Payment.Method))))
			return placed, nil
		case req.IdempotencyKey != "" && errors.Is(err, ErrDuplicateSubmission):
			existing, ferr := s.history.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if ferr != nil {
				return nil, errors.Wrap(ferr, "load concurrent submission")
			}
			return existing.ReplayFor(req.Cashier)
		case !errors.Is(err, ErrConflict):
			return nil, err
		}

		s.conflicts.Add(ctx, 1)
		if attempt >= s.attempts {
			return nil, &TransactionFailedError{Attempts: attempt, Err: err}
		}
		zctx.From(ctx).Warn("Checkout conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleep(ctx, time.Duration(attempt)*s.backoff); err != nil {
			return nil, err
		}
	}
}

type item struct {
	productID int64
	quantity  int
}

// collectItems folds the cart into one item per product, in scan order.
func collectItems(lines []cart.Line) ([]item, error) {
	items := make([]item, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &cart.InvalidQuantityError{ProductID: l.Product.ID, Quantity: l.Quantity}
		}
		if i, ok := index[l.Product.ID]; ok {
			items[i].quantity += l.Quantity
			continue
		}
		index[l.Product.ID] = len(items)
		items = append(items, item{productID: l.Product.ID, quantity: l.Quantity})
	}
	return items, nil
}

// place runs inside the transaction. Stock and prices come from the locked
// rows, not from the cart snapshot.
func (s *Service) place(ctx context.Context, tx Tx, req CheckoutRequest, items []item, code *promo.Code) (*Order, error) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.productID
	}
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	byID := make(map[int64]product.Product, len(locked))
	for _, p := range locked {
		byID[p.ID] = p
	}

	var shortages []product.Shortage
	for _, it := range items {
		p, ok := byID[it.productID]
		if !ok {
			return nil, &product.NotFoundError{ID: it.productID}
		}
		if p.Quantity < it.quantity {
			shortages = append(shortages, product.Shortage{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: it.quantity,
				Available: p.Quantity,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, &product.InsufficientStockError{Shortages: shortages}
	}

	o := &Order{
		ID:             s.newID(),
		CreatedAt:      s.now().UTC(),
		Cashier:        req.Cashier,
		Lines:          make([]Line, 0, len(items)),
		Total:          decimal.Zero,
		Discount:       decimal.Zero,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, it := range items {
		p := byID[it.productID]
		if err := tx.AdjustStock(ctx, p.ID, -it.quantity); err != nil {
			return nil, errors.Wrapf(err, "decrement product %d", p.ID)
		}
		line := Line{
			ProductID: p.ID,
			Barcode:   p.Barcode,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  it.quantity,
			Subtotal:  p.Price.Mul(decimal.NewFromInt(int64(it.quantity))),
		}
		o.Lines = append(o.Lines, line)
		o.Total = o.Total.Add(line.Subtotal)
	}

	if code != nil {
		o.PromoCode = code.Code
		o.Discount = promo.Apply(code, o.Total)
	}
	o.AmountDue = o.Total.Sub(o.Discount)

	if o.Payment, err = req.Payment.Settle(o.AmountDue); err != nil {
		return nil, err
	}
	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func failureReason(err error) string {
	var failed *TransactionFailedError
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, cart.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, product.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, product.ErrNotFound):
		return "not_found"
	case errors.As(err, &failed):
		return "transaction_failed"
	case errors.Is(err, ErrInsufficientPayment), errors.Is(err, ErrInvalidPaymentMethod):
		return "payment"
	case errors.Is(err, promo.ErrInvalidCode), errors.Is(err, promo.ErrExpired):
		return "promo"
	case errors.Is(err, ErrKeyInUse):
		return "idempotency_key"
	default:
		return "error"
	}
}
