// Package report aggregates order history for the back office.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
)

// Range selects the bucket size and window of a sales summary.
type Range string

const (
	// Daily covers the last 7 days including today.
	Daily Range = "daily"
	// Weekly covers the last 12 weeks, starting on Sunday, including the
	// current one.
	Weekly Range = "weekly"
	// Monthly covers the last 12 calendar months including the current one.
	Monthly Range = "monthly"
)

// ParseRange maps unknown values to Daily.
func ParseRange(s string) Range {
	switch Range(s) {
	case Weekly, Monthly:
		return Range(s)
	default:
		return Daily
	}
}

// Bucket is the sales total of one period.
type Bucket struct {
	Label  string
	Start  time.Time
	Orders int
	Units  int
	Sales  decimal.Decimal
}

// Dashboard is the headline summary shown to administrators.
type Dashboard struct {
	Products       int
	LowStock       int
	Orders         int
	Sales          decimal.Decimal
	PaymentMethods map[order.PaymentMethod]int
	RecentOrders   []order.Order
}

// Service builds reports from the catalog and order history.
type Service struct {
	products product.Repository
	orders   order.History
	loc      *time.Location
	now      func() time.Time
}

// NewService creates a report Service. Buckets are cut at midnight in loc.
func NewService(products product.Repository, orders order.History, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{products: products, orders: orders, loc: loc, now: time.Now}
}

const recentOrders = 5

// Dashboard returns catalog and sales counters over all history.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	products, err := s.products.List(ctx, product.Filter{})
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	orders, err := s.orders.List(ctx, order.Filter{})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	d := &Dashboard{
		Products:       len(products),
		Orders:         len(orders),
		Sales:          decimal.Zero,
		PaymentMethods: make(map[order.PaymentMethod]int, len(order.PaymentMethods)),
	}
	for _, p := range products {
		if p.LowStock {
			d.LowStock++
		}
	}
	for _, m := range order.PaymentMethods {
		d.PaymentMethods[m] = 0
	}
	for _, o := range orders {
		d.Sales = d.Sales.Add(o.AmountDue)
		d.PaymentMethods[o.Payment.Method]++
	}
	d.RecentOrders = orders[:min(recentOrders, len(orders))]
	return d, nil
}

// Sales returns one bucket per period of r, oldest first. Periods without
// orders are included with zero totals.
func (s *Service) Sales(ctx context.Context, r Range) ([]Bucket, error) {
	buckets := s.buckets(r)
	orders, err := s.orders.List(ctx, order.Filter{From: buckets[0].Start})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	index := make(map[int64]int, len(buckets))
	for i, b := range buckets {
		index[b.Start.Unix()] = i
	}
	for _, o := range orders {
		i, ok := index[s.periodStart(r, o.CreatedAt).Unix()]
		if !ok {
			continue
		}
		buckets[i].Orders++
		buckets[i].Units += o.Units()
		buckets[i].Sales = buckets[i].Sales.Add(o.AmountDue)
	}
	return buckets, nil
}

func (s *Service) buckets(r Range) []Bucket {
	current := s.periodStart(r, s.now())

	var (
		n     int
		start func(i int) time.Time
	)
	switch r {
	case Weekly:
		n = 12
		start = func(i int) time.Time { return current.AddDate(0, 0, -7*i) }
	case Monthly:
		n = 12
		start = func(i int) time.Time { return current.AddDate(0, -i, 0) }
	default:
		n = 7
		start = func(i int) time.Time { return current.AddDate(0, 0, -i) }
	}

	out := make([]Bucket, n)
	for i := range n {
		t := start(n - 1 - i)
		out[i] = Bucket{Label: label(r, t), Start: t, Sales: decimal.Zero}
	}
	return out
}

// periodStart returns local midnight of the first day of the period holding t.
func (s *Service) periodStart(r Range, t time.Time) time.Time {
	t = t.In(s.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
	switch r {
	case Weekly:
		return day.AddDate(0, 0, -int(day.Weekday()))
	case Monthly:
		return day.AddDate(0, 0, 1-day.Day())
	default:
		return day
	}
}

func label(r Range, t time.Time) string {
	switch r {
	case Weekly:
		return fmt.Sprintf("%d-W%02d", t.Year(), sundayWeek(t))
	case Monthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// sundayWeek numbers weeks from the first Sunday of the year, which is week
// 1. Days before it fall in week 0.
func sundayWeek(t time.Time) int {
	return (t.YearDay() + 6 - int(t.Weekday())) / 7
}
