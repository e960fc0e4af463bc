package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
	"github.com/xenking/mall-pos/internal/domain/report"
)

const maxBodySize = 1 << 20

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

// decodeBody walks the top-level fields of a JSON object body.
func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if err := jx.DecodeBytes(raw).Obj(field); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

// decodeMoney accepts "9.99" as well as 9.99 so amounts never pass through
// a float.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = n.String()
	default:
		return decimal.Decimal{}, errors.New("amount must be a number or a string")
	}
	return decimal.NewFromString(s)
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// money writes an amount as a JSON number with exactly two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.Format(time.RFC3339Nano))
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("barcode", func(e *jx.Encoder) { e.Str(p.Barcode) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(p.Quantity) })
		e.Field("low_stock", func(e *jx.Encoder) { e.Bool(p.LowStock) })
		if p.ImageURL != "" {
			e.Field("image_url", func(e *jx.Encoder) { e.Str(p.ImageURL) })
		}
	})
}

func encodeProducts(e *jx.Encoder, products []product.Product) {
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			encodeProduct(e, p)
		}
	})
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range c.Lines() {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.Product.ID) })
						e.Field("barcode", func(e *jx.Encoder) { e.Str(l.Product.Barcode) })
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Product.Name) })
						e.Field("unit_price", func(e *jx.Encoder) { money(e, l.Product.Price) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("subtotal", func(e *jx.Encoder) { money(e, l.Subtotal()) })
					})
				}
			})
		})
		e.Field("units", func(e *jx.Encoder) { e.Int(c.Units()) })
		e.Field("total", func(e *jx.Encoder) { money(e, c.Total()) })
	})
}

// encodeOrder writes the receipt of an order.
func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("created_at", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
		e.Field("cashier", func(e *jx.Encoder) { e.Str(o.Cashier) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.ProductID) })
						e.Field("barcode", func(e *jx.Encoder) { e.Str(l.Barcode) })
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("unit_price", func(e *jx.Encoder) { money(e, l.UnitPrice) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("subtotal", func(e *jx.Encoder) { money(e, l.Subtotal) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		if o.PromoCode != "" {
			e.Field("promo_code", func(e *jx.Encoder) { e.Str(o.PromoCode) })
		}
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("amount_due", func(e *jx.Encoder) { money(e, o.AmountDue) })
		e.Field("payment", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("method", func(e *jx.Encoder) { e.Str(string(o.Payment.Method)) })
				e.Field("tendered", func(e *jx.Encoder) { money(e, o.Payment.Tendered) })
				e.Field("change", func(e *jx.Encoder) { money(e, o.Payment.Change) })
			})
		})
	})
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.Arr(func(e *jx.Encoder) {
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
	})
}

func encodePromo(e *jx.Encoder, c promo.Code) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(c.DiscountType)) })
		e.Field("value", func(e *jx.Encoder) { money(e, c.Value) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
		e.Field("expires_at", func(e *jx.Encoder) {
			if c.ExpiresAt == nil {
				e.Null()
				return
			}
			timestamp(e, *c.ExpiresAt)
		})
	})
}

func encodeDashboard(e *jx.Encoder, d *report.Dashboard) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("products", func(e *jx.Encoder) { e.Int(d.Products) })
		e.Field("low_stock", func(e *jx.Encoder) { e.Int(d.LowStock) })
		e.Field("orders", func(e *jx.Encoder) { e.Int(d.Orders) })
		e.Field("sales", func(e *jx.Encoder) { money(e, d.Sales) })
		e.Field("payment_methods", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, m := range order.PaymentMethods {
					e.Field(string(m), func(e *jx.Encoder) { e.Int(d.PaymentMethods[m]) })
				}
			})
		})
		e.Field("recent_orders", func(e *jx.Encoder) { encodeOrders(e, d.RecentOrders) })
	})
}

func encodeSales(e *jx.Encoder, r report.Range, buckets []report.Bucket) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("range", func(e *jx.Encoder) { e.Str(string(r)) })
		e.Field("buckets", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, b := range buckets {
					e.Obj(func(e *jx.Encoder) {
						e.Field("label", func(e *jx.Encoder) { e.Str(b.Label) })
						e.Field("start", func(e *jx.Encoder) { timestamp(e, b.Start) })
						e.Field("orders", func(e *jx.Encoder) { e.Int(b.Orders) })
						e.Field("units", func(e *jx.Encoder) { e.Int(b.Units) })
						e.Field("sales", func(e *jx.Encoder) { money(e, b.Sales) })
					})
				}
			})
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
