package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/order"
)

// IdempotencyKeyHeader lets a till retry a checkout without charging twice.
const IdempotencyKeyHeader = "Idempotency-Key"

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var (
		method string
		req    order.CheckoutRequest
	)
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "payment_method":
			method, err = d.Str()
		case "tendered":
			req.Payment.Tendered, err = decodeMoney(d)
		case "promo_code":
			req.PromoCode, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	if t := req.Payment.Tendered; !t.Equal(t.Truncate(2)) {
		h.fail(w, r, badRequest("tendered must be in whole cents"))
		return
	}
	m, err := order.ParsePaymentMethod(method)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req.Payment.Method = m

	id, _ := auth.FromContext(r.Context())
	req.Cashier = id.Name
	req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	if req.IdempotencyKey != "" {
		// A retried submission finds its cart already cleared.
		o, err := h.Orders.FindByIdempotencyKey(r.Context(), req.IdempotencyKey)
		switch {
		case err == nil:
			if o, err = o.ReplayFor(req.Cashier); err != nil {
				h.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
			return
		case !errors.Is(err, order.ErrNotFound):
			h.fail(w, r, errors.Wrap(err, "lookup idempotency key"))
			return
		}
	}

	s := session(r)
	if req.Cart, err = h.loadCart(r.Context(), s); err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.Checkout.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Carts.Delete(r.Context(), s); err != nil {
		// The order is committed; a stale cart is only an inconvenience.
		zctx.From(r.Context()).Warn("Clear cart after checkout", zap.Error(err), zap.String("order", o.ID))
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}
