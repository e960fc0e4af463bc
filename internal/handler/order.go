package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/mall-pos/internal/domain/order"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.Filter{Cashier: q.Get("cashier")}
	if v := q.Get("payment_method"); v != "" {
		m, err := order.ParsePaymentMethod(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f.PaymentMethod = m
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.fail(w, r, badRequest("invalid %s %q", name, v))
			return
		}
		*dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, r, badRequest("invalid limit %q", v))
			return
		}
		f.Limit = n
	}

	orders, err := h.Orders.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list orders"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
