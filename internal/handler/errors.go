package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// statusOf maps domain errors to HTTP status codes. Anything unknown is a 500
// and its message is not exposed.
func statusOf(err error) int {
	var (
		validation *product.ValidationError
		failed     *order.TransactionFailedError
	)
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidPaymentMethod),
		errors.Is(err, promo.ErrInvalidRule),
		errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, product.ErrInsufficientStock),
		errors.Is(err, product.ErrDuplicateBarcode),
		errors.Is(err, promo.ErrDuplicateCode),
		errors.Is(err, order.ErrKeyInUse):
		return http.StatusConflict
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, promo.ErrInvalidCode),
		errors.Is(err, promo.ErrExpired),
		errors.Is(err, order.ErrInsufficientPayment):
		return http.StatusUnprocessableEntity
	case errors.As(err, &failed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			var stock *product.InsufficientStockError
			if errors.As(err, &stock) {
				e.Field("shortages", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, s := range stock.Shortages {
							e.Obj(func(e *jx.Encoder) {
								e.Field("product_id", func(e *jx.Encoder) { e.Int64(s.ProductID) })
								e.Field("name", func(e *jx.Encoder) { e.Str(s.Name) })
								e.Field("requested", func(e *jx.Encoder) { e.Int(s.Requested) })
								e.Field("available", func(e *jx.Encoder) { e.Int(s.Available) })
							})
						}
					})
				})
			}
		})
	})
}

func errorBody(status int, msg string) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	}
}
