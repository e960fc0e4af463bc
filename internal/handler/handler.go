// Package handler exposes the POS over HTTP. Handlers only translate between
// JSON and the domain packages.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
	"github.com/xenking/mall-pos/internal/domain/report"
)

// Checkouter converts carts into orders; *order.Service implements it.
type Checkouter interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
}

// Reporter builds the back-office reports; *report.Service implements it.
type Reporter interface {
	Dashboard(ctx context.Context) (*report.Dashboard, error)
	Sales(ctx context.Context, r report.Range) ([]report.Bucket, error)
}

// Deps are the collaborators of Handler.
type Deps struct {
	Products product.Repository
	Orders   order.History
	Checkout Checkouter
	Carts    cart.Store
	Promos   promo.Repository
	Reports  Reporter
	APIKeys  auth.Repository
	// Pepper is the HMAC key API keys are hashed with.
	Pepper []byte
}

// Handler serves the /api routes.
type Handler struct {
	Deps
}

func New(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// Routes returns the API router. Every route requires an API key; catalog
// writes, history and reports additionally require the admin role.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.fail(w, r, errors.Wrapf(errNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody(http.StatusMethodNotAllowed, "method not allowed"))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		// Till operations.
		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RoleCashier, auth.RoleAdmin))

			r.Get("/products", h.listProducts)
			r.Get("/products/{id}", h.getProduct)
			r.Put("/products/{id}/low-stock", h.setLowStock)

			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/lines", h.addCartLine)
			r.Put("/cart/lines/{productID}", h.setCartLine)
			r.Delete("/cart/lines/{productID}", h.removeCartLine)

			r.Post("/checkout", h.checkout)
			r.Get("/orders/{id}", h.getOrder)
		})

		// Back office.
		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RoleAdmin))

			r.Post("/products", h.createProduct)
			r.Put("/products/{id}", h.updateProduct)
			r.Delete("/products/{id}", h.deleteProduct)
			r.Post("/products/{id}/restock", h.restockProduct)

			r.Get("/orders", h.listOrders)

			r.Get("/reports/dashboard", h.dashboard)
			r.Get("/reports/sales", h.sales)

			r.Get("/promos", h.listPromos)
			r.Post("/promos", h.createPromo)
			r.Put("/promos/{code}/active", h.setPromoActive)
		})
	})
	return r
}

var errNotFound = errors.New("not found")

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, chi.URLParam(r, name))
	}
	return id, nil
}
