package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/cart"
)

// RegisterHeader names the till a request comes from. One cashier may run
// several registers, each with its own cart.
const RegisterHeader = "X-Register"

func session(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.ID + ":" + r.Header.Get(RegisterHeader)
}

func (h *Handler) loadCart(ctx context.Context, session string) (*cart.Cart, error) {
	lines, err := h.Carts.Load(ctx, session)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return cart.New(h.Products, lines...), nil
}

// mutateCart loads the session cart, applies fn and saves the result.
func (h *Handler) mutateCart(w http.ResponseWriter, r *http.Request, status int, fn func(c *cart.Cart) error) {
	s := session(r)
	c, err := h.loadCart(r.Context(), s)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := fn(c); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Carts.Save(r.Context(), s, c.Lines()); err != nil {
		h.fail(w, r, errors.Wrap(err, "save cart"))
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCart(e, c) })
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.loadCart(r.Context(), session(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Delete(r.Context(), session(r)); err != nil {
		h.fail(w, r, errors.Wrap(err, "delete cart"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addCartLine(w http.ResponseWriter, r *http.Request) {
	var (
		barcode  string
		quantity = 1
	)
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "barcode":
			barcode, err = d.Str()
		case "quantity":
			quantity, err = d.Int()
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
	if barcode == "" {
		h.fail(w, r, badRequest("barcode is required"))
		return
	}

	h.mutateCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		_, err := c.AddLine(r.Context(), barcode, quantity)
		return err
	})
}

func productIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "productID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid product id %q", raw)
	}
	return id, nil
}

func (h *Handler) setCartLine(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var quantity int
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		quantity, err = d.Int()
		return err
	}); err != nil {
		h.fail(w, r, err)
		return
	}

	h.mutateCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		return c.SetLineQuantity(id, quantity)
	})
}

func (h *Handler) removeCartLine(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.mutateCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		c.RemoveLine(id)
		return nil
	})
}
