package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/mall-pos/internal/domain/promo"
)

func (h *Handler) listPromos(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Promos.List(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list promos"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, c := range codes {
				encodePromo(e, c)
			}
		})
	})
}

func (h *Handler) createPromo(w http.ResponseWriter, r *http.Request) {
	c := promo.Code{Active: true}
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "discount_type":
			var s string
			s, err = d.Str()
			c.DiscountType = promo.DiscountType(s)
		case "value":
			c.Value, err = decodeMoney(d)
		case "active":
			c.Active, err = d.Bool()
		case "expires_at":
			c.ExpiresAt, err = decodeTime(d)
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
	if err := c.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Promos.Create(r.Context(), &c); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePromo(e, c) })
}

func (h *Handler) setPromoActive(w http.ResponseWriter, r *http.Request) {
	code := promo.Normalize(chi.URLParam(r, "code"))
	var active bool
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "active" {
			return d.Skip()
		}
		var err error
		active, err = d.Bool()
		return err
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Promos.SetActive(r.Context(), code, active); err != nil {
		if errors.Is(err, promo.ErrInvalidCode) {
			err = errors.Wrapf(errNotFound, "promo code %q", code)
		}
		h.fail(w, r, err)
		return
	}
	c, err := h.Promos.FindByCode(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromo(e, *c) })
}
