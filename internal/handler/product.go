package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/mall-pos/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := product.Filter{Query: q.Get("q")}
	if v := q.Get("low_stock"); v != "" {
		low, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, r, badRequest("invalid low_stock %q", v))
			return
		}
		f.LowStockOnly = low
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, r, badRequest("invalid limit %q", v))
			return
		}
		f.Limit = n
	}

	products, err := h.Products.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProducts(e, products) })
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Products.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

// decodeProduct reads the editable product fields into p. Fields absent from
// the body keep their current value.
func decodeProduct(r *http.Request, p *product.Product) error {
	return decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "barcode":
			p.Barcode, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeMoney(d)
		case "quantity":
			p.Quantity, err = d.Int()
		case "low_stock":
			p.LowStock, err = d.Bool()
		case "image_url":
			p.ImageURL, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var p product.Product
	if err := decodeProduct(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := p.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Products.Create(r.Context(), &p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeProduct(e, p) })
}

// updateProduct edits catalog fields. Stock is changed through restock and
// checkout only, so a quantity in the body is ignored.
func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Products.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stock := p.Quantity
	if err := decodeProduct(r, p); err != nil {
		h.fail(w, r, err)
		return
	}
	p.ID, p.Quantity = id, stock
	if err := p.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Products.Update(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Products.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restockProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
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
	if quantity <= 0 {
		h.fail(w, r, &product.ValidationError{Field: "quantity", Reason: "must be positive"})
		return
	}

	p, err := h.Products.AdjustStock(r.Context(), id, quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

func (h *Handler) setLowStock(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var low bool
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "low_stock" {
			return d.Skip()
		}
		var err error
		low, err = d.Bool()
		return err
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Products.SetLowStock(r.Context(), id, low); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Products.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}
