package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/mall-pos/internal/domain/report"
)

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Reports.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "dashboard"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDashboard(e, d) })
}

func (h *Handler) sales(w http.ResponseWriter, r *http.Request) {
	rng := report.ParseRange(r.URL.Query().Get("range"))
	buckets, err := h.Reports.Sales(r.Context(), rng)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "sales"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSales(e, rng, buckets) })
}
