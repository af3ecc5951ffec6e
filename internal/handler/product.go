package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	f, err := productFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.products.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProductPage(e, res) })
}

func productFilter(r *http.Request) (f product.ListFilter, err error) {
	if f.Page, err = queryInt(r, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(r, "pageSize"); err != nil {
		return f, err
	}
	if f.MinPrice, err = queryDecimal(r, "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = queryDecimal(r, "maxPrice"); err != nil {
		return f, err
	}
	if f.InStock, err = queryBool(r, "inStock"); err != nil {
		return f, err
	}

	q := r.URL.Query()
	f.SortBy = q.Get("sortBy")
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		f.Descending = true
	default:
		return f, fault.Validationf("order must be asc or desc, got %q", q.Get("order"))
	}
	return f, nil
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "get product"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}
