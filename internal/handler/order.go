package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, status int, o *order.Order, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) { h.encodeOrder(e, o) })
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	req, err := decodePlaceOrder(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), userID, req)
	if err == nil {
		w.Header().Set("Location", "/api/orders/"+o.ID.String())
	}
	h.writeOrder(w, r, http.StatusCreated, o, err)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var (
		page order.Page
		err  error
	)
	if page.Number, err = queryInt(r, "page"); err != nil {
		h.fail(w, r, err)
		return
	}
	if page.Size, err = queryInt(r, "pageSize"); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.orders.List(r.Context(), userID, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrderPage(e, res) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id, userID)
	h.writeOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) getOrderByNumber(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	o, err := h.orders.GetByNumber(r.Context(), r.PathValue("number"), userID)
	h.writeOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reason, err := decodeStringField(w, r, "reason")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.orders.Cancel(r.Context(), id, userID, reason)
	h.writeOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := decodeStringField(w, r, "status")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), id, userID, status)
	h.writeOrder(w, r, http.StatusOK, o, err)
}
