package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
)

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	c, err := h.carts.GetCart(r.Context(), owner)
	h.writeCart(w, r, c, err)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	req, err := decodeAddItem(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.carts.AddItem(r.Context(), owner, req.ProductID, req.Quantity)
	h.writeCart(w, r, c, err)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	itemID, err := pathUUID(r, "itemId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	qty, err := decodeQuantity(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.carts.UpdateItemQuantity(r.Context(), owner, itemID, qty)
	h.writeCart(w, r, c, err)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	itemID, err := pathUUID(r, "itemId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.carts.RemoveItem(r.Context(), owner, itemID)
	h.writeCart(w, r, c, err)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	c, err := h.carts.Clear(r.Context(), owner)
	h.writeCart(w, r, c, err)
}
