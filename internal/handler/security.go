package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

var errMissingCredentials = errors.New("missing credentials")

type (
	ownerHandlerFunc func(w http.ResponseWriter, r *http.Request, owner cart.Owner)
	userHandlerFunc  func(w http.ResponseWriter, r *http.Request, userID uuid.UUID)
)

// API key scopes. A key without scopes may call every route.
const (
	scopeCart   = "cart"
	scopeOrders = "orders"
)

// withUser requires a valid X-API-Key granted scopeOrders and passes its
// user to next.
func (h *Handler) withUser(next userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(httpmiddleware.APIKeyHeader)
		if key == "" {
			h.fail(w, r, errMissingCredentials)
			return
		}
		userID, ok := h.authenticate(w, r, key, scopeOrders)
		if !ok {
			return
		}
		next(w, r.WithContext(zctx.With(r.Context(), zap.Stringer("user_id", userID))), userID)
	}
}

// withOwner resolves the cart owner: the API key user when a key is sent,
// the guest X-Session-ID otherwise.
func (h *Handler) withOwner(next ownerHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(httpmiddleware.APIKeyHeader); key != "" {
			userID, ok := h.authenticate(w, r, key, scopeCart)
			if !ok {
				return
			}
			next(w, r.WithContext(zctx.With(r.Context(), zap.Stringer("user_id", userID))), cart.UserOwner(userID))
			return
		}
		session := strings.TrimSpace(r.Header.Get(httpmiddleware.SessionHeader))
		if session == "" {
			h.fail(w, r, errMissingCredentials)
			return
		}
		next(w, r, cart.SessionOwner(session))
	}
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, key, scope string) (uuid.UUID, bool) {
	info, err := h.auth.Authenticate(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return uuid.Nil, false
	}
	if len(info.Scopes) > 0 && !info.HasScope(scope) {
		h.fail(w, r, errors.Wrapf(fault.ErrUnauthorized, "api key %s lacks scope %q", info.ID, scope))
		return uuid.Nil, false
	}
	return info.UserID, true
}
