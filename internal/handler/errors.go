package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// statusOf maps an error to the HTTP status of its response.
func statusOf(err error) int {
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindUnauthorized:
		return http.StatusForbidden
	case fault.KindInvalidTransition, fault.KindInsufficientStock:
		return http.StatusConflict
	case fault.KindProductUnavailable, fault.KindEmptyCart:
		return http.StatusUnprocessableEntity
	case fault.KindValidation, fault.KindInvalidStatus:
		return http.StatusBadRequest
	}
	if errors.Is(err, errMissingCredentials) || errors.Is(err, auth.ErrInvalidKey) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// fail writes the error response. Unexpected errors are logged and their
// details are not exposed.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, status, "internal server error")
		return
	}

	msg := err.Error()
	if errors.Is(err, auth.ErrInvalidKey) {
		msg = "invalid api key"
	}
	httpmiddleware.WriteError(w, status, msg)
}
