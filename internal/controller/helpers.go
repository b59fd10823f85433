package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/billingkit/entitlements/internal/domain/errors"

	"github.com/rs/zerolog/log"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrEntitlementNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrUnknownEntitlement, http.StatusNotFound, "unknown_entitlement"},
	{domainErrors.ErrUnknownProduct, http.StatusNotFound, "unknown_product"},
	{domainErrors.ErrPurchaseNotCached, http.StatusNotFound, "not_found"},
	{domainErrors.ErrInvalidSignature, http.StatusUnprocessableEntity, "invalid_signature"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrDuplicatePurchase, http.StatusConflict, "duplicate_purchase"},
	{domainErrors.ErrBillingNotReady, http.StatusServiceUnavailable, "billing_not_ready"},
	{domainErrors.ErrBillingUnavailable, http.StatusServiceUnavailable, "billing_unavailable"},
	{domainErrors.ErrServerUnavailable, http.StatusServiceUnavailable, "server_unavailable"},
	{domainErrors.ErrServerTimeout, http.StatusGatewayTimeout, "server_timeout"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}
