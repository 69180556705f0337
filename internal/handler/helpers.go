package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeTokenRequest(r *http.Request) (*domain.TokenRequest, error) {
	var req domain.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "invalid JSON"}
	}
	return &req, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var credential *domain.CredentialError

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &credential):
		status := http.StatusBadGateway
		if credential.Code == domain.CodeInvalidAuth {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, domain.TokenResponse{Valid: false, Error: credential.Code})
	case errors.Is(err, domain.ErrRefreshInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoSnapshot):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
