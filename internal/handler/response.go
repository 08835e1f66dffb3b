package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"student-registry/internal/model"
	"student-registry/pkg/apierror"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	writeJSON(w, status, model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// writeError maps service errors onto the envelope. Anything that says why
// an authentication failed is collapsed before it gets here.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	case errors.Is(err, model.ErrInvalidCredentials):
		status = http.StatusUnauthorized
		body.Code = "INVALID_CREDENTIALS"
		body.Message = "wrong credentials"
	case errors.Is(err, model.ErrUnauthenticated):
		status = http.StatusUnauthorized
		body.Code = "UNAUTHENTICATED"
		body.Message = "not authenticated"
	case errors.Is(err, model.ErrInvalidToken):
		status = http.StatusBadRequest
		body.Code = "INVALID_TOKEN"
		body.Message = model.ErrInvalidToken.Error()
	case errors.Is(err, model.ErrStudentNotFound):
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Student not found"
	case errors.Is(err, model.ErrStudentAlreadyExists):
		status = http.StatusConflict
		body.Code = "ALREADY_EXISTS"
		body.Message = "Student already exists"
	case errors.Is(err, model.ErrControlNumbersExhausted):
		status = http.StatusServiceUnavailable
		body.Code = "REGISTRATION_CLOSED"
		body.Message = "No control numbers left"
		slog.Error("control number sequence exhausted", "error", err)
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
	case errors.Is(err, model.ErrMailDeliveryFailure):
		status = http.StatusBadGateway
		body.Code = "MAIL_NOT_SENT"
		body.Message = "Mail not sent"
		slog.Error("mail delivery failed", "error", err)
	case errors.Is(err, model.ErrStorageFailure):
		status = http.StatusServiceUnavailable
		body.Code = "STORAGE_UNAVAILABLE"
		body.Message = "Storage unavailable"
		slog.Error("storage failure", "error", err)
	default:
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	writeJSON(w, status, model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(dst); err != nil {
		return apierror.BadRequest("invalid JSON body", "")
	}
	return nil
}

func parseIntOrDefault(raw string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}
