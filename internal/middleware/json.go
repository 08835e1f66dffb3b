package middleware

import (
	"encoding/json"
	"net/http"

	"student-registry/internal/model"
	"student-registry/pkg/apierror"
)

// writeEnvelope answers with the same failure envelope the handlers use,
// so a request stopped in middleware looks no different to the client.
func writeEnvelope(w http.ResponseWriter, apiErr *apierror.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}
