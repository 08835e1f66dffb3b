package model

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// TokenFlowResponse is the flat {ok, message} shape of the activation and
// reset endpoints the mailed links lead to.
type TokenFlowResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// RefreshResponse always carries accessToken, empty on failure.
type RefreshResponse struct {
	OK          bool   `json:"ok"`
	AccessToken string `json:"accessToken"`
}
