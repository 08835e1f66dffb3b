package handler

import (
	"errors"
	"net/http"
	"strings"

	"student-registry/internal/model"
	"student-registry/internal/service"
	"student-registry/pkg/apierror"
)

type AuthHandler struct {
	sessions *service.SessionManager
	students *service.StudentService
	cookie   CookieConfig
}

func NewAuthHandler(sessions *service.SessionManager, students *service.StudentService, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "jid"
	}
	if cookie.Path == "" {
		cookie.Path = "/refresh_token"
	}
	return &AuthHandler{sessions: sessions, students: students, cookie: cookie}
}

func (h *AuthHandler) deliverer(w http.ResponseWriter) refreshCookie {
	return refreshCookie{w: w, cfg: h.cookie}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	if strings.TrimSpace(payload.Email) == "" || payload.Password == "" {
		writeError(w, apierror.BadRequest("email and password are required", ""))
		return
	}

	tokens, err := h.sessions.Login(auditContext(r), payload.Email, payload.Password, h.deliverer(w))
	if errors.Is(err, model.ErrStudentNotFound) {
		err = model.ErrInvalidCredentials
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

// Refresh reads the refresh cookie and answers {ok, accessToken}; a
// rejected cookie gets ok=false and an empty token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cookie.Name)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		writeJSON(w, http.StatusUnauthorized, model.RefreshResponse{OK: false})
		return
	}

	tokens, err := h.sessions.RefreshSession(auditContext(r), cookie.Value, h.deliverer(w))
	if errors.Is(err, model.ErrUnauthenticated) {
		writeJSON(w, http.StatusUnauthorized, model.RefreshResponse{OK: false})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.RefreshResponse{OK: true, AccessToken: tokens.AccessToken})
}

// Logout only drops the cookie in this browser; other sessions live on
// until RevokeSessions.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.deliverer(w).clear()
	writeSuccess(w, http.StatusOK, map[string]any{"loggedOut": true}, nil)
}

func (h *AuthHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	controlNumber, ok := currentStudent(r)
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	var payload model.RevokeSessionsRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	err := h.sessions.RevokeAllSessions(auditContext(r), controlNumber, payload.Password)
	if errors.Is(err, model.ErrStudentNotFound) {
		err = model.ErrUnauthenticated
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.deliverer(w).clear()
	writeSuccess(w, http.StatusOK, map[string]any{"revoked": true}, nil)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	student, err := h.students.Register(auditContext(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, student, nil)
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var payload model.PasswordResetRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	if err := h.students.RequestPasswordReset(auditContext(r), payload.Email, payload.CURP); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]any{"sent": true}, nil)
}

func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var payload model.TokenRequest
	if err := decodeJSON(r, &payload); err != nil || strings.TrimSpace(payload.Token) == "" {
		writeTokenFlowError(w, model.ErrInvalidToken)
		return
	}

	if err := h.students.Activate(auditContext(r), payload.Token, payload.Email); err != nil {
		writeTokenFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.TokenFlowResponse{OK: true})
}

func (h *AuthHandler) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	var payload model.TokenRequest
	if err := decodeJSON(r, &payload); err != nil || strings.TrimSpace(payload.Token) == "" {
		writeTokenFlowError(w, model.ErrInvalidToken)
		return
	}

	if err := h.students.CheckResetToken(auditContext(r), payload.Token, payload.Email); err != nil {
		writeTokenFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.TokenFlowResponse{OK: true})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ResetPasswordRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeTokenFlowError(w, model.ErrInvalidToken)
		return
	}
	if strings.TrimSpace(payload.NewPassword) == "" || strings.TrimSpace(payload.Email) == "" {
		writeJSON(w, http.StatusBadRequest, model.TokenFlowResponse{OK: false, Message: "email and new password are required"})
		return
	}

	if err := h.students.ResetPassword(auditContext(r), payload.Token, payload.Email, payload.NewPassword); err != nil {
		writeTokenFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.TokenFlowResponse{OK: true, Message: "password updated"})
}

// writeTokenFlowError keeps the flat shape for token rejections and falls
// back to the envelope for infrastructure failures.
func writeTokenFlowError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrInvalidToken) {
		writeJSON(w, http.StatusBadRequest, model.TokenFlowResponse{OK: false, Message: model.ErrInvalidToken.Error()})
		return
	}
	writeError(w, err)
}
