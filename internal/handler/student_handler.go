package handler

import (
	"context"
	"net/http"

	"student-registry/internal/model"
	"student-registry/internal/service"
)

type StudentHandler struct {
	students *service.StudentService
	audit    *service.AuditService
}

func NewStudentHandler(students *service.StudentService, audit *service.AuditService) *StudentHandler {
	return &StudentHandler{students: students, audit: audit}
}

func (h *StudentHandler) Me(w http.ResponseWriter, r *http.Request) {
	controlNumber, ok := currentStudent(r)
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	student, err := h.students.Get(r.Context(), controlNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, student, nil)
}

func (h *StudentHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.StudentList{Students: students}, nil)
}

// Events lists the caller's own auth events, newest first.
func (h *StudentHandler) Events(w http.ResponseWriter, r *http.Request) {
	controlNumber, ok := currentStudent(r)
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	query := r.URL.Query()
	items, meta, err := h.audit.Events(r.Context(), controlNumber,
		query.Get("action"),
		parseIntOrDefault(query.Get("page"), 1),
		parseIntOrDefault(query.Get("limit"), 50),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.AuthEventList{Items: items}, &meta)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store pinger
}

func NewHealthHandler(store pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "api root"})
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
