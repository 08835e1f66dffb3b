package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"student-registry/internal/model"
)

type AuthEventStore interface {
	Log(ctx context.Context, event model.AuthEvent) error
	Query(ctx context.Context, query model.AuthEventQuery) ([]model.AuthEvent, model.Meta, error)
}

type clientIPKey struct{}

// WithClientIP attaches the caller address that audit entries are stamped
// with.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// AuditService writes the auth audit trail. Recording never fails the
// operation being audited; store errors are only logged.
type AuditService struct {
	store AuthEventStore
	now   func() time.Time
}

func NewAuditService(store AuthEventStore) *AuditService {
	return &AuditService{store: store, now: time.Now}
}

// Record stores one outcome. A non-empty reason marks the event as a
// failure and is also logged, since callers never see it.
func (s *AuditService) Record(ctx context.Context, action string, controlNumber string, email string, reason string) {
	status := model.AuthStatusSuccess
	if reason != "" {
		status = model.AuthStatusFailure
		slog.InfoContext(ctx, "auth failure",
			"action", action,
			"control_number", controlNumber,
			"reason", reason,
		)
	}

	if s == nil || s.store == nil {
		return
	}

	event := model.AuthEvent{
		Action:        action,
		OccurredAt:    s.now().UTC(),
		ControlNumber: controlNumber,
		Email:         strings.ToLower(strings.TrimSpace(email)),
		IP:            clientIPFromContext(ctx),
		Status:        status,
		Reason:        reason,
	}

	if err := s.store.Log(context.WithoutCancel(ctx), event); err != nil {
		slog.WarnContext(ctx, "audit write failed", "action", action, "error", err)
	}
}

// Events pages through the audit entries of one student.
func (s *AuditService) Events(ctx context.Context, controlNumber string, action string, page int, limit int) ([]model.AuthEvent, model.Meta, error) {
	return s.store.Query(ctx, model.AuthEventQuery{
		ControlNumber: controlNumber,
		Action:        strings.TrimSpace(action),
		Page:          page,
		Limit:         limit,
	})
}
