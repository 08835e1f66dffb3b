package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"student-registry/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Log(ctx context.Context, event model.AuthEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO auth_events (id, action, occurred_at, control_number, email, ip, status, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.Action, event.OccurredAt, event.ControlNumber, event.Email, event.IP, event.Status, event.Reason)
	if err != nil {
		return fmt.Errorf("log auth event: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuthEventQuery) ([]model.AuthEvent, model.Meta, error) {
	query = normalizeEventQuery(query)

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	argIdx := 1

	if controlNumber := strings.TrimSpace(query.ControlNumber); controlNumber != "" {
		where = append(where, fmt.Sprintf("control_number = $%d", argIdx))
		args = append(args, controlNumber)
		argIdx++
	}
	if action := strings.TrimSpace(query.Action); action != "" {
		where = append(where, fmt.Sprintf("lower(action) = lower($%d)", argIdx))
		args = append(args, action)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM auth_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count auth events: %w", err)
	}
	meta := pageMeta(query, total)

	dataQuery := fmt.Sprintf(
		`SELECT id, action, occurred_at, control_number, email, ip, status, reason
		 FROM auth_events %s
		 ORDER BY occurred_at DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, query.Limit, (query.Page-1)*query.Limit)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query auth events: %w", err)
	}
	defer rows.Close()

	events := make([]model.AuthEvent, 0)
	for rows.Next() {
		var e model.AuthEvent
		if err := rows.Scan(&e.ID, &e.Action, &e.OccurredAt, &e.ControlNumber, &e.Email, &e.IP, &e.Status, &e.Reason); err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan auth event: %w", err)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		events = append(events, e)
	}

	return events, meta, rows.Err()
}

func normalizeEventQuery(query model.AuthEventQuery) model.AuthEventQuery {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	return query
}

func pageMeta(query model.AuthEventQuery, total int) model.Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + query.Limit - 1) / query.Limit
	}
	return model.Meta{Page: query.Page, Limit: query.Limit, Total: total, TotalPages: totalPages}
}
