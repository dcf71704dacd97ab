package repo

import (
	"context"
	"database/sql"
	"strings"

	"plcgate/internal/domain"
)

type AuditFilters struct {
	ObjectType string
	ObjectID   string
	ActionType string
	ActorID    *int64
	AfterID    int64
	Limit      int
	Ascending  bool
}

// ListAuditEvents returns audit rows, newest first unless Ascending is set.
func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	var clauses []string
	var args []any
	if f.ObjectType != "" {
		clauses = append(clauses, "object_type=?")
		args = append(args, f.ObjectType)
	}
	if f.ObjectID != "" {
		clauses = append(clauses, "object_id=?")
		args = append(args, f.ObjectID)
	}
	if f.ActionType != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, f.ActionType)
	}
	if f.ActorID != nil {
		clauses = append(clauses, "actor_user_id=?")
		args = append(args, *f.ActorID)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	query := `SELECT id,actor_user_id,action_type,object_type,COALESCE(object_id,''),payload_json,created_at FROM audit_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.Ascending {
		query += " ORDER BY id ASC"
	} else {
		query += " ORDER BY id DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AuditEvent{}
	for rows.Next() {
		var ev domain.AuditEvent
		var actor sql.NullInt64
		if err := rows.Scan(&ev.ID, &actor, &ev.ActionType, &ev.ObjectType, &ev.ObjectID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.ActorID = int64Ptr(actor)
		res = append(res, ev)
	}
	return res, rows.Err()
}

// LatestAuditID returns the highest audit id, or 0 when empty.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM audit_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
