package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Action types written by the engine and the copilot executor.
const (
	ProjectCreated    = "project_created"
	UserCreated       = "user_created"
	IssueCreated      = "issue_created"
	IssueUpdated      = "issue_updated"
	IssueTransitioned = "issue_transitioned"
	ArtifactGenerated = "artifact_generated"
	ApprovalRequested = "approval_requested"
	ApprovalDecided   = "approval_decided"
	APIKeyCreated     = "api_key_created"
	APIKeyDeleted     = "api_key_deleted"
	CopilotToolCall   = "copilot_tool_call"
)

// Payload is the JSON body stored with an audit row.
type Payload map[string]any

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer appends audit rows. Callers pass the transaction that carries the
// mutation so the row commits or rolls back with it.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, ex Execer, actorID *int64, actionType, objectType, objectID string, payload Payload) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal audit payload: %w", err)
	}
	var actor any
	if actorID != nil {
		actor = *actorID
	}
	res, err := ex.ExecContext(ctx, `INSERT INTO audit_events(actor_user_id,action_type,object_type,object_id,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		actor, actionType, objectType, nullable(objectID), string(data), ts)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
