package repo

import (
	"context"
	"database/sql"
	"strings"

	"plcgate/internal/domain"
)

const artifactColumns = `id,issue_id,project_id,kind,title,content,status,created_by,created_at`

func scanArtifact(row interface{ Scan(...any) error }) (domain.Artifact, error) {
	var (
		a                  domain.Artifact
		issueID, createdBy sql.NullInt64
	)
	err := row.Scan(&a.ID, &issueID, &a.ProjectID, &a.Kind, &a.Title, &a.Content, &a.Status, &createdBy, &a.CreatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.IssueID = int64Ptr(issueID)
	a.CreatedBy = int64Ptr(createdBy)
	return a, nil
}

func (r Repo) InsertArtifact(ctx context.Context, tx *sql.Tx, a domain.Artifact) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO artifacts(issue_id,project_id,kind,title,content,status,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		nullableInt64(a.IssueID), a.ProjectID, a.Kind, a.Title, a.Content, a.Status, nullableInt64(a.CreatedBy), a.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetArtifact(ctx context.Context, tx *sql.Tx, id int64) (domain.Artifact, error) {
	return scanArtifact(r.q(tx).QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id=?`, id))
}

func (r Repo) UpdateArtifactStatus(ctx context.Context, tx *sql.Tx, id int64, status domain.ArtifactStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE artifacts SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ArtifactFilters struct {
	ProjectID int64
	IssueID   int64
	Kind      domain.ArtifactKind
	Status    domain.ArtifactStatus
}

func (r Repo) ListArtifacts(ctx context.Context, tx *sql.Tx, f ArtifactFilters) ([]domain.Artifact, error) {
	var clauses []string
	var args []any
	if f.ProjectID != 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.IssueID != 0 {
		clauses = append(clauses, "issue_id=?")
		args = append(args, f.IssueID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + artifactColumns + ` FROM artifacts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Approvals

const approvalColumns = `id,artifact_id,requested_by,approver_id,status,COALESCE(comment,''),created_at,decided_at`

func scanApproval(row interface{ Scan(...any) error }) (domain.Approval, error) {
	var (
		ap        domain.Approval
		approver  sql.NullInt64
		decidedAt sql.NullString
	)
	err := row.Scan(&ap.ID, &ap.ArtifactID, &ap.RequestedBy, &approver, &ap.Status, &ap.Comment, &ap.CreatedAt, &decidedAt)
	if err != nil {
		return ap, notFound(err)
	}
	ap.ApproverID = int64Ptr(approver)
	ap.DecidedAt = stringPtr(decidedAt)
	return ap, nil
}

func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, ap domain.Approval) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO approvals(artifact_id,requested_by,approver_id,status,comment,created_at) VALUES (?,?,?,?,?,?)`,
		ap.ArtifactID, ap.RequestedBy, nullableInt64(ap.ApproverID), ap.Status, nullable(ap.Comment), ap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetApproval(ctx context.Context, tx *sql.Tx, id int64) (domain.Approval, error) {
	return scanApproval(r.q(tx).QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=?`, id))
}

// DecideApproval moves a pending approval to a terminal status. It returns
// domain.ErrInvalidState when the row was already decided.
func (r Repo) DecideApproval(ctx context.Context, tx *sql.Tx, ap domain.Approval) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE approvals SET status=?, approver_id=?, comment=?, decided_at=? WHERE id=? AND status='pending'`,
		ap.Status, nullableInt64(ap.ApproverID), nullable(ap.Comment), ap.DecidedAt, ap.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

func (r Repo) ListApprovals(ctx context.Context, tx *sql.Tx, artifactID int64, status domain.ApprovalStatus) ([]domain.Approval, error) {
	var clauses []string
	var args []any
	if artifactID != 0 {
		clauses = append(clauses, "artifact_id=?")
		args = append(args, artifactID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Approval{}
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ap)
	}
	return res, rows.Err()
}
