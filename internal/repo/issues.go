package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"plcgate/internal/domain"
)

const issueColumns = `id,key,project_id,type,summary,COALESCE(description,''),status,plc_stage,assignee_id,reporter_id,priority,regulatory_impact,stage_exit_criteria_json,evidence_links_json,created_at,updated_at`

func scanIssue(row interface{ Scan(...any) error }) (domain.Issue, error) {
	var (
		is                      domain.Issue
		assignee, reporter      sql.NullInt64
		criteriaJSON, linksJSON string
	)
	err := row.Scan(&is.ID, &is.Key, &is.ProjectID, &is.Type, &is.Summary, &is.Description, &is.Status, &is.PLCStage,
		&assignee, &reporter, &is.Priority, &is.RegulatoryImpact, &criteriaJSON, &linksJSON, &is.CreatedAt, &is.UpdatedAt)
	if err != nil {
		return is, notFound(err)
	}
	is.AssigneeID = int64Ptr(assignee)
	is.ReporterID = int64Ptr(reporter)
	is.StageExitCriteria = []domain.ExitCriterion{}
	is.EvidenceLinks = []domain.EvidenceLink{}
	if err := json.Unmarshal([]byte(criteriaJSON), &is.StageExitCriteria); err != nil {
		return is, fmt.Errorf("issue %s exit criteria: %w", is.Key, err)
	}
	if err := json.Unmarshal([]byte(linksJSON), &is.EvidenceLinks); err != nil {
		return is, fmt.Errorf("issue %s evidence links: %w", is.Key, err)
	}
	return is, nil
}

func marshalList(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

// CountIssuesInProject is used for key allocation and must run in the
// inserting transaction.
func (r Repo) CountIssuesInProject(ctx context.Context, tx *sql.Tx, projectID int64) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, is domain.Issue) (int64, error) {
	criteria, err := marshalList(is.StageExitCriteria)
	if err != nil {
		return 0, err
	}
	links, err := marshalList(is.EvidenceLinks)
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO issues(key,project_id,type,summary,description,status,plc_stage,assignee_id,reporter_id,priority,regulatory_impact,stage_exit_criteria_json,evidence_links_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		is.Key, is.ProjectID, is.Type, is.Summary, nullable(is.Description), is.Status, is.PLCStage,
		nullableInt64(is.AssigneeID), nullableInt64(is.ReporterID), is.Priority, is.RegulatoryImpact, criteria, links, is.CreatedAt, is.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateIssue writes every mutable column of is.
func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	criteria, err := marshalList(is.StageExitCriteria)
	if err != nil {
		return err
	}
	links, err := marshalList(is.EvidenceLinks)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE issues SET type=?, summary=?, description=?, status=?, plc_stage=?, assignee_id=?, priority=?, regulatory_impact=?, stage_exit_criteria_json=?, evidence_links_json=?, updated_at=? WHERE id=?`,
		is.Type, is.Summary, nullable(is.Description), is.Status, is.PLCStage, nullableInt64(is.AssigneeID), is.Priority,
		is.RegulatoryImpact, criteria, links, is.UpdatedAt, is.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetIssueByKey(ctx context.Context, tx *sql.Tx, key string) (domain.Issue, error) {
	return scanIssue(r.q(tx).QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE key=?`, strings.ToUpper(strings.TrimSpace(key))))
}

func (r Repo) GetIssue(ctx context.Context, tx *sql.Tx, id int64) (domain.Issue, error) {
	return scanIssue(r.q(tx).QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
}

type IssueFilters struct {
	ProjectID  int64
	Stage      domain.Stage
	Status     domain.IssueStatus
	Type       domain.IssueType
	AssigneeID *int64
	// Query matches summary or description, case-insensitively.
	Query string
	Limit int
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.ProjectID != 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Stage != "" {
		clauses = append(clauses, "plc_stage=?")
		args = append(args, f.Stage)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.AssigneeID != nil {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, *f.AssigneeID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		clauses = append(clauses, "(summary LIKE ? OR COALESCE(description,'') LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Issue{}
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, is)
	}
	return res, rows.Err()
}
