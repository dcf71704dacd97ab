package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"plcgate/internal/repo"
)

var exportHeader = []string{
	"key", "type", "summary", "status", "plc_stage", "priority",
	"regulatory_impact", "assignee_id", "evidence_links", "created_at", "updated_at",
}

// ExportIssuesCSV writes every issue of the project as CSV, ordered by key
// allocation.
func (a *App) ExportIssuesCSV(ctx context.Context, w io.Writer, projectKey string) (int, error) {
	p, err := a.Engine.Repo.GetProjectByKey(ctx, nil, projectKey)
	if err != nil {
		return 0, fmt.Errorf("project %s: %w", projectKey, err)
	}
	issues, err := a.Engine.Repo.ListIssues(ctx, repo.IssueFilters{ProjectID: p.ID})
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, is := range issues {
		assignee := ""
		if is.AssigneeID != nil {
			assignee = strconv.FormatInt(*is.AssigneeID, 10)
		}
		row := []string{
			is.Key, string(is.Type), is.Summary, string(is.Status), string(is.PLCStage), string(is.Priority),
			string(is.RegulatoryImpact), assignee, strconv.Itoa(len(is.EvidenceLinks)), is.CreatedAt, is.UpdatedAt,
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(issues), cw.Error()
}
