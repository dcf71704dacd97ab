package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"plcgate/internal/audit"
	"plcgate/internal/domain"
	"plcgate/internal/engine"
)

const (
	SeedProjectKey  = "PLC"
	seedProjectName = "PLC Demo"
)

type SeedOptions struct {
	// Password is set on every seed user that does not exist yet.
	Password string
}

type SeedResult struct {
	Users         []domain.User
	Project       domain.Project
	IssuesCreated int
}

type seedIssue struct {
	summary string
	stage   domain.Stage
}

var seedIssues = []seedIssue{
	{"Launch new onboarding flow", domain.StageIntroduction},
	{"Scale referral program", domain.StageGrowth},
	{"Maintain core API stability", domain.StageMaturity},
	{"Sunset legacy dashboard", domain.StageDecline},
	{"Rebuild search with new stack", domain.StageNewDevelopment},
}

// Seed creates demo users, the PLC project and one issue per stage. Existing
// users and the project are reused; issues are only added to an empty project.
func (a *App) Seed(ctx context.Context, opts SeedOptions) (SeedResult, error) {
	if strings.TrimSpace(opts.Password) == "" {
		return SeedResult{}, errors.New("seed password is required")
	}
	var res SeedResult
	users := []engine.UserCreateOptions{
		{Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin},
		{Name: "PM Jane", Email: "pm@example.com", Role: domain.RolePM},
		{Name: "Viewer", Email: "viewer@example.com", Role: domain.RoleViewer},
	}
	for _, u := range users {
		u.Password = opts.Password
		created, err := a.ensureUser(ctx, u)
		if err != nil {
			return res, err
		}
		res.Users = append(res.Users, created)
	}
	admin, pm := res.Users[0], res.Users[1]

	p, err := a.Engine.Repo.GetProjectByKey(ctx, nil, SeedProjectKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p, err = a.Engine.CreateProject(ctx, &admin, seedProjectName, SeedProjectKey)
		if err != nil {
			return res, err
		}
	case err != nil:
		return res, err
	}
	res.Project = p

	n, err := a.Engine.Repo.CountIssuesInProject(ctx, nil, p.ID)
	if err != nil {
		return res, err
	}
	if n > 0 {
		return res, nil
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	now := a.Engine.Now().UTC().Format(time.RFC3339)
	w := audit.Writer{Now: a.Engine.Now}
	for i, s := range seedIssues {
		is := domain.Issue{
			Key:               fmt.Sprintf("%s-%d", p.Key, i+1),
			ProjectID:         p.ID,
			Type:              domain.IssueTask,
			Summary:           s.summary,
			Description:       "Description for " + s.summary,
			Status:            domain.StatusInProgress,
			PLCStage:          s.stage,
			ReporterID:        &pm.ID,
			Priority:          domain.PriorityP2,
			RegulatoryImpact:  domain.RegulatoryLow,
			StageExitCriteria: []domain.ExitCriterion{},
			EvidenceLinks:     []domain.EvidenceLink{},
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if i%2 == 0 {
			is.Type = domain.IssueStory
		}
		if i < 2 {
			is.Status = domain.StatusOpen
		}
		if i < 3 {
			is.AssigneeID = &pm.ID
		}
		if i == 0 {
			is.Priority = domain.PriorityP1
		}
		if s.stage == domain.StageGrowth {
			for j := 1; j <= a.Config.Gates.MinEvidenceLinks; j++ {
				is.EvidenceLinks = append(is.EvidenceLinks, domain.EvidenceLink{Title: fmt.Sprintf("Doc %d", j), URL: fmt.Sprintf("https://example.com/%d", j)})
			}
		}
		id, err := a.Engine.Repo.InsertIssue(ctx, tx, is)
		if err != nil {
			return res, fmt.Errorf("seed issue %s: %w", is.Key, err)
		}
		if _, err := w.Append(ctx, tx, nil, audit.IssueCreated, "issue", is.Key, audit.Payload{"summary": is.Summary, "seed": true, "id": id}); err != nil {
			return res, err
		}
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.IssuesCreated = len(seedIssues)
	a.Logger.Info("seeded demo data", "project", p.Key, "issues", res.IssuesCreated)
	return res, nil
}

func (a *App) ensureUser(ctx context.Context, opts engine.UserCreateOptions) (domain.User, error) {
	u, err := a.Engine.CreateUser(ctx, nil, opts)
	if errors.Is(err, domain.ErrConflict) {
		return a.Engine.Repo.GetUserByEmail(ctx, opts.Email)
	}
	return u, err
}
