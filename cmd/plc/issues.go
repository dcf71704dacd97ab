package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plcgate/internal/app"
	"plcgate/internal/domain"
	"plcgate/internal/engine"
	"plcgate/internal/repo"
)

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Manage issues and move them through stage gates"}
	iss.AddCommand(
		issueCreateCmd(),
		issueListCmd(),
		issueShowCmd(),
		issueUpdateCmd(),
		issueAssignCmd(),
		issueGateCmd(),
		issueTransitionCmd(),
		issueAuditCmd(),
	)
	return iss
}

func issueCreateCmd() *cobra.Command {
	var opts engine.IssueCreateOptions
	var typ, priority, regulatory string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				opts.Type = domain.IssueType(typ)
				opts.Priority = domain.Priority(priority)
				opts.RegulatoryImpact = domain.RegulatoryLevel(regulatory)
				is, err := a.Engine.CreateIssue(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectKey, "project", "", "project key")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "one-line summary")
	cmd.Flags().StringVar(&opts.Description, "description", "", "longer description")
	cmd.Flags().StringVar(&typ, "type", "", "Epic, Story, Task, Bug, Decision, Risk or Experiment")
	cmd.Flags().StringVar(&priority, "priority", "", "P0..P3")
	cmd.Flags().StringVar(&regulatory, "regulatory-impact", "", "low, med or high")
	return cmd
}

func issueListCmd() *cobra.Command {
	var project, stage, status, typ, q string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f := repo.IssueFilters{Query: q, Limit: limit}
				if project != "" {
					p, err := a.Engine.Repo.GetProjectByKey(ctx, nil, project)
					if err != nil {
						return fmt.Errorf("project %s: %w", project, err)
					}
					f.ProjectID = p.ID
				}
				if stage != "" {
					st, ok := domain.ParseStage(stage)
					if !ok {
						return fmt.Errorf("invalid stage %q", stage)
					}
					f.Stage = st
				}
				if status != "" {
					s, err := domain.ParseIssueStatus(status)
					if err != nil {
						return err
					}
					f.Status = s
				}
				if typ != "" {
					t, err := domain.ParseIssueType(typ)
					if err != nil {
						return err
					}
					f.Type = t
				}
				issues, err := a.Engine.Repo.ListIssues(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Key", "Type", "Stage", "Status", "Priority", "Summary"})
				for _, is := range issues {
					tw.AppendRow(table.Row{is.Key, is.Type, is.PLCStage, is.Status, is.Priority, engine.Truncate(is.Summary, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project key")
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&typ, "type", "", "type filter")
	cmd.Flags().StringVarP(&q, "query", "q", "", "text in summary or description")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				is, err := a.Engine.Repo.GetIssueByKey(ctx, nil, args[0])
				if err != nil {
					return fmt.Errorf("issue %s: %w", strings.ToUpper(args[0]), err)
				}
				return printIssue(is)
			})
		},
	}
}

func issueUpdateCmd() *cobra.Command {
	var summary, description, status, priority, typ, regulatory string
	var evidence []string
	cmd := &cobra.Command{
		Use:   "update <key>",
		Short: "Update issue fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.IssuePatch{
				Summary:     optionalString(cmd, "summary", summary),
				Description: optionalString(cmd, "description", description),
			}
			if cmd.Flags().Changed("status") {
				s, err := domain.ParseIssueStatus(status)
				if err != nil {
					return err
				}
				patch.Status = &s
			}
			if cmd.Flags().Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				patch.Priority = &p
			}
			if cmd.Flags().Changed("type") {
				t, err := domain.ParseIssueType(typ)
				if err != nil {
					return err
				}
				patch.Type = &t
			}
			if cmd.Flags().Changed("regulatory-impact") {
				l, err := domain.ParseRegulatoryLevel(regulatory)
				if err != nil {
					return err
				}
				patch.RegulatoryImpact = &l
			}
			if cmd.Flags().Changed("evidence") {
				links, err := parseEvidence(evidence)
				if err != nil {
					return err
				}
				patch.EvidenceLinks = &links
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				is, err := a.Engine.UpdateIssue(ctx, actor, args[0], patch)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "summary")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "open, in_progress or done")
	cmd.Flags().StringVar(&priority, "priority", "", "P0..P3")
	cmd.Flags().StringVar(&typ, "type", "", "issue type")
	cmd.Flags().StringVar(&regulatory, "regulatory-impact", "", "low, med or high")
	cmd.Flags().StringArrayVar(&evidence, "evidence", nil, "evidence link as 'title=url'; repeat to replace the list")
	return cmd
}

func issueAssignCmd() *cobra.Command {
	var email string
	var unassign bool
	cmd := &cobra.Command{
		Use:   "assign <key>",
		Short: "Assign an issue to a user, or clear it with --unassign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" && !unassign {
				return errors.New("--to <email> or --unassign required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				var assignee *int64
				if !unassign {
					u, err := a.Engine.Repo.GetUserByEmail(ctx, email)
					if err != nil {
						return fmt.Errorf("user %s: %w", email, err)
					}
					assignee = &u.ID
				}
				is, err := a.Engine.AssignIssue(ctx, actor, args[0], assignee)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	}
	cmd.Flags().StringVar(&email, "to", "", "assignee email")
	cmd.Flags().BoolVar(&unassign, "unassign", false, "clear the assignee")
	return cmd
}

func issueGateCmd() *cobra.Command {
	var target, override string
	cmd := &cobra.Command{
		Use:   "gate <key>",
		Short: "Check whether an issue may move to a stage, without moving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				is, d, err := a.Engine.CheckGate(ctx, actor, args[0], target, override)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				if d.Allowed {
					fmt.Printf("%s: %s -> %s allowed\n", is.Key, is.PLCStage, target)
					return nil
				}
				fmt.Printf("%s: %s -> %s blocked\n", is.Key, is.PLCStage, target)
				printMissing(d.Missing)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target stage")
	cmd.Flags().StringVar(&override, "override", "", "override reason (admins only)")
	return cmd
}

func issueTransitionCmd() *cobra.Command {
	var target, override string
	cmd := &cobra.Command{
		Use:   "transition <key>",
		Short: "Move an issue to another stage if its gate allows it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				res, err := a.Engine.TransitionIssue(ctx, actor, args[0], target, override)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Decision.Allowed {
					fmt.Println("Stage gate not satisfied")
					printMissing(res.Decision.Missing)
					return errors.New("transition blocked")
				}
				fmt.Printf("%s moved %s -> %s\n", res.Issue.Key, res.From, res.Issue.PLCStage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target stage")
	cmd.Flags().StringVar(&override, "override", "", "override reason (admins only)")
	return cmd
}

func issueAuditCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "audit <key>",
		Short: "Show the audit trail of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.ListAuditEvents(ctx, auditFilters("", "issue", strings.ToUpper(args[0]), n))
				if err != nil {
					return err
				}
				return printAudit(events)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 100, "number of events")
	return cmd
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifact", Short: "Generate and review artifacts"}
	var opts engine.ArtifactCreateOptions
	var kind string
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate a launch checklist or decision memo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				opts.Kind = domain.ArtifactKind(kind)
				created, err := a.Engine.GenerateArtifact(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("artifact %d %q (%s)\n\n%s\n", created.ID, created.Title, created.Status, created.Content)
				return nil
			})
		},
	}
	gen.Flags().StringVar(&kind, "kind", string(domain.ArtifactLaunchChecklist), "launch_checklist or decision_memo")
	gen.Flags().StringVar(&opts.IssueKey, "issue", "", "issue key")
	gen.Flags().StringVar(&opts.ProjectKey, "project", "", "project key when no issue is given")
	gen.Flags().StringVar(&opts.Title, "title", "", "title")

	var project string
	list := &cobra.Command{
		Use:   "list",
		Short: "List artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var f repo.ArtifactFilters
				if project != "" {
					p, err := a.Engine.Repo.GetProjectByKey(ctx, nil, project)
					if err != nil {
						return fmt.Errorf("project %s: %w", project, err)
					}
					f.ProjectID = p.ID
				}
				items, err := a.Engine.Repo.ListArtifacts(ctx, nil, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Title"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Kind, it.Status, it.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&project, "project", "", "project key")

	request := &cobra.Command{
		Use:   "request-approval <id>",
		Short: "Open a pending approval for an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid artifact id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				ap, err := a.Engine.RequestApproval(ctx, actor, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ap)
				}
				fmt.Printf("approval %d pending for artifact %d\n", ap.ID, ap.ArtifactID)
				return nil
			})
		},
	}
	art.AddCommand(gen, list, request)
	return art
}

func approvalCmd() *cobra.Command {
	apc := &cobra.Command{Use: "approval", Short: "Decide approvals"}
	var approve, reject bool
	var comment string
	decide := &cobra.Command{
		Use:   "decide <id>",
		Short: "Approve or reject a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return errors.New("exactly one of --approve or --reject required")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid approval id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				ap, err := a.Engine.DecideApproval(ctx, actor, id, approve, comment)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ap)
				}
				fmt.Printf("approval %d %s\n", ap.ID, ap.Status)
				return nil
			})
		},
	}
	decide.Flags().BoolVar(&approve, "approve", false, "approve")
	decide.Flags().BoolVar(&reject, "reject", false, "reject")
	decide.Flags().StringVar(&comment, "comment", "", "decision comment")
	apc.AddCommand(decide)
	return apc
}

func auditFilters(actionType, objectType, objectID string, n int) repo.AuditFilters {
	return repo.AuditFilters{ActionType: actionType, ObjectType: objectType, ObjectID: objectID, Limit: n}
}

func parseEvidence(items []string) ([]domain.EvidenceLink, error) {
	links := make([]domain.EvidenceLink, 0, len(items))
	for _, it := range items {
		title, url, ok := strings.Cut(it, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid evidence %q; want title=url", it)
		}
		links = append(links, domain.EvidenceLink{Title: strings.TrimSpace(title), URL: strings.TrimSpace(url)})
	}
	return links, nil
}

func printIssue(is domain.Issue) error {
	if viper.GetBool("json") {
		return printJSON(is)
	}
	tw := newTable()
	assignee := "-"
	if is.AssigneeID != nil {
		assignee = fmt.Sprint(*is.AssigneeID)
	}
	tw.AppendRows([]table.Row{
		{"Key", is.Key},
		{"Summary", is.Summary},
		{"Type", is.Type},
		{"Stage", is.PLCStage},
		{"Status", is.Status},
		{"Priority", is.Priority},
		{"Regulatory impact", is.RegulatoryImpact},
		{"Assignee", assignee},
		{"Evidence links", len(is.EvidenceLinks)},
		{"Updated", is.UpdatedAt},
	})
	tw.Render()
	return nil
}

func printMissing(missing []domain.MissingRequirement) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Type", "Requirement"})
	for _, m := range missing {
		tw.AppendRow(table.Row{m.Type, m.Message})
	}
	tw.Render()
}
