package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plcgate/internal/app"
	"plcgate/internal/copilot"
)

func copilotCmd() *cobra.Command {
	cc := &cobra.Command{Use: "copilot", Short: "Turn a message into a reviewed action plan"}
	var project, issue string
	var yes bool
	ask := &cobra.Command{
		Use:   "ask <message>",
		Short: "Propose an action plan for a message; run it with --yes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				p, err := a.Copilot.Propose(ctx, actor, message, copilot.Context{ProjectKey: project, IssueKey: issue})
				if err != nil {
					return err
				}
				if !yes {
					if viper.GetBool("json") {
						return printJSON(p)
					}
					printPlan(p.Plan)
					if len(p.Plan.Actions) > 0 {
						fmt.Println("\nRe-run with --yes to execute.")
					}
					return nil
				}
				return runPlan(ctx, a, p.Plan)
			})
		},
	}
	ask.Flags().StringVar(&project, "project", "", "project key context")
	ask.Flags().StringVar(&issue, "issue", "", "issue key context")
	ask.Flags().BoolVar(&yes, "yes", false, "execute the plan without asking")

	var file string
	exec := &cobra.Command{
		Use:   "exec",
		Short: "Execute a saved plan (a proposal or a bare action plan as JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := readPlan(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runPlan(ctx, a, plan)
			})
		},
	}
	exec.Flags().StringVarP(&file, "file", "f", "-", "plan file, - for stdin")
	cc.AddCommand(ask, exec)
	return cc
}

func readPlan(path string) (copilot.ActionPlan, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return copilot.ActionPlan{}, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return copilot.ActionPlan{}, err
	}
	var wrapped struct {
		Plan *copilot.ActionPlan `json:"action_plan"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return copilot.ActionPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	if wrapped.Plan != nil {
		return *wrapped.Plan, nil
	}
	var plan copilot.ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return copilot.ActionPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

func runPlan(ctx context.Context, a *app.App, plan copilot.ActionPlan) error {
	actor, err := currentActor(ctx, a)
	if err != nil {
		return err
	}
	if len(plan.Actions) == 0 {
		return errors.New("plan has no actions")
	}
	results := a.Copilot.Execute(ctx, plan, actor)
	if viper.GetBool("json") {
		return printJSON(results)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Tool", "OK", "Detail"})
	failed := 0
	for _, r := range results {
		detail := r.Error
		if r.Blocked {
			msgs := make([]string, 0, len(r.MissingRequirements))
			for _, m := range r.MissingRequirements {
				msgs = append(msgs, m.Message)
			}
			detail = "blocked: " + strings.Join(msgs, "; ")
		}
		if !r.OK {
			failed++
		}
		tw.AppendRow(table.Row{r.Tool, r.OK, detail})
	}
	tw.Render()
	if failed > 0 {
		return fmt.Errorf("%d of %d actions failed", failed, len(results))
	}
	return nil
}

func printPlan(plan copilot.ActionPlan) {
	fmt.Printf("Intent: %s\n%s\n", plan.Intent, plan.UserMessage)
	if len(plan.Actions) > 0 {
		tw := newTable()
		tw.AppendHeader(table.Row{"#", "Tool", "Args"})
		for i, act := range plan.Actions {
			args, _ := json.Marshal(act.Args)
			tw.AppendRow(table.Row{i + 1, act.Tool, string(args)})
		}
		tw.Render()
	}
	if len(plan.MissingRequirements) > 0 {
		fmt.Println("\nMissing requirements:")
		printMissing(plan.MissingRequirements)
	}
}
