package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plcgate/internal/app"
	"plcgate/internal/config"
	"plcgate/internal/db"
	"plcgate/internal/domain"
	"plcgate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "plc",
	Short: "PLC Gate CLI",
	Long: `PLC Gate moves product work items through the lifecycle stages
Introduction -> Growth -> Maturity -> Decline -> New Development.
Each move is checked against a stage gate (approved launch checklist,
evidence links, approved decision memo); admins may override the edges that
allow it. The copilot turns a short message into an action plan you confirm
before it runs. Every change lands in the audit log ('plc audit tail').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLCGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "email of the user performing the command")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
	rootCmd.PersistentFlags().String("secret-key", "", "override auth.secret_key")
	for _, name := range []string{"workspace", "json", "as", "log-level", "secret-key"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(artifactCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(copilotCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(exportCmd())
}

// loadConfig reads plcgate.yml from the workspace (defaults when absent) and
// applies flag and PLCGATE_* env overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	cfg.Database.Workspace = workspace
	if v := viper.GetString("secret-key"); v != "" {
		cfg.Auth.SecretKey = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := viper.GetString("base-path"); v != "" {
		cfg.Server.BasePath = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage plcgate.yml"}
	var force bool
	initC := &cobra.Command{
		Use:   "init",
		Short: "Write a default plcgate.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initC.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate plcgate.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cfgCmd.AddCommand(initC, show, validate)
	return cfgCmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Println("database ready at", db.Path(a.Config.Database.Workspace))
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create demo users (admin/pm/viewer@example.com), project PLC and sample issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Seed(ctx, app.SeedOptions{Password: password})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Seed done. Project %s, %d new issues. Users:", res.Project.Key, res.IssuesCreated)
				for _, u := range res.Users {
					fmt.Printf(" %s (%s)", u.Email, u.Role)
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "changeme", "password for newly created seed users")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.Auth.SecretKey == config.DefaultSecretKey {
					a.Logger.Warn("auth.secret_key is the development default; set PLCGATE_SECRET_KEY in production")
				}
				handler, err := a.Handler()
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Engine, a.Logger)
				srv := &http.Server{Addr: a.Config.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving PLC Gate API", "addr", a.Config.Server.Addr, "base_path", a.Config.Server.BasePath, "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("base-path", "", "API base path (overrides server.base_path)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("base-path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func auditCmd() *cobra.Command {
	auditC := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	var n int
	var actionType, objectType, objectID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.ListAuditEvents(ctx, auditFilters(actionType, objectType, objectID, n))
				if err != nil {
					return err
				}
				return printAudit(events)
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&actionType, "type", "", "action type filter")
	tail.Flags().StringVar(&objectType, "object-type", "", "object type filter")
	tail.Flags().StringVar(&objectID, "object-id", "", "object id filter")
	auditC.AddCommand(tail)
	return auditC
}

func exportCmd() *cobra.Command {
	exp := &cobra.Command{Use: "export", Short: "Export data"}
	var project, out string
	issues := &cobra.Command{
		Use:   "issues",
		Short: "Export a project's issues as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return fmt.Errorf("--project required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w := os.Stdout
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				n, err := a.ExportIssuesCSV(ctx, w, project)
				if err != nil {
					return err
				}
				if w != os.Stdout {
					fmt.Printf("exported %d issues to %s\n", n, out)
				}
				return nil
			})
		},
	}
	issues.Flags().StringVar(&project, "project", "", "project key")
	issues.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	exp.AddCommand(issues)
	return exp
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// currentActor resolves --as (or PLCGATE_AS) to a user.
func currentActor(ctx context.Context, a *app.App) (domain.User, error) {
	email := strings.TrimSpace(viper.GetString("as"))
	if email == "" {
		return domain.User{}, errors.New("--as <email> (or PLCGATE_AS) is required for this command")
	}
	u, err := a.Engine.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %s: %w", email, err)
	}
	return u, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printAudit(events []domain.AuditEvent) error {
	if viper.GetBool("json") {
		return printJSON(events)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "When", "Actor", "Action", "Object", "Payload"})
	for _, ev := range events {
		actor := "-"
		if ev.ActorID != nil {
			actor = fmt.Sprint(*ev.ActorID)
		}
		tw.AppendRow(table.Row{ev.ID, ev.CreatedAt, actor, ev.ActionType, ev.ObjectType + ":" + ev.ObjectID, ev.Payload})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
