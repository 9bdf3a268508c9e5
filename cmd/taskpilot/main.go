package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"taskpilot/internal/app"
	"taskpilot/internal/config"
	"taskpilot/internal/db"
	"taskpilot/internal/digest"
	"taskpilot/internal/domain"
	"taskpilot/internal/server"
	"taskpilot/internal/service"
)

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Taskpilot CLI",
	Long: `Taskpilot keeps a personal task list and ranks it.
Each unfinished task gets a score from 0 to 100 built from four factors:
deadline urgency, how many other tasks wait on it, its impact, and how much
impact it delivers per unit of effort. Scores map to critical, high, medium
and low tiers, and every task comes with a short recommendation.
State lives in .taskpilot/taskpilot.db inside the workspace; settings live in
taskpilot.yml next to it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// A workspace .env never overrides variables already set.
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/taskpilot.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(prioritiesCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cmd.Flags().Changed("addr") {
					cfg.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.Server.BasePath = basePath
				}
				handler, err := server.New(server.Config{
					Tasks:       a.Tasks,
					BasePath:    cfg.Server.BasePath,
					CORSOrigins: cfg.Server.CORSOrigins,
					Logger:      a.Tasks.Logger,
				})
				if err != nil {
					return err
				}
				if cfg.Digest.Schedule != "" {
					d := digest.New(a.Tasks, a.Tasks.Logger, cfg.Digest.Top)
					if err := d.Start(ctx, cfg.Digest.Schedule); err != nil {
						return err
					}
					defer d.Stop()
				}
				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Taskpilot API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
					cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3000", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path (overrides config)")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskCompleteCmd())
	cmd.AddCommand(taskDeleteCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var openOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with their priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Tasks.List(ctx)
				if err != nil {
					return err
				}
				if openOnly {
					filtered := tasks[:0]
					for _, t := range tasks {
						if !t.Completed() {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Deadline", "Impact", "Effort", "Priority", "Score", "Done"})
				for _, t := range tasks {
					tier, score := "", ""
					if t.Priority != nil {
						tier = string(*t.Priority)
					}
					if t.PriorityScore != nil {
						score = fmt.Sprint(*t.PriorityScore)
					}
					done := ""
					if t.CompletedAt != nil {
						done = t.CompletedAt.Format(time.DateOnly)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Deadline.Format(time.DateOnly), t.Impact, t.EstimatedEffort, tier, score, done})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", false, "only show unfinished tasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Tasks.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

type taskFlags struct {
	title       string
	description string
	deadline    string
	effort      float64
	impact      float64
	dependsOn   []string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "title")
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().StringVar(&f.deadline, "deadline", "", "deadline (RFC3339, YYYY-MM-DD, or +Nd for N days from now)")
	cmd.Flags().Float64Var(&f.effort, "effort", 0, "estimated effort (0-10)")
	cmd.Flags().Float64Var(&f.impact, "impact", 0, "impact (0-10)")
	cmd.Flags().StringArrayVar(&f.dependsOn, "depends-on", []string{}, "dependency task id (repeatable)")
}

// createInput forwards only the flags that were set, so the service reports
// missing fields instead of accepting zero values.
func (f *taskFlags) createInput(cmd *cobra.Command, now time.Time) (service.CreateInput, error) {
	flags := cmd.Flags()
	in := service.CreateInput{Dependencies: f.dependsOn}
	if flags.Changed("title") {
		in.Title = &f.title
	}
	if flags.Changed("description") {
		in.Description = &f.description
	}
	if flags.Changed("deadline") {
		deadline, err := parseDeadline(f.deadline, now)
		if err != nil {
			return service.CreateInput{}, err
		}
		in.Deadline = &deadline
	}
	if flags.Changed("effort") {
		in.EstimatedEffort = &f.effort
	}
	if flags.Changed("impact") {
		in.Impact = &f.impact
	}
	return in, nil
}

func taskCreateCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.createInput(cmd, time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Tasks.Create(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var f taskFlags
	var clearDeps, reopen bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in service.UpdateInput
			flags := cmd.Flags()
			if flags.Changed("title") {
				in.Title = &f.title
			}
			if flags.Changed("description") {
				in.Description = &f.description
			}
			if flags.Changed("deadline") {
				deadline, err := parseDeadline(f.deadline, time.Now())
				if err != nil {
					return err
				}
				in.Deadline = &deadline
			}
			if flags.Changed("effort") {
				in.EstimatedEffort = &f.effort
			}
			if flags.Changed("impact") {
				in.Impact = &f.impact
			}
			switch {
			case clearDeps:
				in.Dependencies = &[]string{}
			case flags.Changed("depends-on"):
				in.Dependencies = &f.dependsOn
			}
			in.ClearCompletedAt = reopen
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Tasks.Update(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&clearDeps, "clear-deps", false, "remove all dependencies")
	cmd.Flags().BoolVar(&reopen, "reopen", false, "clear the completion time")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Tasks.Complete(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Tasks.Delete(ctx, args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"deleted": args[0]})
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func prioritiesCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "priorities",
		Short: "Rank unfinished tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				calcs, err := a.Tasks.Priorities(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(calcs)
				}
				tw := newTable()
				if verbose {
					tw.AppendHeader(table.Row{"#", "Task", "Priority", "Score", "Urgency", "Deps", "Impact", "Effort ratio", "Recommendation"})
				} else {
					tw.AppendHeader(table.Row{"#", "Task", "Priority", "Score", "Recommendation"})
				}
				for i, c := range calcs {
					if verbose {
						f := c.Factors
						tw.AppendRow(table.Row{i + 1, c.TaskID, c.Priority, c.Score, f.DeadlineUrgency, f.DependencyWeight, f.ImpactScore, f.EffortRatio, c.Recommendation})
						continue
					}
					tw.AppendRow(table.Row{i + 1, c.TaskID, c.Priority, c.Score, c.Recommendation})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show factor breakdown")
	return cmd
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show a dependency-ordered work plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				steps, err := a.Tasks.Plan(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Task", "Title", "Priority", "Score", "Waiting on"})
				for _, s := range steps {
					tw.AppendRow(table.Row{s.Position, s.TaskID, s.Title, s.Priority, s.Score, strings.Join(s.WaitingOn, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func insightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights",
		Short: "Summarize the task list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in, err := a.Tasks.Insights(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(in)
				}
				fmt.Println(in.Headline)
				tw := newTable()
				tw.AppendRows([]table.Row{
					{"Total", in.Total},
					{"Completed", in.Completed},
					{"Incomplete", in.Incomplete},
					{"Overdue", in.Overdue},
				})
				for _, tier := range []domain.Tier{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow} {
					tw.AppendRow(table.Row{"Tier " + string(tier), fmt.Sprintf("%d (%.0f%%)", in.ByTier[tier], in.TierPercent[tier])})
				}
				tw.Render()
				if len(in.Top) == 0 {
					return nil
				}
				top := newTable()
				top.SetTitle("Top priorities")
				top.AppendHeader(table.Row{"#", "Task", "Priority", "Score", "Recommendation"})
				for i, c := range in.Top {
					top.AppendRow(table.Row{i + 1, c.TaskID, c.Priority, c.Score, c.Recommendation})
				}
				top.Render()
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert sample tasks into an empty store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := app.Seed(ctx, a.Tasks)
				if err != nil {
					return err
				}
				if n == 0 {
					fmt.Println("store is not empty; nothing seeded")
					return nil
				}
				fmt.Printf("seeded %d tasks\n", n)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every task creation, update and deletion is recorded in the SQLite store.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.SQLite == nil {
					return fmt.Errorf("event log requires the %q storage driver", config.StorageSQLite)
				}
				events, err := a.SQLite.LatestEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Task", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskpilot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Write(viper.GetString("workspace"), config.Default(), force)
			if err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = config.Path(viper.GetString("workspace"))
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Log.Level)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// parseDeadline accepts RFC3339, a bare date, or a relative "+Nd" offset from now.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("--deadline required")
	}
	if strings.HasPrefix(s, "+") && strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "+%dd", &days); err != nil {
			return time.Time{}, fmt.Errorf("invalid relative deadline %q", s)
		}
		return now.Add(time.Duration(days) * 24 * time.Hour).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid deadline %q (want RFC3339, YYYY-MM-DD or +Nd)", s)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
