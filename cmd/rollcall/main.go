package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/db"
	"rollcall/internal/domain"
	"rollcall/internal/orchestrator"
	"rollcall/internal/repo"
	"rollcall/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Rollcall CLI",
	Long: `Rollcall resolves who owes a case acknowledgement each day and freezes
the answer into a once-daily snapshot.

- Policies classify cases into scope groups; the first matching rule wins.
- The roster says who works which weekday; assisted reps may name a
  coverage partner who steps in on their off days.
- The morning flow rebuilds indexes, freezes the snapshot, renders one
  live queue per rep, injects due reminders, and refreshes the dashboard.
- 'rollcall submit' reconciles a rep's queue edits against the durable
  reminder store, surviving the legacy submit's destructive clear.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ROLLCALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(morningCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(gapsCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(reminderCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default rollcall.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspace)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func morningCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "morning",
		Short: "Run the morning flow",
		Long:  "Rebuild indexes, freeze the snapshot, build queues, inject reminders, rebuild the dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runner := &orchestrator.Runner{App: a}
				res, err := runner.Morning(ctx)
				if err != nil {
					return err
				}
				fmt.Print(res.Summary())
				if res.Aborted {
					return errors.New("morning run aborted")
				}
				return nil
			})
		},
	}
	return cmd
}

func refreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the dashboard only (late-day refresh)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runner := &orchestrator.Runner{App: a}
				n, err := runner.RebuildDashboard(ctx, nil)
				if err != nil {
					return err
				}
				fmt.Printf("dashboard rebuilt (%d reps)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func snapshotCmd() *cobra.Command {
	snap := &cobra.Command{Use: "snapshot", Short: "Manage the daily snapshot"}
	snap.AddCommand(snapshotFreezeCmd())
	snap.AddCommand(snapshotShowCmd())
	snap.AddCommand(snapshotHealCmd())
	return snap
}

func snapshotFreezeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "Freeze today's duty resolution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				lock, err := a.Locks.Acquire(ctx, "morning", "snapshot-freeze")
				if err != nil {
					return err
				}
				defer lock.Release(ctx)
				res, err := a.ResolveToday()
				if err != nil {
					return err
				}
				n, err := a.Snapshot.Freeze(res.Duty, res.Cls, res.Policy.SnapshotIncludeFor)
				if err != nil {
					return err
				}
				fmt.Printf("froze %d rows for %s\n", n, a.Today())
				return nil
			})
		},
	}
	return cmd
}

func snapshotShowCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show frozen snapshot rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if date == "" {
					date = a.Today()
				}
				rows, err := a.Snapshot.ReadCanonical(date)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Case", "Rep", "Role", "Group", "Customer", "Stale"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.CaseID, r.Rep, r.Role, r.ScopeGroup, r.Customer, r.DaysStale})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "snapshot date (default today)")
	return cmd
}

func snapshotHealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Repair the snapshot tables' schema in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Snapshot.HealAll(); err != nil {
					return err
				}
				fmt.Println("snapshot tables healed")
				return nil
			})
		},
	}
	return cmd
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Manage live per-rep queues"}
	q.AddCommand(queueBuildCmd())
	return q
}

func queueBuildCmd() *cobra.Command {
	var rep string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuild live queues from the frozen snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				lock, err := a.Locks.Acquire(ctx, "morning", "queue-build")
				if err != nil {
					return err
				}
				defer lock.Release(ctx)
				res, err := a.ResolveToday()
				if err != nil {
					return err
				}
				frozen, err := a.Snapshot.ReadToday()
				if err != nil {
					return err
				}
				if len(frozen) == 0 {
					return errors.New("no frozen snapshot for today; run 'rollcall snapshot freeze' first")
				}
				builder := a.QueueBuilder(res.Policy)
				reps := res.Duty.Reps()
				if rep != "" {
					reps = []string{rep}
				}
				for _, r := range reps {
					if err := builder.Build(r, frozen); err != nil {
						return err
					}
				}
				fmt.Printf("built %d queue(s)\n", len(reps))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rep, "rep", "", "rebuild a single rep's queue")
	return cmd
}

func submitCmd() *cobra.Command {
	var rep string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a rep's queue and reconcile reminder actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rep == "" {
				return fmt.Errorf("--rep required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pol, err := a.Policies()
				if err != nil {
					return err
				}
				res, err := a.Reconciler(pol).Submit(ctx, rep)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("acked %d, processed %d action(s)\n", res.Acked, res.Processed)
				for _, e := range res.Errors {
					fmt.Println("  error:", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rep, "rep", "", "rep whose queue to submit")
	return cmd
}

func gapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Show today's coverage gaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.ResolveToday()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"assigned": res.Duty.AssignedGaps,
						"assisted": res.Duty.AssistedGaps,
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Case", "Kind", "Who"})
				for _, g := range res.Duty.AssignedGaps {
					tw.AppendRow(table.Row{g.CaseID, "assigned", strings.Join(g.Assigned, ", ")})
				}
				for _, g := range res.Duty.AssistedGaps {
					tw.AppendRow(table.Row{g.CaseID, "assisted", g.Pair})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func dashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show per-rep expected vs acknowledged counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runner := &orchestrator.Runner{App: a}
				rows, err := runner.DashboardRows(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rep", "Expected", "Acked", "Outstanding"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Rep, r.Expected, r.Acked, r.Outstanding})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func scheduleCmd() *cobra.Command {
	sch := &cobra.Command{Use: "schedule", Short: "Inspect the duty roster"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the roster with coverage pairings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				roster, err := a.Roster()
				if err != nil {
					return err
				}
				reps := make([]string, 0, len(roster.Entries))
				for rep := range roster.Entries {
					reps = append(reps, rep)
				}
				sort.Strings(reps)
				if viper.GetBool("json") {
					out := make([]domain.ScheduleEntry, 0, len(reps))
					for _, rep := range reps {
						out = append(out, roster.Entries[rep])
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rep", "Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Partner"})
				for _, rep := range reps {
					e := roster.Entries[rep]
					row := table.Row{rep}
					for _, on := range e.OnDuty {
						mark := ""
						if on {
							mark = "x"
						}
						row = append(row, mark)
					}
					row = append(row, e.CoveragePartner)
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	sch.AddCommand(show)
	return sch
}

func policyCmd() *cobra.Command {
	pol := &cobra.Command{Use: "policy", Short: "Inspect classification policies"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List enabled policies in precedence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pe, err := a.Policies()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pe.Policies)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Priority", "Group", "Column", "Values", "MustAck", "Queue", "Snapshot"})
				for _, p := range pe.Policies {
					tw.AppendRow(table.Row{
						p.Priority, p.Group, p.MatchColumn,
						strings.Join(p.MatchValues, ", "), p.MustAck,
						yn(p.QueueInclude), yn(p.SnapshotInclude),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	pol.AddCommand(list)
	return pol
}

func reminderCmd() *cobra.Command {
	rem := &cobra.Command{Use: "reminder", Short: "Manage durable reminders"}
	rem.AddCommand(reminderAddCmd())
	rem.AddCommand(reminderListCmd())
	return rem
}

func reminderAddCmd() *cobra.Command {
	var caseID, rep, remType, due string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if caseID == "" || rep == "" {
				return fmt.Errorf("--case and --rep required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := a.NowLocal().Format(time.RFC3339)
				rem := domain.Reminder{
					ID:        uuid.NewString(),
					CaseID:    caseID,
					Rep:       rep,
					Type:      remType,
					Status:    "PENDING",
					NextDueAt: due,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := a.Repo.InsertReminder(ctx, rem); err != nil {
					return err
				}
				return printJSONOrTable(rem)
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	cmd.Flags().StringVar(&rep, "rep", "", "rep owing the reminder")
	cmd.Flags().StringVar(&remType, "type", "Follow-up", "reminder type label")
	cmd.Flags().StringVar(&due, "due", "", "next due timestamp (RFC3339, empty = due now)")
	return cmd
}

func reminderListCmd() *cobra.Command {
	var rep, caseID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListReminders(ctx, repo.ReminderFilters{
					Rep: rep, CaseID: caseID, Status: status, Limit: limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Case", "Rep", "Status", "Due", "Snoozed Until"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.CaseID, r.Rep, r.Status, r.NextDueAt, r.SnoozeUntil})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rep, "rep", "", "filter by rep")
	cmd.Flags().StringVar(&caseID, "case", "", "filter by case")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "n", 50, "max rows")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only report API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("ROLLCALL_JWT_SECRET")}
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Rollcall API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
