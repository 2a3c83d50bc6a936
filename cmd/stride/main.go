package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stride/internal/coach"
	"stride/internal/config"
	"stride/internal/db"
	"stride/internal/domain"
	"stride/internal/ledger"
	"stride/internal/migrate"
	"stride/internal/rollback"
	"stride/internal/server"
	"stride/internal/writequeue"
)

var rootCmd = &cobra.Command{
	Use:   "stride",
	Short: "Stride CLI",
	Long: `Stride is a personal training coach with a tamper-evident core.
Every change to plans, workouts and metrics lands in an append-only event
ledger, writes are serialized and idempotent, coaching rules are declarative
policies gated by test fixtures, and any window of changes can be rolled
back by replaying the ledger in reverse.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("STRIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("trace-id", "", "trace id attached to writes")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("trace-id", rootCmd.PersistentFlags().Lookup("trace-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(workoutCmd())
	rootCmd.AddCommand(metricCmd())
	rootCmd.AddCommand(readinessCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(locksCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(transcriptCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			fmt.Println("workspace ready:", db.Path(workspace))
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Training plans"}
	cmd.AddCommand(planCreateCmd())
	cmd.AddCommand(planListCmd())
	cmd.AddCommand(planWorkoutsCmd())
	return cmd
}

func planCreateCmd() *cobra.Command {
	var athlete, goal, start, idemKey string
	var days int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a training plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				res, err := c.CreatePlan(ctx, coach.PlanOptions{
					Athlete:        athlete,
					Goal:           goal,
					StartsOn:       start,
					Days:           days,
					IdempotencyKey: idemKey,
					TraceID:        viper.GetString("trace-id"),
				})
				if err != nil {
					return err
				}
				if res.Cached {
					fmt.Println("replayed cached result for idempotency key", idemKey)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&athlete, "athlete", "", "athlete name")
	cmd.Flags().StringVar(&goal, "goal", "", "training goal")
	cmd.Flags().StringVar(&start, "start", time.Now().Format("2006-01-02"), "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 7, "number of days to schedule")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "idempotency key for safe retries")
	_ = cmd.MarkFlagRequired("athlete")
	return cmd
}

func planListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List training plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				items, err := c.Plans(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func planWorkoutsCmd() *cobra.Command {
	var planID string
	cmd := &cobra.Command{
		Use:   "workouts",
		Short: "List a plan's workouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				items, err := c.Workouts(ctx, planID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Type", "Intensity", "Min", "Status"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.ScheduledOn, w.WorkoutType, w.Intensity, w.DurationMin, w.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "plan id (all plans when empty)")
	return cmd
}

func workoutCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workout", Short: "Workouts"}
	cmd.AddCommand(workoutStatusCmd("complete", "completed"))
	cmd.AddCommand(workoutStatusCmd("skip", "skipped"))
	cmd.AddCommand(workoutStatusCmd("convert", "converted"))
	cmd.AddCommand(workoutDeleteCmd())
	return cmd
}

func workoutStatusCmd(use, status string) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   use + " <workout-id>",
		Short: "Mark a workout " + status,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				return c.SetWorkoutStatus(ctx, args[0], status, notes, viper.GetString("trace-id"))
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func workoutDeleteCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "delete <workout-id>",
		Short: "Delete a workout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				return c.DeleteWorkout(ctx, args[0], reason, viper.GetString("trace-id"))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the workout is removed")
	return cmd
}

func metricCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "metric", Short: "Wellness and training metrics"}
	cmd.AddCommand(metricAddCmd())
	cmd.AddCommand(metricListCmd())
	return cmd
}

func metricAddCmd() *cobra.Command {
	var metricType, unit, notes, recordedAt string
	var value float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a metric reading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				m, err := c.LogMetric(ctx, domain.Metric{
					MetricType: metricType,
					Value:      value,
					Unit:       unit,
					Notes:      notes,
					RecordedAt: recordedAt,
				}, viper.GetString("trace-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&metricType, "type", "", "metric type, e.g. hrv, resting_hr, sleep_hours")
	cmd.Flags().Float64Var(&value, "value", 0, "metric value")
	cmd.Flags().StringVar(&unit, "unit", "", "unit")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&recordedAt, "recorded-at", "", "reading timestamp (RFC3339, default now)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func metricListCmd() *cobra.Command {
	var metricType string
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent readings of one metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				items, err := c.Metrics(ctx, metricType, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&metricType, "type", "", "metric type")
	cmd.Flags().IntVar(&n, "n", 30, "number of readings")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func readinessCmd() *cobra.Command {
	var overrides []string
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Evaluate active policies against current metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				report, err := c.CheckReadiness(ctx, coach.ReadinessOptions{
					Overrides: overrides,
					TraceID:   viper.GetString("trace-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	cmd.Flags().StringSliceVar(&overrides, "override", nil, "policy name to override (repeatable)")
	return cmd
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Coaching policies"}
	cmd.AddCommand(policyImportCmd())
	cmd.AddCommand(policyListCmd())
	cmd.AddCommand(policyShowCmd())
	cmd.AddCommand(policyActivateCmd())
	cmd.AddCommand(policyTestCmd())
	return cmd
}

func policyImportCmd() *cobra.Command {
	var file, dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import policy documents from JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (dir == "") {
				return fmt.Errorf("exactly one of --file or --dir is required")
			}
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				trace := viper.GetString("trace-id")
				if file != "" {
					p, skipped, err := c.Registry.LoadFile(ctx, file, trace)
					if err != nil {
						return err
					}
					if skipped {
						fmt.Println("skipped: name already registered")
						return nil
					}
					return printJSONOrTable(p)
				}
				loaded, skipped, err := c.Registry.LoadDir(ctx, dir, trace)
				if err != nil {
					return err
				}
				fmt.Printf("loaded %d, skipped %d\n", loaded, skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "policy JSON file")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of policy JSON files")
	return cmd
}

func policyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policy versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				items, err := c.Registry.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Version", "Active", "Summary"})
				for _, p := range items {
					active := ""
					if p.IsActive {
						active = "yes"
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Version, active, p.Summary})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func policyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <policy-id>",
		Short: "Show one policy version with its tests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				p, err := c.Registry.Get(ctx, id)
				if err != nil {
					return err
				}
				tests, err := c.Registry.TestsFor(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"policy": p, "tests": tests})
			})
		},
	}
}

func policyActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <policy-id>",
		Short: "Activate a policy version (runs its tests first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				p, err := c.Registry.Activate(ctx, id, viper.GetString("trace-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func policyTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <policy-id>",
		Short: "Run a policy's test fixtures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				report, err := c.Registry.RunTests(ctx, id, viper.GetString("trace-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
}

func decisionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "decision", Short: "Decision records"}
	var n int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				items, err := c.Decisions.List(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&n, "n", 20, "number of decisions")
	cmd.AddCommand(list)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event ledger"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var entityType, action, source string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail ledger events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				events, err := c.Ledger.Recent(ctx, ledger.Filters{
					EntityType: entityType,
					Action:     action,
					Source:     source,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Entity", "EntityID", "Action", "Source"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.EntityType, e.EntityID, e.Action, e.Source})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().StringVar(&source, "source", "", "source filter")
	return cmd
}

func locksCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "locks", Short: "Write lock diagnostics"}
	cmd.AddCommand(locksListCmd())
	cmd.AddCommand(locksClearCmd())
	return cmd
}

func locksListCmd() *cobra.Command {
	var olderThan int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stale write locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q *writequeue.Queue) error {
				age := time.Duration(olderThan) * time.Second
				locks, err := q.StaleLocks(ctx, age)
				if err != nil {
					return err
				}
				return printJSONOrTable(locks)
			})
		},
	}
	cmd.Flags().IntVar(&olderThan, "older-than", 0, "seconds (default from config)")
	return cmd
}

func locksClearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Force-clear all write locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing without --force: clearing locks while a writer is alive is unsafe")
			}
			return withQueue(cmd.Context(), func(ctx context.Context, q *writequeue.Queue) error {
				n, err := q.ClearAllLocks(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("cleared %d lock(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm force clear")
	return cmd
}

func rollbackCmd() *cobra.Command {
	var toEventID int64
	var last int
	var dryRun, verbose bool
	var reason string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll domain state back by replaying the ledger in reverse",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (toEventID > 0) == (last > 0) {
				return fmt.Errorf("exactly one of --to or --last is required")
			}
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				eng := rollback.New(c.DB, c.Queue)
				out, err := eng.Run(ctx, rollback.Options{
					ToEventID: toEventID,
					Last:      last,
					DryRun:    dryRun,
					Verbose:   verbose,
					TraceID:   viper.GetString("trace-id"),
					Reason:    reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().Int64Var(&toEventID, "to", 0, "roll back to this event id")
	cmd.Flags().IntVar(&last, "last", 0, "roll back the n most recent events")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify without changing anything")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log every non-reverted step")
	cmd.Flags().StringVar(&reason, "reason", "", "why the rollback is applied")
	return cmd
}

func importCmd() *cobra.Command {
	var source, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a raw external data payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				id, err := c.ImportRaw(ctx, source, file, viper.GetString("trace-id"))
				if err != nil {
					return err
				}
				fmt.Println("imported", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "data source name")
	cmd.Flags().StringVar(&file, "file", "", "JSON payload file")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func transcriptCmd() *cobra.Command {
	var date, file string
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Save a coaching session transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				id, err := c.SaveTranscript(ctx, date, string(data), viper.GetString("trace-id"))
				if err != nil {
					return err
				}
				fmt.Println("saved", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&file, "file", "", "transcript text file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd.Context(), func(ctx context.Context, c *coach.Coach) error {
				handler, err := server.New(server.Config{
					Coach:    c,
					Rollback: rollback.New(c.DB, c.Queue),
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: os.Getenv("STRIDE_JWT_SECRET")},
				})
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
				fmt.Printf("Serving Stride API on http://%s%s\n", addr, basePath)
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

func buildCoach(workspace string) (*coach.Coach, func(), error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	queue := writequeue.New(conn)
	queue.TTL = cfg.IdempotencyTTL()
	queue.StaleAfter = cfg.StaleLockAge()
	return coach.New(conn, queue), func() { conn.Close() }, nil
}

func withCoach(ctx context.Context, fn func(context.Context, *coach.Coach) error) error {
	c, done, err := buildCoach(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer done()
	return fn(ctx, c)
}

func withQueue(ctx context.Context, fn func(context.Context, *writequeue.Queue) error) error {
	return withCoach(ctx, func(ctx context.Context, c *coach.Coach) error {
		return fn(ctx, c.Queue)
	})
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
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
