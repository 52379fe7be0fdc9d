package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/curation/internal/config"
	"github.com/ehr/curation/internal/domain/cleananswer"
	"github.com/ehr/curation/internal/domain/exclusion"
	"github.com/ehr/curation/internal/domain/observation"
	"github.com/ehr/curation/internal/domain/obsperiod"
	"github.com/ehr/curation/internal/domain/participant"
	"github.com/ehr/curation/internal/domain/runledger"
	"github.com/ehr/curation/internal/domain/survey"
	"github.com/ehr/curation/internal/pipeline"
	"github.com/ehr/curation/internal/platform/auth"
	"github.com/ehr/curation/internal/platform/db"
	"github.com/ehr/curation/internal/platform/logging"
	"github.com/ehr/curation/internal/platform/metrics"
	"github.com/ehr/curation/internal/platform/middleware"
	"github.com/ehr/curation/internal/platform/runlock"
)

const version = "0.1.0"

// defaultSchema holds the curated and upstream tables unless --schema says otherwise.
const defaultSchema = "public"

// Exit codes.
const (
	exitFailure     = 1
	exitConfigError = 2
	exitLocked      = 3
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "curation-etl",
		Short:         "Survey curation and observation period pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(codesCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case pipeline.IsConfigError(err):
		return exitConfigError
	case errors.Is(err, runlock.ErrRunInProgress):
		return exitLocked
	}
	return exitFailure
}

// app holds the process-wide dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	rules   config.Rules
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	metrics *metrics.Metrics

	registry     *exclusion.Registry
	selector     *participant.Selector
	store        *cleananswer.Store
	observations *observation.Service
	periods      *obsperiod.Engine
	ledger       *runledger.Ledger
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Debug().Msg("connected to database")

	return &app{
		cfg:     cfg,
		rules:   rules,
		logger:  logger,
		pool:    pool,
		metrics: metrics.New(),

		registry: exclusion.NewRegistry(exclusion.NewRepoPG(pool), exclusion.NewVocabularyRepoPG(pool), logger),
		selector: participant.NewSelector(participant.NewRepoPG(pool, rules), rules, logger),
		store:    cleananswer.NewStore(cleananswer.NewRepoPG(pool), rules, logger),
		observations: observation.NewService(
			observation.NewRepoPG(pool),
			observation.NewEventRepoPG(pool),
			observation.NewConceptMapRepoPG(pool),
			observation.NewSynthesizer(rules),
			logger,
		),
		periods: obsperiod.NewEngine(obsperiod.NewRepoPG(pool), logger),
		ledger:  runledger.NewLedger(runledger.NewRunRepoPG(pool), runledger.NewRunCodeRepoPG(pool), logger),
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ── run ──

type runFlags struct {
	cutoff                 string
	origin                 string
	participantFile        string
	excludeParticipantFile string
	includeSurveys         []string
	excludeSurveys         []string
	skipSurveys            bool
	skipMeasurements       bool
	vocabularyVersion      string
	batchSize              int
	workers                int
}

// options turns flags into pipeline options, falling back to cfg for the
// values an operator normally sets in the environment.
func (f runFlags) options(cfg *config.Config) (pipeline.Options, error) {
	cutoff, err := pipeline.ParseCutoff(f.cutoff)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		Cutoff:                 cutoff,
		Origin:                 f.origin,
		ParticipantFile:        f.participantFile,
		ExcludeParticipantFile: f.excludeParticipantFile,
		IncludeSurveys:         f.includeSurveys,
		ExcludeSurveys:         f.excludeSurveys,
		SkipSurveys:            f.skipSurveys,
		SkipMeasurements:       f.skipMeasurements,
		VocabularyVersion:      f.vocabularyVersion,
		BatchSize:              f.batchSize,
		Workers:                f.workers,
	}
	if opts.VocabularyVersion == "" {
		opts.VocabularyVersion = cfg.VocabularyVersion
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if opts.Workers == 0 {
		opts.Workers = cfg.Workers
	}
	return opts, opts.Validate()
}

func runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the curation pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts, err := f.options(a.cfg)
			if err != nil {
				return err
			}

			locker, closeLocker, err := runlock.New(a.cfg.RedisURL)
			if err != nil {
				return err
			}
			defer closeLocker()

			p := pipeline.New(pipeline.Deps{
				Selector:     a.selector,
				Registry:     a.registry,
				Responses:    survey.NewResponseRepoPG(a.pool),
				Store:        a.store,
				Observations: a.observations,
				Periods:      a.periods,
				Ledger:       a.ledger,
				Locker:       locker,
				Metrics:      a.metrics,
			}, a.rules, pipeline.Settings{
				LockTTL:        a.cfg.RunLockTTL,
				PushgatewayURL: a.cfg.PushgatewayURL,
			}, a.logger)

			summary, err := p.Run(ctx, opts)
			if err != nil {
				if summary != nil && summary.RunID != uuid.Nil {
					a.logger.Error().Err(err).Str("run_id", summary.RunID.String()).Msg("run failed; ledger row left open")
				}
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.cutoff, "cutoff", "", "Ignore data authored on or after this date (YYYY-MM-DD)")
	fl.StringVar(&f.origin, "origin", "", "Restrict to participants from this origin")
	fl.StringVar(&f.participantFile, "participant-file", "", "File of participant ids to process")
	fl.StringVar(&f.excludeParticipantFile, "exclude-participant-file", "", "File of participant ids to skip")
	fl.StringSliceVar(&f.includeSurveys, "include-surveys", nil, "Only resolve these survey modules")
	fl.StringSliceVar(&f.excludeSurveys, "exclude-surveys", nil, "Do not resolve these survey modules")
	fl.BoolVar(&f.skipSurveys, "skip-surveys", false, "Skip answer resolution and survey observations")
	fl.BoolVar(&f.skipMeasurements, "skip-measurements", false, "Skip physical measurements")
	fl.StringVar(&f.vocabularyVersion, "vocabulary-version", "", "Vocabulary version recorded on the run (default VOCABULARY_VERSION)")
	fl.IntVar(&f.batchSize, "batch-size", 0, "Participants per chunk (default BATCH_SIZE)")
	fl.IntVar(&f.workers, "workers", 0, "Chunks processed concurrently (default WORKERS)")
	return cmd
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "participants\t%d\n", s.Participants)
	fmt.Fprintf(tw, "chunks\t%d\n", s.Chunks)
	fmt.Fprintf(tw, "clean answers\t%d\n", s.CleanAnswers)
	fmt.Fprintf(tw, "suppressed\t%d\n", s.Suppressed)
	fmt.Fprintf(tw, "observations\t%d\n", s.Observations)
	fmt.Fprintf(tw, "measurements\t%d\n", s.Measurements)
	fmt.Fprintf(tw, "observation periods\t%d\n", s.Periods)
	fmt.Fprintf(tw, "codes excluded/included\t%d/%d\n", s.ExcludedCodes, s.IncludedCodes)
	for kind, n := range s.Anomalies {
		fmt.Fprintf(tw, "anomaly %s\t%d\n", kind, n)
	}
	tw.Flush()
}

// ── codes ──

func codesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Manage the excluded code registry",
	}

	var codeType string
	addCmd := &cobra.Command{
		Use:   "add CODE",
		Short: "Exclude a module, question or answer code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				row, err := a.registry.Add(ctx, args[0], codeType)
				if err != nil {
					return err
				}
				if row == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s is already excluded\n", strings.ToUpper(codeType), args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "excluded %s %s\n", row.CodeType, row.CodeValue)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&codeType, "type", "", "Code type: module, question or answer")
	_ = addCmd.MarkFlagRequired("type")

	var removeType string
	removeCmd := &cobra.Command{
		Use:   "remove CODE",
		Short: "Remove a code from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.registry.Remove(ctx, args[0], removeType)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d row(s)\n", n)
				return nil
			})
		},
	}
	removeCmd.Flags().StringVar(&removeType, "type", "", "Code type: module, question or answer")
	_ = removeCmd.MarkFlagRequired("type")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List excluded codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				items, err := a.registry.List(ctx)
				if err != nil {
					return err
				}
				printCodes(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}

	cmd.AddCommand(addCmd, removeCmd, listCmd)
	return cmd
}

func printCodes(w io.Writer, items []*exclusion.ExcludedCode) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCODE\tADDED")
	for _, c := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.CodeType, c.CodeValue, c.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
}

// ── runs ──

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}

	var limit, offset int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				runs, total, err := a.ledger.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d run(s)\n", len(runs), total)
				return nil
			})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	listCmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run and the codes recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			return withApp(func(ctx context.Context, a *app) error {
				run, err := a.ledger.Get(ctx, id)
				if err != nil {
					return err
				}
				codes, err := a.ledger.Codes(ctx, id)
				if err != nil {
					return err
				}
				printRun(cmd.OutOrStdout(), run, codes)
				return nil
			})
		},
	}

	unfinishedCmd := &cobra.Command{
		Use:   "unfinished",
		Short: "List runs that never completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				runs, err := a.ledger.ListUnfinished(ctx)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, showCmd, unfinishedCmd)
	return cmd
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return "-"
	}
	return t.Format(layout)
}

func printRuns(w io.Writer, runs []*runledger.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tENDED\tCUTOFF\tVOCABULARY")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Format(time.RFC3339),
			formatTime(r.EndedAt, time.RFC3339),
			formatTime(r.Cutoff, "2006-01-02"),
			r.VocabularyVersion,
		)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *runledger.Run, codes []*runledger.RunCode) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", r.ID)
	fmt.Fprintf(tw, "started\t%s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "ended\t%s\n", formatTime(r.EndedAt, time.RFC3339))
	fmt.Fprintf(tw, "cutoff\t%s\n", formatTime(r.Cutoff, "2006-01-02"))
	fmt.Fprintf(tw, "vocabulary\t%s\n", r.VocabularyVersion)
	fmt.Fprintf(tw, "filters\t%s\n", string(r.FilterOptions))
	for _, c := range codes {
		state := "excluded"
		if c.Included {
			state = "included"
		}
		fmt.Fprintf(tw, "%s\t%s %s\n", state, c.CodeType, c.CodeValue)
	}
	tw.Flush()
}

// withApp builds the app, runs fn under a signal-aware context and closes
// the pool afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// ── migrate ──

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.EnsureSchema(ctx, pool, schema, ""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrations(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrations(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.Drifted {
				status = "drifted"
			}
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// ── serve ──

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the operator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newServer wires the operator routes. It is separate from runServer so the
// route table can be tested without a database.
// apiAuth picks JWT validation when a key source is configured. Development
// falls back to an admin identity; any other environment refuses to serve.
func apiAuth(cfg *config.Config) (echo.MiddlewareFunc, error) {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if jwtCfg.Enabled() {
		return auth.JWTMiddleware(jwtCfg), nil
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(), nil
	}
	return nil, &pipeline.ConfigError{Msg: "AUTH_SIGNING_KEY or AUTH_JWKS_URL is required outside development"}
}

func newServer(a *app, health echo.HandlerFunc, authMW echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))

	e.GET("/health", health)
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"version": version})
	})

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(30*time.Second), authMW)
	exclusion.NewHandler(a.registry).RegisterRoutes(apiV1)
	runledger.NewHandler(a.ledger).RegisterRoutes(apiV1)
	cleananswer.NewHandler(a.store).RegisterRoutes(apiV1)
	obsperiod.NewHandler(a.periods).RegisterRoutes(apiV1)
	return e
}

func runServer() error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	authMW, err := apiAuth(a.cfg)
	if err != nil {
		return err
	}
	e := newServer(a, db.HealthHandler(a.pool, db.NewMigrator(a.pool, a.cfg.MigrationsDir), defaultSchema), authMW)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
