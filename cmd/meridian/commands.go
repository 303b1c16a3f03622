package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianidx/meridian/internal/app"
	"github.com/meridianidx/meridian/internal/config"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/storage"
	"github.com/meridianidx/meridian/pkg/types"
)

var (
	configFile  string
	dataDir     string
	storageType string

	allUniverses     bool
	minDate          string
	anomalyTolerance float64
	sameDayOrder     string

	queryDate   string
	querySource string
	buildsLimit int

	httpAddr string
	grpcAddr string
	gcTTL    time.Duration

	rootCmd = &cobra.Command{
		Use:           "meridian",
		Short:         "Point-in-time index membership builder",
		Long:          "meridian turns dated index add/remove events into daily membership and interval tables, publishes them atomically, and answers point-in-time membership queries.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rebuildCmd = &cobra.Command{
		Use:   "rebuild [universe...]",
		Short: "Replay all events of a universe and publish fresh artifacts",
		RunE:  runRebuild,
	}
	updateCmd = &cobra.Command{
		Use:   "update [universe...]",
		Short: "Apply events newer than the last build's watermark",
		RunE:  runUpdate,
	}
	membersCmd = &cobra.Command{
		Use:   "members <universe>",
		Short: "Print the members of a universe on a date",
		Args:  cobra.ExactArgs(1),
		RunE:  runMembers,
	}
	historyCmd = &cobra.Command{
		Use:   "history <universe> <entity>",
		Short: "Print every membership interval of an entity",
		Args:  cobra.ExactArgs(2),
		RunE:  runHistory,
	}
	buildsCmd = &cobra.Command{
		Use:   "builds <universe>",
		Short: "Print the build log of a universe, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuilds,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query API, /metrics and the gRPC health service",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Delete superseded artifacts older than the GC TTL",
		Args:  cobra.NoArgs,
		RunE:  runGC,
	}
	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the manifest with object storage and report drift",
		Args:  cobra.NoArgs,
		RunE:  runReconcile,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "meridian version %s (commit: %s)\n", version, commit)
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	pf.StringVar(&dataDir, "data-dir", "", "Base directory for the manifest, staging and cache")
	pf.StringVar(&storageType, "storage", "", "Storage type: local, s3")

	for _, c := range []*cobra.Command{rebuildCmd, updateCmd} {
		c.Flags().BoolVar(&allUniverses, "all", false, "Build every configured universe")
		c.Flags().Float64Var(&anomalyTolerance, "anomaly-tolerance", 0, "Largest accepted anomalies/events ratio (negative disables)")
		c.Flags().StringVar(&sameDayOrder, "same-day-order", "", "remove_first or add_first")
	}
	rebuildCmd.Flags().StringVar(&minDate, "min-date", "", "Ignore events before this date (YYYY-MM-DD)")

	membersCmd.Flags().StringVar(&queryDate, "date", "", "Date to query (YYYY-MM-DD)")
	membersCmd.Flags().StringVar(&querySource, "source", "intervals", "Answer from intervals or daily")
	membersCmd.MarkFlagRequired("date")
	buildsCmd.Flags().IntVar(&buildsLimit, "limit", 20, "Maximum builds to print (0 for all)")

	serveCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP query API address")
	serveCmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health service address (empty string keeps the configured one)")
	gcCmd.Flags().DurationVar(&gcTTL, "ttl", 0, "Keep superseded artifacts younger than this")

	rootCmd.AddCommand(rebuildCmd, updateCmd, membersCmd, historyCmd, buildsCmd, serveCmd, gcCmd, reconcileCmd, versionCmd)
}

// loadConfig loads configuration from file, environment, and command line
// flags, in increasing priority.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}
	flags := cmd.Flags()
	if flags.Changed("min-date") {
		cfg.Build.MinDate = minDate
	}
	if flags.Changed("anomaly-tolerance") {
		cfg.Build.AnomalyTolerance = anomalyTolerance
	}
	if flags.Changed("same-day-order") {
		cfg.Build.SameDayOrder = sameDayOrder
	}
	if flags.Changed("http-addr") {
		cfg.Serve.HTTPAddr = httpAddr
	}
	if flags.Changed("grpc-addr") {
		cfg.Serve.GRPCAddr = grpcAddr
	}
	if flags.Changed("ttl") {
		cfg.GC.TTL = gcTTL
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg)
}

// signalContext is cancelled on SIGINT/SIGTERM so a build stops before
// publishing.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// targetUniverses resolves the universes named on the command line or, with
// --all, every configured one.
func targetUniverses(cfg *config.Config, args []string) ([]string, error) {
	if allUniverses {
		if len(args) > 0 {
			return nil, fmt.Errorf("--all cannot be combined with universe arguments")
		}
		names := make([]string, 0, len(cfg.Universes))
		for _, u := range cfg.Universes {
			names = append(names, u.Name)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no universes configured")
		}
		return names, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("name at least one universe or pass --all")
	}
	for _, name := range args {
		if !cfg.HasUniverse(name) {
			return nil, fmt.Errorf("universe %s is not configured", name)
		}
	}
	return args, nil
}

type buildFunc func(ctx context.Context, universe string) (*types.BuildSummary, error)

// buildEach builds each universe in turn. A failed universe does not stop the
// others; the joined error carries every failure.
func buildEach(cmd *cobra.Command, args []string, build func(a *app.App) (buildFunc, error)) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	universes, err := targetUniverses(a.Config(), args)
	if err != nil {
		return err
	}
	fn, err := build(a)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var errs []error
	for _, universe := range universes {
		summary, err := fn(ctx, universe)
		if err != nil {
			log.Printf("[WARN] meridian: build failed universe=%s: %v", universe, err)
			errs = append(errs, fmt.Errorf("%s: %w", universe, err))
			continue
		}
		if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	return buildEach(cmd, args, func(a *app.App) (buildFunc, error) {
		floor, err := a.Config().MinDate()
		if err != nil {
			return nil, err
		}
		runner, err := a.Runner()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, universe string) (*types.BuildSummary, error) {
			return runner.Rebuild(ctx, universe, floor)
		}, nil
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return buildEach(cmd, args, func(a *app.App) (buildFunc, error) {
		runner, err := a.Runner()
		if err != nil {
			return nil, err
		}
		return runner.Update, nil
	})
}

func runMembers(cmd *cobra.Command, args []string) error {
	date, err := types.ParseDate(queryDate)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	reader := a.Reader()
	switch querySource {
	case "intervals":
		snap, err := reader.MembersAsOf(cmd.Context(), args[0], date)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), snap)
	case "daily":
		snap, err := reader.DailySnapshot(cmd.Context(), args[0], date)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), snap)
	default:
		return fmt.Errorf("invalid --source %q (must be intervals or daily)", querySource)
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	hist, err := a.Reader().EntityHistory(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), hist)
}

func runBuilds(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	builds, err := a.Reader().Builds(cmd.Context(), args[0], buildsLimit)
	if err != nil {
		return err
	}
	summaries := make([]types.BuildSummary, 0, len(builds))
	for _, b := range builds {
		summaries = append(summaries, b.Summary)
	}
	return writeJSON(cmd.OutOrStdout(), summaries)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	printBanner(a.Config())
	return a.Serve(cmd.Context())
}

func runGC(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	gc := a.GarbageCollector()
	log.Printf("meridian: gc started ttl=%s", gc.TTL())
	result, err := gc.Collect(cmd.Context())
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		log.Printf("[WARN] meridian: gc: %s", e)
	}
	evicted, err := a.PruneCache(cmd.Context())
	if err != nil {
		log.Printf("[WARN] meridian: gc: cache eviction failed: %v", err)
	}
	log.Printf("meridian: gc deleted artifacts=%d objects=%d errors=%d evicted=%d",
		len(result.DeletedArtifacts), len(result.DeletedObjects), len(result.Errors), evicted)
	return writeJSON(cmd.OutOrStdout(), result)
}

// reconcileIssuesError reports that reconciliation found drift.
type reconcileIssuesError struct {
	report *manifest.ReconciliationReport
}

func (e *reconcileIssuesError) Error() string {
	return fmt.Sprintf("reconciliation found %d dangling entries and %d orphaned objects",
		len(e.report.DanglingEntries), len(e.report.OrphanedObjects))
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := manifest.Reconcile(cmd.Context(), a.Catalog(), a.Storage(), storage.BuildsRoot)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.HasIssues() {
		return &reconcileIssuesError{report: report}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printBanner prints the startup banner with a configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      MERIDIAN                             ║")
	log.Printf("║        Point-in-time index membership history             ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Version:   %s (%s)", version, commit)
	log.Printf("  Data Dir:  %s", cfg.DataDir)
	log.Printf("  Storage:   %s", cfg.Storage.Type)
	log.Printf("  Universes: %d", len(cfg.Universes))
	log.Printf("  HTTP:      %s", cfg.Serve.HTTPAddr)
	if cfg.Serve.GRPCAddr != "" {
		log.Printf("  gRPC:      %s", cfg.Serve.GRPCAddr)
	}
	log.Printf("")
}
