// Command commitcast posts git commits to a social network when they carry a
// release trigger. Run bare (usually from a git hook) it inspects the HEAD
// commit of the enclosing repository; "serve" runs the GitHub webhook
// receiver; "install-hook" wires the bare invocation into .git/hooks.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/commitcast/commitcast/internal/compose"
	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/dedupe"
	"github.com/commitcast/commitcast/internal/enrich"
	"github.com/commitcast/commitcast/internal/gitrepo"
	httpapi "github.com/commitcast/commitcast/internal/http"
	"github.com/commitcast/commitcast/internal/observability"
	"github.com/commitcast/commitcast/internal/publish"
	"github.com/commitcast/commitcast/internal/repo"
	"github.com/commitcast/commitcast/internal/services"
	"github.com/commitcast/commitcast/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	dryRun    bool
	hookName  string
	hookForce bool
)

func main() {
	defer func() {
		if rec := recover(); rec != nil {
			fmt.Fprintf(os.Stderr, "commitcast: unexpected failure: %v\n", rec)
			os.Exit(1)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "commitcast:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "commitcast",
		Short:   "Post release commits to Bluesky or Twitter",
		Version: version,
		RunE:    runLocal,
		// Skips exit 0; only real failures become errors.
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print the post instead of submitting it; never records the commit as posted")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the GitHub webhook receiver",
		RunE:  runServe,
	}

	hookCmd := &cobra.Command{
		Use:   "install-hook",
		Short: "Install a git hook that runs commitcast after each push",
		RunE:  runInstallHook,
	}
	hookCmd.Flags().StringVar(&hookName, "hook", "", "hook to install (default pre-push)")
	hookCmd.Flags().BoolVar(&hookForce, "force", false, "overwrite an existing hook")

	rootCmd.AddCommand(serveCmd, hookCmd)
	return rootCmd
}

// buildService assembles the pipeline shared by the CLI and server paths.
func buildService(ctx context.Context, cfg config.Config, store dedupe.Store, scopedKeys bool) *services.PublishService {
	var summarizer compose.Summarizer
	if cfg.AISummary && cfg.GeminiAPIKey != "" {
		s, err := enrich.NewGeminiSummarizer(ctx, cfg.GeminiAPIKey)
		if err != nil {
			// The summarizer is an enhancement; composition falls back to
			// the raw headline without it.
			log.Warn().Err(err).Msg("AI summarizer unavailable")
		} else {
			summarizer = s
		}
	}

	var publisher publish.Publisher
	switch {
	case dryRun || cfg.DryRun:
		publisher = publish.DryRun{Backend: cfg.Backend}
	case cfg.Backend == config.BackendTwitter:
		publisher = publish.NewTwitter(cfg.Twitter)
	default:
		publisher = publish.NewBluesky(cfg.Bluesky)
	}

	return &services.PublishService{
		Trigger:   cfg.Trigger,
		Store:     store,
		Publisher: publisher,
		Composer: &compose.Composer{
			Limit:      compose.BudgetFor(cfg.Backend),
			Summarizer: summarizer,
		},
		Enricher:   enrich.NewGitHubClient(cfg.GitHubToken),
		DryRun:     dryRun || cfg.DryRun,
		ScopedKeys: scopedKeys,
	}
}

// runLocal posts the HEAD commit of the enclosing repository. Intentional
// skips exit 0 so a failing trigger never breaks the git hook that invoked
// us.
func runLocal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	r, err := gitrepo.Open(cwd)
	if err != nil {
		return err
	}
	commit, err := r.HeadCommit()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store := dedupe.NewFileStore(r.DedupeFilePath())
	svc := buildService(ctx, cfg, store, false)

	out, err := svc.Run(ctx, commit)
	if err != nil {
		return err
	}
	if out.Status == services.StatusSkip {
		fmt.Printf("skip: %s\n", out.Reason)
		return nil
	}
	fmt.Printf("posted: %s\n", out.Receipt.URI)
	return nil
}

// runServe starts the webhook receiver with graceful shutdown on SIGINT or
// SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireWebhookSecret(); err != nil {
		return err
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open dedupe db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate dedupe db: %w", err)
	}

	svc := buildService(ctx, cfg, dedupe.NewGormStore(db), true)

	engine := gin.New()
	httpapi.RegisterRoutes(engine, svc, cfg)
	srv := httpapi.NewServer(engine, cfg)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// runInstallHook writes the hook script into the enclosing repository.
func runInstallHook(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	r, err := gitrepo.Open(cwd)
	if err != nil {
		return err
	}
	path, err := r.InstallHook(hookName, hookForce)
	if err != nil {
		return err
	}
	fmt.Printf("installed %s\n", path)
	return nil
}
