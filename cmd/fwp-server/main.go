package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/R005ter/fwp"
	"github.com/R005ter/fwp/database"
	"github.com/R005ter/fwp/internal/api"
	"github.com/R005ter/fwp/internal/blob"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/egress"
	"github.com/R005ter/fwp/internal/jobs"
	"github.com/R005ter/fwp/internal/registry"
	"github.com/R005ter/fwp/internal/runner"
	_ "github.com/R005ter/fwp/provider/youtube"
)

func main() {
	app := &cli.App{
		Name:  "fwp-server",
		Usage: "shared video acquisition service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   ":5000",
				Usage:   "listen on `ADDR`",
				EnvVars: []string{"FWP_LISTEN"},
			},
			&cli.StringFlag{
				Name:    "database",
				Value:   "fwp.sqlite3",
				Usage:   "sqlite database `PATH`",
				EnvVars: []string{"FWP_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "videos-dir",
				Value:   "videos",
				Usage:   "local `DIR` downloaded videos land in",
				EnvVars: []string{"FWP_VIDEOS_DIR"},
			},
			&cli.StringFlag{
				Name:    "default-cookies",
				Usage:   "process-wide fallback cookie jar `FILE`",
				EnvVars: []string{"FWP_DEFAULT_COOKIES"},
			},
			&cli.StringSliceFlag{
				Name:    "proxy",
				Usage:   "proxy egress route `URL` (repeatable, tried after the direct route)",
				EnvVars: []string{"FWP_PROXIES"},
			},
			&cli.StringFlag{
				Name:     "tokens-file",
				Usage:    "`FILE` of token=tenant lines for API auth",
				Required: true,
				EnvVars:  []string{"FWP_TOKENS_FILE"},
			},
			&cli.BoolFlag{
				Name:    "production",
				Usage:   "production logging (JSON, info level)",
				EnvVars: []string{"FWP_PRODUCTION"},
			},
			&cli.StringFlag{Name: "r2-account-id", EnvVars: []string{"R2_ACCOUNT_ID"}},
			&cli.StringFlag{Name: "r2-access-key-id", EnvVars: []string{"R2_ACCESS_KEY_ID"}},
			&cli.StringFlag{Name: "r2-secret-access-key", EnvVars: []string{"R2_SECRET_ACCESS_KEY"}},
			&cli.StringFlag{Name: "r2-bucket", Value: "fwp-videos", EnvVars: []string{"R2_BUCKET_NAME"}},
			&cli.StringFlag{Name: "r2-endpoint", EnvVars: []string{"R2_ENDPOINT_URL"}},
		},
		Action:          run,
		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	logger, err := newLogger(c.Bool("production"))
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.RedirectStdLog(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = fwp.WithLogger(ctx, logger)

	db, err := database.NewDatabase(c.String("database"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	media, err := blob.NewLocalStore(c.String("videos-dir"))
	if err != nil {
		return err
	}

	var remote blob.Store
	r2 := blob.R2Config{
		AccountID:       c.String("r2-account-id"),
		AccessKeyID:     c.String("r2-access-key-id"),
		SecretAccessKey: c.String("r2-secret-access-key"),
		Bucket:          c.String("r2-bucket"),
		EndpointURL:     c.String("r2-endpoint"),
	}
	if r2.Enabled() {
		if remote, err = blob.NewR2Store(r2); err != nil {
			return fmt.Errorf("failed to initialize blob store: %w", err)
		}
		logger.Sugar().Infow("blob store enabled", "bucket", r2.Bucket)
	} else {
		logger.Sugar().Info("blob store not configured, serving from local disk")
	}

	creds, err := credential.NewStore(db, c.String("default-cookies"))
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	run, err := runner.New()
	if err != nil {
		// Serve anyway; health reports the tool missing and acquisitions
		// fail classified instead of the process refusing to start.
		logger.Sugar().Warnw("extraction tool not ready", "error", err)
		run = runner.NewWithPaths("yt-dlp", "")
	}

	var routes []egress.RouteDescriptor
	for _, spec := range c.StringSlice("proxy") {
		route, err := egress.ParseRoute(spec)
		if err != nil {
			return err
		}
		routes = append(routes, route)
	}

	tokensText, err := os.ReadFile(c.String("tokens-file"))
	if err != nil {
		return fmt.Errorf("failed to read tokens file: %w", err)
	}

	reg := registry.New(db, media, remote)
	jobRegistry := jobs.NewRegistry()
	orchestrator := jobs.NewOrchestrator(ctx, jobs.Config{
		Registry:    reg,
		Credentials: creds,
		Runner:      run,
		Jobs:        jobRegistry,
		Media:       media,
		Remote:      remote,
		Routes:      routes,
	})
	defer orchestrator.Close()
	go logJobEvents(orchestrator, logger.Sugar())

	server := api.NewServer(api.Config{
		Orchestrator: orchestrator,
		Jobs:         jobRegistry,
		Registry:     reg,
		Credentials:  creds,
		Runner:       run,
		Media:        media,
		Remote:       remote,
		Resolver:     &api.TokenMapResolver{DB: db, Tokens: api.ParseTokenMap(string(tokensText))},
	})

	httpServer := &http.Server{
		Addr:    c.String("listen"),
		Handler: server.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Sugar().Infow("listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func logJobEvents(orchestrator *jobs.Orchestrator, log *zap.SugaredLogger) {
	sub, err := orchestrator.Subscribe()
	if err != nil {
		return
	}
	defer sub.Close()
	for event := range sub.Receive() {
		switch e := event.(type) {
		case jobs.JobCompleted:
			log.Infow("download complete", "job_id", e.Job().ID, "filename", e.Filename)
		case jobs.JobFailed:
			log.Warnw("download failed", "job_id", e.Job().ID, "error", e.Err)
		}
	}
}
