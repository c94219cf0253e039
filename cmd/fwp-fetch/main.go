package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/R005ter/fwp"
	"github.com/R005ter/fwp/internal/egress"
	"github.com/R005ter/fwp/internal/runner"
	_ "github.com/R005ter/fwp/provider/youtube"
)

// fwp-fetch is a one-shot acquisition to a local directory, working the
// same strategy ladder as the server but without the registry: useful
// for diagnosing blocks against a particular route or identity.
func main() {
	app := &cli.App{
		Name:  "fwp-fetch",
		Usage: "download a single video",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Value: ".",
				Usage: "save downloaded video to `DIR`",
			},
			&cli.StringFlag{
				Name:  "cookies",
				Usage: "Netscape cookie jar `FILE` to attach where the identity allows",
			},
			&cli.StringSliceFlag{
				Name:  "proxy",
				Usage: "proxy egress route `URL` (repeatable)",
			},
		},
		Action:          fetch,
		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func fetch(c *cli.Context) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.RedirectStdLog(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if c.NArg() != 1 {
		return fmt.Errorf("exactly one video URL required")
	}

	match, err := fwp.DefaultProviderRegistry.Match(c.Args().First())
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}
	sourceURL := match.Source.URL()
	logger.Sugar().Infow("matched source", "provider", match.ProviderName, "url", sourceURL)

	var jar []byte
	if path := c.String("cookies"); path != "" {
		if jar, err = os.ReadFile(path); err != nil {
			return err
		}
	}

	var routes []egress.RouteDescriptor
	for _, spec := range c.StringSlice("proxy") {
		route, err := egress.ParseRoute(spec)
		if err != nil {
			return err
		}
		routes = append(routes, route)
	}

	run, err := runner.New()
	if err != nil {
		return err
	}

	outputPath := filepath.Join(c.String("target"), uuid.NewString()[:8]+".mp4")
	bar := progressbar.Default(100, "downloading")

	var lastErr error
	for i, attempt := range egress.BuildLadder(routes, len(jar) > 0) {
		logger.Sugar().Infow("attempting", "rung", i, "strategy", attempt.String())
		err := run.Run(ctx, sourceURL, attempt, runner.RunOptions{
			OutputPath: outputPath,
			CookieJar:  jar,
			OnProgress: func(percent float64) {
				_ = bar.Set(int(percent))
			},
		})
		if err == nil {
			_ = bar.Finish()
			fmt.Printf("\nsaved to %s\n", outputPath)
			return nil
		}
		if !fwp.ClassOf(err).Retryable() {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("all strategies exhausted: %w", lastErr)
}
