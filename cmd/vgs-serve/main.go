// Command vgs-serve runs the browser UI and the job workers.
//
// Usage:
//
//	vgs-serve [options]
//
// Uploaded reads are assembled and nextstrain builds run in the background;
// the reference catalog is reloaded when its tables change on disk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kzlab/vgs/auth"
	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configOpts cli.ConfigOptions
	addr       string
	token      string
	open       bool
	skipCheck  bool
)

var rootCmd = &cobra.Command{
	Use:   "vgs-serve [options]",
	Short: "Serve the viral genome browser UI",
	Long: `Serve the upload, nextstrain and embedding pages and run submitted jobs.

Access requires a token when one is given with --token, VGS_TOKEN, the
server token_file or ~/.vgs_token. --open ignores any configured token.

Examples:

  # Serve with the settings in vgs.yaml
  vgs-serve

  # Listen on all interfaces with an explicit token
  vgs-serve --addr 0.0.0.0:8501 --token s3cret`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr from the config)")
	rootCmd.Flags().StringVar(&token, "token", "", "access token clients must present")
	rootCmd.Flags().BoolVar(&open, "open", false, "serve without an access token")
	rootCmd.Flags().BoolVar(&skipCheck, "skip-tool-check", false, "start even when pipeline tools are missing")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configOpts.Load()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	env, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	tools := append(env.Pipeline.RequiredTools(), "augur")
	if err := env.Exec.Check(tools...); err != nil {
		if !skipCheck {
			return fmt.Errorf("%w (use --skip-tool-check to start anyway)", err)
		}
		logger.Warn("pipeline tools missing", zap.Error(err))
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithSketchParams(env.SketchParams()),
		server.WithMaxUpload(cfg.Server.MaxUploadMB << 20),
	}
	if !open {
		tok, err := auth.AccessToken(token, cfg.Server.TokenFile)
		if err != nil {
			return fmt.Errorf("getting access token: %w", err)
		}
		if tok == nil {
			logger.Warn("no access token configured, serving without authentication")
		} else {
			logger.Info("access token required", zap.String("source", tok.Source))
			opts = append(opts, server.WithToken(tok))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := env.StartJobs(ctx)
	if err != nil {
		return err
	}
	srv := server.New(env.Pipeline, svc, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return env.Catalog.Watch(ctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
