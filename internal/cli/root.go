// Package cli defines the meshrsa command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/meshrsa/internal/adapters/http/api"
	"github.com/okian/meshrsa/internal/app"
	"github.com/okian/meshrsa/internal/config"
	"github.com/okian/meshrsa/pkg/logger"
	"github.com/okian/meshrsa/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Dependencies are shared by every command. Config is filled in before a
// pipeline command runs.
type Dependencies struct {
	Config *config.Config

	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "meshrsa",
		Short:         "Searchlight RSA over MEG source estimates",
		Long:          "Loads per-trial source estimates into per-subject tensors and fits a lagged dynamic GLM of model RDMs at every vertex and timepoint.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&deps.configPath, "config", "c", "", "YAML config file (default $"+config.EnvConfig+")")
	rootCmd.PersistentFlags().StringVar(&deps.logLevel, "log-level", "", "override log_level")

	rootCmd.AddCommand(NewLoadCmd(deps))
	rootCmd.AddCommand(NewFitCmd(deps))
	rootCmd.AddCommand(NewRunCmd(deps))
	rootCmd.AddCommand(NewSynthCmd(deps))

	return rootCmd
}

// loadConfig resolves the layered config and applies the log level.
func (d *Dependencies) loadConfig(ctx context.Context) error {
	cfg, err := config.Load(ctx, d.configPath)
	if err != nil {
		return err
	}
	if d.logLevel != "" {
		cfg.LogLevel = d.logLevel
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	d.Config = cfg
	return nil
}

// withService loads the config, starts a service and the optional status
// endpoint, runs fn and tears everything down again. The metrics textfile is
// written even when fn fails.
func withService(cmd *cobra.Command, deps *Dependencies, fn func(ctx context.Context, svc *app.Service) error) (err error) {
	ctx := cmd.Context()
	if err := deps.loadConfig(ctx); err != nil {
		return err
	}
	cfg := deps.Config
	log := logger.Get()
	metrics.Init(metrics.WithConstLabels(map[string]string{"analysis": cfg.AnalysisName}))

	if cfg.MetricsTextfile != "" {
		defer func() {
			if werr := metrics.WriteTextfile(cfg.MetricsTextfile); werr != nil {
				log.Error(ctx, "metrics textfile write failed", logger.Error(werr))
				if err == nil {
					err = werr
				}
			}
		}()
	}

	svc := app.New(cfg,
		app.WithLogger(log.Named("pipeline")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithPrompt(cmd.InOrStdin(), cmd.ErrOrStderr()),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := svc.Stop(stopCtx); serr != nil && err == nil {
			err = serr
		}
	}()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		api.NewServer(svc).Register(ctx, mux)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
		go func() {
			log.Info(ctx, "serving status", logger.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "status server failed", logger.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(ctx, "status server shutdown failed", logger.Error(err))
			}
		}()
	}
	return fn(ctx, svc)
}

func printLoad(w io.Writer, r *app.LoadReport) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "load %s: %d loaded, %d skipped, %d failed, %d missing trials\n",
		r.RunID, r.Loaded, r.Skipped, r.Failed, r.Missing)
	printErrors(w, r.Errors)
}

func printFit(w io.Writer, r *app.FitReport) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "fit %s: %d fitted, %d failed, %d files, %d of %d fits ill-conditioned\n",
		r.RunID, r.Fitted, r.Failed, r.Files, r.IllConditioned, r.Fits)
	for _, unit := range slices.Sorted(maps.Keys(r.Lags)) {
		if l := r.Lags[unit]; l.Adjusted {
			fmt.Fprintf(w, "  %s: lag %s\n", unit, l)
		}
	}
	printErrors(w, r.Errors)
}

func printErrors(w io.Writer, errs map[string]error) {
	for _, unit := range slices.Sorted(maps.Keys(errs)) {
		fmt.Fprintf(w, "  %s: %v\n", unit, errs[unit])
	}
}
