package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/cache"
	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
	"github.com/fyrsmithlabs/ratlr/internal/logging"
	"github.com/fyrsmithlabs/ratlr/internal/pipeline"
	"github.com/fyrsmithlabs/ratlr/internal/telemetry"
)

type evalOptions struct {
	configPath  string
	outputPath  string
	metricsAddr string
	watch       bool
}

// report is the JSON document written by eval.
type report struct {
	RunID      string                `json:"run_id"`
	Links      []knowledge.TraceLink `json:"links"`
	Tasks      int                   `json:"tasks"`
	Linked     int                   `json:"linked_pairs"`
	Failures   int                   `json:"failures"`
	CacheHits  int64                 `json:"cache_hits"`
	DurationMS int64                 `json:"duration_ms"`
	Error      string                `json:"error,omitempty"`
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Recover trace links for one run configuration",
		Long: `Run the pipeline described by a configuration file and print the
recovered trace links as JSON.

Settings can be overridden with RATLR_-prefixed environment variables,
e.g. RATLR_CONCURRENCY__WORKERS=16.

Examples:
  ratlr eval --config configs/dronology.yaml
  ratlr eval --config run.json --output links.json
  ratlr eval --config run.toml --metrics-addr :9464
  ratlr eval --config run.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.watch {
				return watchEval(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			}
			return runEval(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the run configuration (YAML, JSON or TOML)")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-run whenever the configuration or a corpus changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run, e.g. :9464")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runEval(ctx context.Context, opts evalOptions, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromRunConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

	logCfg, err := logging.FromRunConfig(cfg.Logging, cfg.Telemetry.Enabled)
	if err != nil {
		return err
	}
	logger, err := logging.New(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()
	if err := tel.Degraded(); err != nil {
		logger.Warn("telemetry degraded", zap.Error(err))
	}

	if opts.metricsAddr != "" {
		ms, err := startMetricsServer(opts.metricsAddr, logger)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = ms.Close(context.WithoutCancel(ctx)) }()
	}

	c, err := cache.Open(cfg.Cache, cfg.CacheDir, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.Warn("closing cache", zap.Error(cerr))
		}
	}()

	p, err := pipeline.New(cfg, pipeline.Dependencies{Cache: c}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	res, runErr := p.Run(ctx)
	// Partial results are still reported; any other failure has none.
	if runErr != nil && !errors.Is(runErr, pipeline.ErrTasksFailed) {
		return runErr
	}

	rep := report{
		RunID:      res.RunID,
		Links:      res.Links,
		Tasks:      res.Tasks,
		Linked:     res.Linked,
		Failures:   res.Failures,
		CacheHits:  res.CacheHits,
		DurationMS: res.Duration.Milliseconds(),
	}
	if rep.Links == nil {
		rep.Links = []knowledge.TraceLink{}
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	if err := writeReport(rep, opts.outputPath, stdout); err != nil {
		return err
	}
	return runErr
}

func writeReport(rep report, path string, stdout io.Writer) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
