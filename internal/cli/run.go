package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sejmbot/detektor/internal/logging"
	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/pipeline"
	"github.com/sejmbot/detektor/internal/score"
)

var (
	outPath   string
	outFormat string
	timeout   time.Duration
	userAgent string
	maxBytes  int64
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <statements>",
	Short: "Find and evaluate funny fragments in a statement export",
	Long: `Run reads statements (JSON array or JSON Lines) from a file, stdin ("-")
or an HTTP(S) URL, selects the most promising fragments and asks the
provider chain whether they are funny.

Example:
  sejmbot run posiedzenie-12.json
  sejmbot run posiedzenie-12.json --providers openai,anthropic --top-n 20
  cat statements.jsonl | sejmbot run - --format jsonl -o funny.jsonl
  sejmbot run statements.json --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addInputFlags(runCmd)

	runCmd.Flags().StringSlice("providers", nil, "provider fallback order (ollama, gemini, openai, anthropic)")
	runCmd.Flags().Int("workers", 1, "fragments evaluated concurrently")
	runCmd.Flags().String("cache-backend", "json", "cache backend (json, sqlite, memory)")
	runCmd.Flags().String("cache-path", "", "cache file path")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")

	bindFlags(runCmd, map[string]string{
		"providers":     "providers.order",
		"workers":       "concurrency.workers",
		"cache-backend": "cache.backend",
		"cache-path":    "cache.path",
		"metrics-addr":  "metrics.addr",
	})
}

// addInputFlags registers the flags shared by run and score
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outPath, "output", "o", "-", "output path (- for stdout)")
	cmd.Flags().StringVar(&outFormat, "format", "text", "output format (text, json, jsonl)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall run timeout (0 for none)")
	cmd.Flags().StringVar(&userAgent, "ua", "sejmbot/"+version, "HTTP User-Agent for remote statement sources")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 64<<20, "max bytes read from a remote statement source")

	cmd.Flags().Int("top-n", 0, "select at most this many fragments (0 for no limit)")
	cmd.Flags().Float64("top-fraction", 0.33, "select at most this fraction of the candidates (0 for no limit)")
	cmd.Flags().Float64("min-confidence", 0, "drop fragments below this heuristic confidence")
	cmd.Flags().Int("max-per-source", 0, "select at most this many fragments per statement (0 for no limit)")
	cmd.Flags().String("keywords", "", "YAML or JSON keyword table")

	// run and score share the viper keys, so they bind once the command is known
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		bindFlags(cmd, inputKeys)
	}
}

var inputKeys = map[string]string{
	"top-n":          "selection.topN",
	"top-fraction":   "selection.topFraction",
	"min-confidence": "selection.minConfidence",
	"max-per-source": "selection.maxPerSource",
	"keywords":       "keywords.file",
}

// bindFlags binds command flags to viper keys. Flags only override the
// configuration when set explicitly.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

// signalContext is cancelled on SIGINT/SIGTERM and after the --timeout
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}

	table, err := score.TableFromConfig(cfg.Keywords)
	if err != nil {
		return err
	}

	recorder, ms, err := startMetrics(ctx, cfg.Metrics.Addr, logger)
	if err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}
	defer func() { _ = ms.Close(context.WithoutCancel(ctx)) }()

	evalCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := evalCache.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "Final cache flush failed", logging.Error(err))
		}
	}()

	ev, err := newEvaluator(cfg, evalCache, recorder, logger)
	if err != nil {
		return err
	}

	statements, err := pipeline.NewLoader(30*time.Second, userAgent, maxBytes).Load(ctx, args[0])
	if err != nil {
		return err
	}

	p := pipeline.NewPipeline(cfg, table, ev, logger)
	report, runErr := p.Run(ctx, statements)
	if report == nil {
		return runErr
	}
	report.Source = args[0]

	if err := writeReport(cmd, report, cfg); err != nil {
		return err
	}
	return runErr
}

// writeReport writes report to --output in --format
func writeReport(cmd *cobra.Command, report *model.Report, cfg model.Config) (err error) {
	var w io.Writer = cmd.OutOrStdout()
	if outPath != "" && outPath != "-" {
		f, createErr := os.Create(outPath)
		if createErr != nil {
			return fmt.Errorf("create output: %w", createErr)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output: %w", closeErr)
			}
		}()
		w = f
	}

	switch outFormat {
	case "json":
		return pipeline.WriteJSON(w, report)
	case "jsonl":
		return pipeline.WriteJSONL(w, report.Fragments)
	case "text", "":
		pipeline.WriteSummary(w, report, cfg.Extraction.MaxSegmentChars)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", outFormat)
	}
}
