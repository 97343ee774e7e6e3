package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/pipeline"
	"github.com/sejmbot/detektor/internal/score"
)

// scoreCmd runs the heuristic stages only
var scoreCmd = &cobra.Command{
	Use:   "score <statements>",
	Short: "Rank fragments by keyword heuristics without calling any provider",
	Long: `Score runs keyword scoring, fragment extraction and selection, and prints
the ranked fragments. No provider is contacted and the cache is not touched,
which makes it a cheap way to tune keyword tables and selection settings.

Example:
  sejmbot score posiedzenie-12.json --top-n 10
  sejmbot score posiedzenie-12.json --keywords keywords.yaml --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	addInputFlags(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
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

	statements, err := pipeline.NewLoader(30*time.Second, userAgent, maxBytes).Load(ctx, args[0])
	if err != nil {
		return err
	}

	report, err := pipeline.NewPipeline(cfg, table, nil, logger).Run(ctx, statements)
	if err != nil {
		return err
	}
	report.Source = args[0]
	return writeReport(cmd, report, cfg)
}
