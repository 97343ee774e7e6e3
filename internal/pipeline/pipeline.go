package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sejmbot/detektor/internal/evaluator"
	"github.com/sejmbot/detektor/internal/extract"
	"github.com/sejmbot/detektor/internal/logging"
	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/rank"
	"github.com/sejmbot/detektor/internal/score"
)

// Pipeline orchestrates a run: statements are scored and cut into
// fragments, the best fragments are selected and, when an evaluator is
// configured, sent to the providers
type Pipeline struct {
	scorer    *score.Scorer
	extractor *extract.Extractor
	selector  *rank.Selector
	evaluator *evaluator.Evaluator // nil runs heuristics only
	logger    logging.Logger
	config    model.Config
}

// NewPipeline creates a new pipeline. ev may be nil.
func NewPipeline(cfg model.Config, table score.KeywordTable, ev *evaluator.Evaluator, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	scorer := score.NewScorer(table, cfg.Scoring, cfg.Keywords.PrioritySpeakers)

	return &Pipeline{
		scorer:    scorer,
		extractor: extract.NewExtractor(scorer, cfg.Extraction),
		selector:  rank.NewSelector(cfg.Selection),
		evaluator: ev,
		logger:    logger.Named("pipeline"),
		config:    cfg,
	}
}

// Analysis is the heuristic stage of a run
type Analysis struct {
	Statements int
	Fragments  []*model.Fragment // every extracted fragment, in statement order
	Skipped    []model.SkippedStatement
}

// Prepare turns statement text into normalized plain text. Empty or too
// short statements are reported as model.ErrInput.
func (p *Pipeline) Prepare(stmt model.Statement) (string, error) {
	text := stmt.Text
	if stmt.Markup {
		text = extract.CleanMarkup(text)
	}
	normalized := extract.Normalize(text)

	if normalized == "" {
		return "", fmt.Errorf("%w: statement %s has no text", model.ErrInput, stmt.ID())
	}
	if n := utf8.RuneCountInString(normalized); n < p.config.Extraction.MinStatementChars {
		return "", fmt.Errorf("%w: statement %s is too short (%d < %d characters)",
			model.ErrInput, stmt.ID(), n, p.config.Extraction.MinStatementChars)
	}
	return normalized, nil
}

// Analyze scores and extracts every statement. Statements are processed
// concurrently but fragments keep input order.
func (p *Pipeline) Analyze(ctx context.Context, statements []model.Statement) (*Analysis, error) {
	slots := make([][]*model.Fragment, len(statements))
	skipped := make([]error, len(statements))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.config.Concurrency.AnalysisWorkers, 1))

	for i, stmt := range statements {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			normalized, err := p.Prepare(stmt)
			if err != nil {
				skipped[i] = err
				return nil
			}
			slots[i] = p.extractor.Extract(stmt, i, normalized)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	analysis := &Analysis{Statements: len(statements)}
	for i, frags := range slots {
		if err := skipped[i]; err != nil {
			p.logger.Warn(ctx, "Skipping statement",
				logging.String("statement", statements[i].ID()),
				logging.Error(err))
			analysis.Skipped = append(analysis.Skipped, model.SkippedStatement{
				StatementID: statements[i].ID(),
				Index:       i,
				Reason:      err.Error(),
			})
			continue
		}
		analysis.Fragments = append(analysis.Fragments, frags...)
	}

	p.logger.Debug(ctx, "Statements analyzed",
		logging.Int("statements", len(statements)),
		logging.Int("fragments", len(analysis.Fragments)),
		logging.Int("skipped", len(analysis.Skipped)))
	return analysis, nil
}

// Select applies the selection policy to an analysis
func (p *Pipeline) Select(analysis *Analysis) []*model.Fragment {
	return p.selector.Select(analysis.Fragments)
}

// Run executes a complete run. When the run is cut short by cancellation
// or a rejected provider credential, the partial report is returned along
// with the error.
func (p *Pipeline) Run(ctx context.Context, statements []model.Statement) (*model.Report, error) {
	report := &model.Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	analysis, err := p.Analyze(ctx, statements)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	report.Statements = analysis.Statements
	report.Skipped = analysis.Skipped
	report.Candidates = len(analysis.Fragments)

	selected := p.Select(analysis)
	p.logger.Info(ctx, "Fragments selected",
		logging.String("run", report.RunID),
		logging.Int("candidates", report.Candidates),
		logging.Int("selected", len(selected)))

	var runErr error
	if p.evaluator != nil && len(selected) > 0 {
		stats, err := p.evaluator.Evaluate(ctx, selected)
		report.Stats = stats.Report()
		if err != nil {
			runErr = fmt.Errorf("evaluate: %w", err)
		}
	}

	report.Fragments = make([]model.FragmentRecord, 0, len(selected))
	for _, f := range selected {
		report.Fragments = append(report.Fragments, f.Record())
	}
	report.FinishedAt = time.Now().UTC()

	if runErr != nil {
		level := p.logger.Warn
		if errors.Is(runErr, model.ErrProviderAuth) {
			level = p.logger.Error
		}
		level(ctx, "Run ended early", logging.String("run", report.RunID), logging.Error(runErr))
		return report, runErr
	}

	p.logger.Info(ctx, "Run complete",
		logging.String("run", report.RunID),
		logging.Int("funny", report.Stats.Funny),
		logging.Int("cacheHits", report.Stats.CacheHits),
		logging.Int("failed", report.Stats.Failed),
		logging.Duration("duration", report.Duration()))
	return report, nil
}
