package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/TrialScope/internal/application/feasibility"
	"github.com/turtacn/TrialScope/internal/config"
	"github.com/turtacn/TrialScope/internal/domain/protocol"
	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	appmetrics "github.com/turtacn/TrialScope/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/TrialScope/pkg/errors"
)

type analyzeOptions struct {
	exclude  []string
	parallel bool
	profile  string
	noCache  bool
	watch    bool
}

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <file> [file...]",
		Short: "Extract features from protocol text and score cost and risk",
		Long: "Runs every extraction module over each file and scores the predictions.\n" +
			"Pages are separated by form feeds; \"-\" reads standard input.\n\n" +
			"With --watch the files are analysed again whenever the --config file\n" +
			"changes, until the command is interrupted.  Cache and metrics settings\n" +
			"are read once at startup.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.exclude, "exclude", nil, "modules to skip (comma separated)")
	f.BoolVar(&opts.parallel, "parallel", true, "run modules concurrently (default from config)")
	f.StringVar(&opts.profile, "profile", "", "weight profile (default from config)")
	f.BoolVar(&opts.noCache, "no-cache", false, "bypass the prediction cache")
	f.BoolVar(&opts.watch, "watch", false, "re-run when the config file changes")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, opts *analyzeOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if opts.watch && cliCtx.configPath == "" {
		return errors.InvalidParam("--watch requires --config")
	}

	var parallel *bool
	if cmd.Flags().Changed("parallel") {
		parallel = &opts.parallel
	}

	reqs := make([]feasibility.AnalyzeRequest, 0, len(args))
	for _, path := range args {
		doc, err := readDocument(cmd, path)
		if err != nil {
			return err
		}
		reqs = append(reqs, feasibility.AnalyzeRequest{
			Document: doc,
			Exclude:  opts.exclude,
			Parallel: parallel,
			Profile:  opts.profile,
			NoCache:  opts.noCache,
		})
	}

	if err := analyzeOnce(cmd, cliCtx, reqs); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}
	return watchConfig(cmd, cliCtx, reqs)
}

func analyzeOnce(cmd *cobra.Command, cliCtx *CLIContext, reqs []feasibility.AnalyzeRequest) error {
	defer logging.LogOperationDuration(cliCtx.Logger, "analyze", time.Now())

	ctx, cancel := cliCtx.commandContext(cmd)
	defer cancel()

	if len(reqs) == 1 {
		a, err := cliCtx.Service.Analyze(ctx, reqs[0])
		if err != nil {
			return err
		}
		return PrintResult(cmd, analysisView{a})
	}

	results, err := cliCtx.Service.AnalyzeBatch(ctx, reqs)
	if err != nil {
		return err
	}
	views := make(batchView, len(results))
	for i, a := range results {
		views[i] = analysisView{a}
	}
	return PrintResult(cmd, views)
}

// watchConfig rebuilds the service from each valid config reload and
// analyses reqs again.  Rejected reloads keep the previous service.  It
// returns when the command context ends.
func watchConfig(cmd *cobra.Command, cliCtx *CLIContext, reqs []feasibility.AnalyzeRequest) error {
	reloaded := make(chan *config.Config, 1)
	err := config.Watch(cliCtx.configPath, func(cfg *config.Config, err error) {
		appmetrics.RecordConfigReload(cliCtx.appMetrics, err == nil)
		if err != nil {
			cliCtx.Logger.Warn("config reload rejected", logging.Err(err))
			return
		}
		// keep only the newest config
		select {
		case <-reloaded:
		default:
		}
		reloaded <- cfg
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-reloaded:
			svc, err := feasibility.NewService(cfg, cliCtx.Logger, cliCtx.serviceOpts...)
			if err != nil {
				cliCtx.Logger.Warn("config reload not applied", logging.Err(err))
				continue
			}
			cliCtx.closeService()
			cliCtx.Config = cfg
			cliCtx.Service = svc
			cliCtx.Logger.Info("config reloaded", logging.String("path", cliCtx.configPath))
			if err := analyzeOnce(cmd, cliCtx, reqs); err != nil {
				return err
			}
		}
	}
}

// readDocument loads a form-feed separated text file; "-" is stdin.  The
// document ID is the file's base name.
func readDocument(cmd *cobra.Command, path string) (*protocol.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDocumentRead, "failed to read document").WithDetail("path=" + path)
	}
	doc := protocol.ParseDocument(string(data))
	doc.ID = filepath.Base(path)
	if path == "-" {
		doc.ID = "stdin"
	}
	return doc, nil
}

// analysisView renders an Analysis for text and table output.  JSON output
// uses the Analysis itself.
type analysisView struct {
	*feasibility.Analysis
}

func (v analysisView) moduleNames() []string {
	names := make([]string, 0, len(v.Predictions))
	for name := range v.Predictions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v analysisView) TableHeaders() []string {
	return []string{"MODULE", "PREDICTION", "EVIDENCE"}
}

func (v analysisView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Predictions)+len(v.Errors)+4)
	for _, name := range v.moduleNames() {
		p := v.Predictions[name]
		rows = append(rows, []string{name, formatValue(p.Prediction), fmt.Sprint(len(p.Evidence))})
	}
	for _, e := range v.Errors {
		rows = append(rows, []string{e.Module, "error: " + e.Err.Error(), "-"})
	}
	if s := v.Score; s != nil {
		rows = append(rows,
			[]string{"cost_score", fmt.Sprintf("%.2f", s.CostScore), fmt.Sprint(len(s.CostNodes))},
			[]string{"risk_score", fmt.Sprintf("%.2f", s.RiskScore), fmt.Sprint(len(s.RiskNodes))},
			[]string{"duration_category", s.DurationCategory, "-"},
			[]string{"sample_size_tertile", s.SampleSizeTertile, "-"},
		)
	}
	return rows
}

func (v analysisView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "document:  %s\n", v.DocumentID)
	fmt.Fprintf(&sb, "run:       %s", v.RunID)
	if v.Cached {
		sb.WriteString(" (cached)")
	}
	sb.WriteString("\n")
	if s := v.Score; s != nil {
		fmt.Fprintf(&sb, "profile:   %s\n", s.Profile)
		fmt.Fprintf(&sb, "cost:      %.2f\n", s.CostScore)
		fmt.Fprintf(&sb, "risk:      %.2f\n", s.RiskScore)
		fmt.Fprintf(&sb, "duration:  %s\n", s.DurationCategory)
		fmt.Fprintf(&sb, "sample:    %s\n", s.SampleSizeTertile)
	}
	fmt.Fprintf(&sb, "modules:   %d ok, %d failed\n", len(v.Predictions), len(v.Errors))
	for _, name := range v.moduleNames() {
		fmt.Fprintf(&sb, "  %-20s %s\n", name, formatValue(v.Predictions[name].Prediction))
	}
	for _, e := range v.Errors {
		fmt.Fprintf(&sb, "  %-20s error: %s\n", e.Module, e.Err.Error())
	}
	return sb.String()
}

// batchView renders several analyses one after another.
type batchView []analysisView

func (b batchView) String() string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\n")
}
