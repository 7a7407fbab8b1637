package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/entrhq/testpilot/pkg/browser"
	"github.com/entrhq/testpilot/pkg/config"
	"github.com/entrhq/testpilot/pkg/decision"
	"github.com/entrhq/testpilot/pkg/intervention"
	"github.com/entrhq/testpilot/pkg/llm/openai"
	"github.com/entrhq/testpilot/pkg/llm/tokenizer"
	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/orchestrator"
	"github.com/entrhq/testpilot/pkg/report"
	"github.com/entrhq/testpilot/pkg/runner"
	"github.com/entrhq/testpilot/pkg/server"
	"github.com/entrhq/testpilot/pkg/store"
	"github.com/entrhq/testpilot/pkg/testcase"
	"github.com/entrhq/testpilot/pkg/tracing"
	"github.com/entrhq/testpilot/pkg/types"
)

const defaultLogDir = ".testpilot/logs"

// runOptions holds the flags of the run command.
type runOptions struct {
	configFile  string
	env         string
	output      string
	parallel    int
	debug       bool
	interactive bool
	serve       bool
	trace       bool
	quiet       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <test_file>...",
		Short: "Run one or more Markdown test cases",
		Long: `Run executes test cases against the selected environment.

Arguments may be file paths or glob patterns such as "cases/**/*.md".
The exit status is 0 only when every case succeeds.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd.Context(), opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "config.yaml", "configuration file")
	f.StringVarP(&opts.env, "env", "e", "", "environment to run against (default: default_environment)")
	f.StringVarP(&opts.output, "output", "o", "", "artifact directory (default: output_dir from config)")
	f.IntVarP(&opts.parallel, "parallel", "p", 1, "test cases to run at once")
	f.BoolVar(&opts.debug, "debug", false, "verbose console output and debug logs")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "answer interventions with an interactive picker")
	f.BoolVar(&opts.serve, "serve", false, "serve the intervention API (overrides server.enabled)")
	f.BoolVar(&opts.trace, "trace", false, "print OpenTelemetry spans to stderr")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "only print warnings, failures and the summary")
	return cmd
}

//nolint:gocyclo
func runTests(ctx context.Context, opts *runOptions, patterns []string) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	files, err := expandPatterns(patterns)
	if err != nil {
		return err
	}
	cases := make([]*types.TestCase, 0, len(files))
	for _, file := range files {
		tc, parseErr := testcase.ParseFile(file)
		if parseErr != nil {
			return parseErr
		}
		cases = append(cases, tc)
	}

	// Environments are checked for every case before any browser starts.
	envs := make(map[*types.TestCase]*config.Environment, len(cases))
	for _, tc := range cases {
		name := opts.env
		if name == "" {
			name = tc.Environment
		}
		env, selectErr := cfg.Select(name)
		if selectErr != nil {
			return fmt.Errorf("%s: %w", tc.SourcePath, selectErr)
		}
		envs[tc] = env
	}

	sessionID := orchestrator.NewRunID()
	logDir := cfg.LogDir
	if logDir == "" {
		logDir = defaultLogDir
	}
	logger, logErr := logging.New(logDir, sessionID)
	defer logger.Close()

	level := logging.ConsoleNormal
	switch {
	case opts.debug:
		level = logging.ConsoleDebug
		logger.SetLevel(logging.LevelDebug)
	case opts.quiet:
		level = logging.ConsoleQuiet
	}
	console := logging.NewConsole(level)
	if logErr != nil {
		console.Warningf("%v; logging to stderr", logErr)
	}
	console.Header(fmt.Sprintf("testpilot %s: %d test case(s)", version, len(cases)))
	if path := logger.LogPath(); path != "" {
		console.Verbosef("log file: %s", path)
	}

	if opts.trace {
		provider, traceErr := tracing.Init("testpilot", os.Stderr)
		if traceErr != nil {
			return traceErr
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("failed to flush traces: %v", err)
			}
		}()
	}

	decider, err := newDecider(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A human can answer from this terminal or over the API.
	terminal := isatty.IsTerminal(os.Stdin.Fd())
	serve := opts.serve || cfg.Server.Enabled
	gateway := intervention.NewGateway(intervention.Options{
		Logger:   logger,
		Fallback: cfg.Intervention.Fallback,
		Timeout:  cfg.Intervention.TimeoutDuration(),
		Enabled:  cfg.Intervention.IsEnabled() && (terminal || serve),
	})

	sinks := types.Sinks{console}
	if gateway.Enabled() && terminal {
		responder := intervention.NewResponder(gateway, newPrompter(opts.interactive, os.Stdin, os.Stdout), logger)
		sinks = append(sinks, responder)
		go func() {
			if err := responder.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("intervention prompt stopped: %v", err)
			}
		}()
	}
	if serve {
		srv := server.New(gateway, logger)
		sinks = append(sinks, srv.Hub())
		ready := make(chan string, 1)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr, ready); err != nil {
				console.Errorf("intervention API stopped: %v", err)
			}
		}()
		select {
		case addr := <-ready:
			console.Infof("intervention API on http://%s", addr)
		case <-time.After(2 * time.Second):
		}
	}
	gateway.SetEvents(sinks)

	factory := func(ctx context.Context, runID string, tc *types.TestCase) (*orchestrator.Orchestrator, error) {
		env := envs[tc]
		shots, err := browser.NewScreenshotDir(cfg.ScreenshotsDir, runID)
		if err != nil {
			return nil, err
		}
		monitor := browser.NewMonitor(browser.Options{
			Logger:   logger,
			StartURL: env.BaseURL,
			Headless: cfg.Headless,
		})
		rn := runner.New(runner.Deps{
			Decider:     decider,
			Screenshots: shots,
			Logger:      logger,
			Events:      sinks,
		}, runner.Settings{
			StepTimeout: cfg.StepTimeoutDuration(),
			MaxSteps:    cfg.MaxSteps,
			UseVision:   cfg.UseVision,
		})
		return orchestrator.New(orchestrator.Deps{
			Session:     orchestrator.BrowserSession(monitor),
			Runner:      rn,
			Policy:      intervention.PolicyFromConfig(cfg, env),
			Gateway:     gateway,
			Screenshots: shots,
			Logger:      logger,
			Events:      sinks,
		}, orchestrator.Settings{
			Environment: env,
			RunID:       runID,
			Timeout:     cfg.TimeoutDuration(),
		}), nil
	}

	results, suiteErr := orchestrator.RunSuite(ctx, cases, opts.parallel, factory)
	if suiteErr != nil {
		console.Errorf("%v", suiteErr)
	}

	outputDir := opts.output
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}
	history := openHistory(cfg.HistoryDB, console)
	if history != nil {
		defer history.Close()
	}

	failed := 0
	for _, result := range results {
		console.Summary(result)
		if !result.Success {
			failed++
		}

		writer := report.NewArtifactWriter(filepath.Join(outputDir, result.RunID))
		if err := writer.WriteAll(result); err != nil {
			console.Errorf("failed to write artifacts for %s: %v", result.Name, err)
		} else {
			console.Infof("artifacts: %s", writer.Dir())
		}
		if history != nil {
			// The run context may already be cancelled; history is still recorded.
			if err := history.SaveRun(context.Background(), result, writer.Dir()); err != nil {
				console.Warningf("failed to record history for %s: %v", result.Name, err)
			}
		}
	}

	if failed > 0 {
		console.Errorf("%d of %d test case(s) failed", failed, len(results))
		return errTestsFailed
	}
	console.Successf("all %d test case(s) passed", len(results))
	return nil
}

func newDecider(cfg *config.Config, logger *logging.Logger) (*decision.Client, error) {
	provider, err := openai.NewProvider(cfg.LLM.APIKey,
		openai.WithModel(cfg.LLM.Model),
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithTemperature(cfg.LLM.Temperature),
	)
	if err != nil {
		return nil, err
	}

	opts := []decision.Option{
		decision.WithLogger(logger),
		decision.WithRateLimit(cfg.LLM.RateLimit),
	}
	if cfg.LLM.MaxObservationTokens > 0 {
		opts = append(opts, decision.WithMaxObservationTokens(cfg.LLM.MaxObservationTokens))
	}
	tok, err := tokenizer.New()
	if err != nil {
		logger.Warnf("token counting falls back to estimates: %v", err)
	} else {
		opts = append(opts, decision.WithTokenizer(tok))
	}
	return decision.NewClient(provider, opts...), nil
}

func newPrompter(interactive bool, in io.Reader, out io.Writer) intervention.Prompter {
	if interactive {
		return intervention.NewTUIPrompter(in, out)
	}
	return intervention.NewConsolePrompter(in, out)
}

// openHistory opens the run history; nil disables it.
func openHistory(path string, console *logging.Console) *store.Store {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		console.Warningf("run history disabled: %v", err)
		return nil
	}
	s, err := store.New(path)
	if err != nil {
		console.Warningf("run history disabled: %v", err)
		return nil
	}
	return s
}
