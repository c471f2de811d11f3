// Command baggagecheck runs the preview pipeline against a request file and
// prints the resolved decision. It is a thin CLI shell over the
// internal/preview orchestrator; the HTTP transport surface this pipeline
// serves in production is out of scope for this repository.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/baggagecheck/internal/classifier"
	"github.com/dshills/baggagecheck/internal/config"
	"github.com/dshills/baggagecheck/internal/narration"
	"github.com/dshills/baggagecheck/internal/preview"
	"github.com/dshills/baggagecheck/internal/regulation"
	"github.com/dshills/baggagecheck/internal/render"
	"github.com/dshills/baggagecheck/internal/schema"
	"github.com/dshills/baggagecheck/internal/taxonomy"
)

const version = "0.1.0"

// Process exit codes.
const (
	exitCodeGeneral         = 1 // unexpected/internal error
	exitCodeFailOnReview    = 2 // needs_review state with --fail-on-review set
	exitCodeBadInput        = 3 // bad input (missing flags, files not found)
	exitCodeAPIError        = 4 // LLM provider/transport error
	exitCodeValidationError = 5 // schema validation unrecoverable
)

// exitError carries a desired process exit code alongside an error message.
// RunE never calls os.Exit directly; main() inspects the returned error via
// errors.As and exits with the attached code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	root := &cobra.Command{
		Use:           "baggagecheck",
		Short:         "Preview the baggage screening decision for one item",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newPreviewCmd())

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type previewFlags struct {
	requestFile    string
	label          string
	configFile     string
	taxonomyDir    string
	regulationDir  string
	format         string
	out            string
	provider       string
	model          string
	maxTokens      int
	failOnReview   bool
	watch          bool
	verbose        bool
	debug          bool
}

func newPreviewCmd() *cobra.Command {
	var f previewFlags

	cmd := &cobra.Command{
		Use:          "preview",
		Short:        "Run one preview request through the classifier and regulation resolver",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.requestFile, "request", "", "path to a JSON PreviewRequest file (required unless --label is set)")
	cmd.Flags().StringVar(&f.label, "label", "", "item label for a quick domestic-economy preview (overrides the label in --request)")
	cmd.Flags().StringVar(&f.configFile, "config", "", "path to a YAML tunables file (default: built-in defaults)")
	cmd.Flags().StringVar(&f.taxonomyDir, "taxonomy-dir", "", "override the taxonomy catalog directory from config")
	cmd.Flags().StringVar(&f.regulationDir, "regulation-dir", "", "override the regulation data directory from config")
	cmd.Flags().StringVar(&f.format, "format", "json", "output format: json or md")
	cmd.Flags().StringVar(&f.out, "out", "", "write output to this file instead of stdout")
	cmd.Flags().StringVar(&f.provider, "provider", "", "LLM provider: anthropic, openai, google (default from config)")
	cmd.Flags().StringVar(&f.model, "model", "", "model ID (default from config)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum tokens for LLM responses (default from config)")
	cmd.Flags().BoolVar(&f.failOnReview, "fail-on-review", false, "exit 2 if the result state is needs_review")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "after the first preview, hot-reload --regulation-dir on file changes; SIGHUP reloads it and re-runs the preview")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "print execution trace to stderr")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "dump assembled LLM prompts to stderr")

	return cmd
}

func runPreview(ctx context.Context, f previewFlags) error {
	start := time.Now()

	// Step 1: validate required flags and inputs.
	if f.requestFile == "" && f.label == "" {
		return &exitError{exitCodeBadInput, "error: one of --request or --label is required"}
	}
	if f.format != "json" && f.format != "md" {
		return &exitError{exitCodeBadInput, fmt.Sprintf("error: --format must be \"json\" or \"md\", got %q", f.format)}
	}

	log := newLogger(f.verbose)
	defer func() { _ = log.Sync() }()

	logVerbose := func(msg string, fields ...zap.Field) {
		log.Debug(msg, fields...)
	}

	// Step 2: load configuration.
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return &exitError{exitCodeBadInput, fmt.Sprintf("error: load config: %v", err)}
	}
	if f.taxonomyDir != "" {
		cfg.Catalogs.TaxonomyDir = f.taxonomyDir
	}
	if f.regulationDir != "" {
		cfg.Catalogs.RegulationDir = f.regulationDir
	}
	if f.provider != "" {
		cfg.LLM.Provider = f.provider
	}
	if f.model != "" {
		cfg.LLM.Model = f.model
	}
	if f.maxTokens > 0 {
		cfg.LLM.MaxTokens = f.maxTokens
	}

	// Step 3: load the request.
	req, err := loadRequest(f)
	if err != nil {
		return &exitError{exitCodeBadInput, fmt.Sprintf("error: %v", err)}
	}
	if req.ReqID == "" {
		req.ReqID = uuid.NewString()
	}
	logVerbose("request loaded", zap.String("req_id", req.ReqID), zap.String("label", req.Label))

	// Step 4: load the taxonomy catalog.
	logVerbose("loading taxonomy", zap.String("dir", cfg.Catalogs.TaxonomyDir))
	tax, err := taxonomy.Load(cfg.Catalogs.TaxonomyDir)
	if err != nil {
		return &exitError{exitCodeBadInput, fmt.Sprintf("error: load taxonomy: %v", err)}
	}

	// Step 5: load the regulation store.
	logVerbose("loading regulations", zap.String("dir", cfg.Catalogs.RegulationDir))
	regs, err := regulation.Load(cfg.Catalogs.RegulationDir)
	if err != nil {
		return &exitError{exitCodeBadInput, fmt.Sprintf("error: load regulations: %v", err)}
	}

	// Step 6: build the orchestrator.
	orch := preview.New(preview.Deps{
		Taxonomy: tax,
		Regulations: regs,
		ClassifierOpts: classifier.Options{
			Provider:    cfg.LLM.Provider,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Model:       cfg.LLM.Model,
			Debug:       f.debug,
		},
		NarrationOpts: narration.Options{
			Provider:    cfg.LLM.Provider,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Model:       cfg.LLM.Model,
		},
		ClassifyTimeout:  cfg.LLM.ClassifyTimeout,
		NarrationTimeout: cfg.LLM.NarrationTimeout,
		MinConfidence:    cfg.LLM.MinConfidence,
		CacheTTL:         cfg.Cache.TTL,
		Log:              log,
	})

	// Step 7: run the preview, write output, and evaluate --fail-on-review.
	runOnce := func() error {
		logVerbose("running preview")
		result, err := orch.Preview(ctx, *req)
		if err != nil {
			return &exitError{exitCodeAPIError, fmt.Sprintf("error: preview: %v", err)}
		}
		if err := writeResult(f, &result); err != nil {
			return &exitError{exitCodeGeneral, fmt.Sprintf("error: %v", err)}
		}
		logVerbose("done", zap.Duration("elapsed", time.Since(start)))
		if result.Flags.ValidationError {
			return &exitError{exitCodeValidationError, "schema validation failed after repair attempt"}
		}
		if result.Flags.LLMError {
			return &exitError{exitCodeAPIError, "LLM provider/transport error"}
		}
		if f.failOnReview && result.State == schema.StateNeedsReview {
			return &exitError{exitCodeFailOnReview, fmt.Sprintf("state %s with --fail-on-review set", result.State)}
		}
		return nil
	}

	if err := runOnce(); err != nil {
		return err
	}

	// Step 8: optionally keep watching. File changes in the regulation
	// directory hot-reload the store in the background; SIGHUP reloads it and
	// re-runs the preview so an operator can observe the effect of an edited
	// rule file without restarting the process.
	if f.watch {
		return watchAndRerun(ctx, regs, log, runOnce)
	}
	return nil
}

// watchAndRerun installs an fsnotify-backed reload watcher on the
// regulation store plus an explicit os/signal.Notify(SIGHUP) trigger. A
// SIGHUP reloads the store and re-runs runOnce; a reload by the file watcher
// updates the store without re-running the preview. It returns on SIGINT,
// SIGTERM, or when ctx is cancelled.
func watchAndRerun(ctx context.Context, regs *regulation.Store, log *zap.Logger, runOnce func() error) error {
	watcher, err := regulation.NewWatcher(regs, log)
	if err != nil {
		return &exitError{exitCodeGeneral, fmt.Sprintf("error: create watcher: %v", err)}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := watcher.Run(watchCtx); err != nil {
			log.Warn("regulation.watch_exited", zap.Error(err))
		}
	}()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-interrupt:
			return nil
		case <-sighup:
			log.Info("baggagecheck.sighup_received")
			if err := regs.Reload(); err != nil {
				log.Warn("regulation.manual_reload_failed", zap.Error(err))
				continue
			}
			if err := runOnce(); err != nil {
				return err
			}
		}
	}
}

// loadRequest builds a PreviewRequest from --request and/or --label. When
// --request is given it is parsed as JSON; --label, if also set, overrides
// the label field. When only --label is given, a default domestic-economy
// single-segment itinerary is synthesized so a one-off classification does
// not require a full request file.
func loadRequest(f previewFlags) (*schema.PreviewRequest, error) {
	var req schema.PreviewRequest
	if f.requestFile != "" {
		data, err := os.ReadFile(f.requestFile)
		if err != nil {
			return nil, fmt.Errorf("read request file %q: %w", f.requestFile, err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse request file %q: %w", f.requestFile, err)
		}
	} else {
		req = schema.PreviewRequest{
			Itinerary: schema.Itinerary{RouteType: schema.RouteDomestic},
			Segments:  []schema.Segment{{CabinClass: schema.CabinEconomy}},
		}
	}
	if f.label != "" {
		req.Label = f.label
	}
	if req.Label == "" {
		return nil, fmt.Errorf("request has no label (set \"label\" in --request or pass --label)")
	}
	return &req, nil
}

// writeResult renders result per f.format and writes it to f.out or stdout.
func writeResult(f previewFlags, result *schema.PreviewResult) error {
	var output []byte
	var err error
	switch f.format {
	case "md":
		output = []byte(render.RenderMarkdown(result))
	default:
		output, err = render.RenderJSON(result)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}
	if len(output) > 0 && output[len(output)-1] != '\n' {
		output = append(output, '\n')
	}
	if f.out != "" {
		return os.WriteFile(f.out, output, 0o644)
	}
	_, err = os.Stdout.Write(output)
	return err
}

// newLogger builds the process logger: production JSON encoding with an
// atomic level, lowered to Debug under --verbose.
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log.With(zap.String("tool", "baggagecheck"), zap.String("version", version))
}
