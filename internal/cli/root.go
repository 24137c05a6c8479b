package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ndenisov/scribeflow/internal/config"
	"github.com/ndenisov/scribeflow/internal/logging"
	"github.com/ndenisov/scribeflow/internal/pipeline"
	"github.com/ndenisov/scribeflow/internal/quota"
	"github.com/ndenisov/scribeflow/internal/version"
)

type appState struct {
	verbose     bool
	jsonLogs    bool
	noProgress  bool
	envFile     string
	logFile     string
	metricsAddr string

	backend  string
	model    string
	modelDir string
	language string

	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
	out    io.Writer

	processFn     func(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
	quotaStatusFn func(ctx context.Context, userID int64) (quota.Status, error)
	pullModelFn   func(ctx context.Context, name string) (string, error)
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		now: time.Now,
		out: os.Stdout,
	}

	cmd := &cobra.Command{
		Use:           "scribeflow",
		Short:         "Transcribe audio with quota-aware local and remote whisper backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs, File: app.logFile})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.language = sanitizeLanguage(app.language)
			app.logger = logger
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindConfigFlags(cmd, app)

	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newQuotaCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.PersistentFlags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	cmd.PersistentFlags().StringVar(&app.logFile, "log-file", app.logFile, "Also write JSON logs to this rotating file")
	cmd.PersistentFlags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindConfigFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().StringVar(&app.envFile, "env-file", app.envFile, "Path to a .env file with SCRIBEFLOW_* settings")
	cmd.PersistentFlags().StringVar(&app.backend, "backend", app.backend, "Transcription backend: local|remote|auto")
	cmd.PersistentFlags().StringVar(&app.model, "model", app.model, "Whisper model name (tiny|base|small|medium|large-v3)")
	cmd.PersistentFlags().StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
	cmd.PersistentFlags().StringVar(&app.language, "language", app.language, "Language code (auto|en|de|...) for transcription")
	cmd.PersistentFlags().StringVar(&app.metricsAddr, "metrics-addr", app.metricsAddr, "Expose Prometheus metrics on this address, e.g. :9090")
}

// loadConfig resolves the configuration once per invocation, with
// command-line flags overriding the environment.
func (a *appState) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}

	cfg, err := config.Load(a.envFile)
	if err != nil {
		return nil, err
	}

	if a.backend != "" {
		cfg.Backend = a.backend
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.modelDir != "" {
		cfg.ModelDir = a.modelDir
	}
	if a.language != "" {
		cfg.Language = a.language
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a.cfg = cfg
	return cfg, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	return trimmed
}
