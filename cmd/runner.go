package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/metrics"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	styles     *Palette
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	app        *auth.AppTokenSupplier
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		opts.Logger.Warn("metrics disabled", "error", err)
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		styles:     DefaultPalette(),
		registry:   registry,
		metrics:    m,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, tokenCommand, collectionsCommand, exportCommand, apiCommand, setupCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration file named by --config, applies environment overrides and sets the log level.
//
// A missing file is not an error; the embedded defaults are used.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			r.config = config
			r.logger.Debug("loaded config", "path", r.configPath)
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		}
	}
	r.config.ApplyEnv()

	level := r.config.Log.Level
	if override := cmd.String("log-level"); override != "" {
		level = override
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))

	if r.httpClient == http.DefaultClient && r.config.Upstream.TimeoutSeconds > 0 {
		r.httpClient = &http.Client{Timeout: r.config.Upstream.Timeout()}
	}

	return ctx, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeOK(format string, args ...any) error {
	return r.writePlain("%s %s\n", r.styles.OK("✓"), fmt.Sprintf(format, args...))
}

func (r *Runner) writeWarn(format string, args ...any) error {
	return r.writePlain("%s %s\n", r.styles.Warn("⚠"), fmt.Sprintf(format, args...))
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("%s\n", r.styles.Title(title))
}
