package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferbridge/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	log        zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "inferbridge",
		Short:         "Local LLM inference behind a streaming HTTP API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(os.Stderr, opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.log = l
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", envStr("INFERBRIDGE_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envStr("INFERBRIDGE_LOG_LEVEL", ""), "Log level: debug|info|warn|error (default from config, else info)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", envStr("INFERBRIDGE_LOG_FORMAT", "console"), "Log format: console|json")

	root.AddCommand(newServeCmd(opts), newWorkerCmd(opts), newModelsCmd(opts))
	return root
}

// newLogger builds the process logger. An empty level means info.
func newLogger(out io.Writer, level, format string) (zerolog.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	switch format {
	case "json":
	case "console", "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// loadConfig reads the config file (if any) and fills in defaults. Flags
// are applied by the caller between the two steps.
func (o *rootOptions) loadConfig() (config.Config, error) {
	if o.configPath == "" {
		return config.Config{}, nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma-separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
