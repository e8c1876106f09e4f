package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"inferbridge/internal/config"
	"inferbridge/internal/registry"
	"inferbridge/internal/worker"
)

func newWorkerCmd(root *rootOptions) *cobra.Command {
	var cfg config.Config
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run the engine supervisor on stdin/stdout (NDJSON)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg = cfg.WithDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := root.log.With().Str("component", "worker").Int("pid", os.Getpid()).Logger()
			reg, err := registry.LoadDir(cfg.ModelsDir)
			if err != nil {
				// The parent reports load failures per model; an empty
				// registry yields MODEL_LOAD_FAILED for every init.
				log.Warn().Err(err).Msg("scan models")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return worker.ServeStdio(ctx, os.Stdin, os.Stdout, newSupervisor(cfg, reg, log), log)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&cfg.ModelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	fl.IntVar(&cfg.LlamaCtx, "llama-ctx", 0, "Context size")
	fl.IntVar(&cfg.LlamaThreads, "llama-threads", 0, "Inference threads (0 = engine default)")
	fl.IntVar(&cfg.LlamaGPULayers, "llama-gpu-layers", 0, "Layers offloaded to the GPU")
	fl.DurationVar(&cfg.LoadTimeout.Duration, "load-timeout", 0, "Bound for one model load")
	fl.DurationVar(&cfg.GenerateTimeout.Duration, "generate-timeout", 0, "Bound for one generation (0 = none)")
	return cmd
}
