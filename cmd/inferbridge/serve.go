package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"inferbridge/internal/bridge"
	"inferbridge/internal/common/fsutil"
	"inferbridge/internal/config"
	"inferbridge/internal/httpapi"
	"inferbridge/internal/manager"
	"inferbridge/internal/registry"
	"inferbridge/internal/store"
	"inferbridge/internal/supervisor"
	"inferbridge/internal/worker"
	"inferbridge/pkg/types"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	addr         string
	modelsDir    string
	defaultModel string
	workerMode   string
	workerBin    string
	dbPath       string
	corsOrigins  string
	maxBodyBytes int64
	chatTimeout  time.Duration
	requestLog   string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Example: "  inferbridge serve --models-dir ~/models/llm --default-model tinyllama.Q4_K_M.gguf\n" +
			"  inferbridge serve --worker-mode process --cors-origins http://localhost:5173",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if root.logLevel == "" && cfg.LogLevel != "" {
				if l, err := newLogger(os.Stderr, cfg.LogLevel, root.logFormat); err == nil {
					root.log = l
				}
			}
			cfg = cfg.WithDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, f, root.log)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", envStr("INFERBRIDGE_ADDR", ""), "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	fl.StringVar(&f.defaultModel, "default-model", "", "Model id used when a request omits one")
	fl.StringVar(&f.workerMode, "worker-mode", "", "Where the engine runs: inprocess|process")
	fl.StringVar(&f.workerBin, "worker-bin", "", "Worker executable for process mode (default: this binary)")
	fl.StringVar(&f.dbPath, "db", "", "SQLite database for conversations (\":memory:\" for none on disk)")
	fl.StringVar(&f.corsOrigins, "cors-origins", envStr("INFERBRIDGE_CORS_ORIGINS", ""), "Comma-separated origins allowed to call the API; enables CORS")
	fl.Int64Var(&f.maxBodyBytes, "max-body-bytes", 1<<20, "Maximum JSON request body size")
	fl.DurationVar(&f.chatTimeout, "chat-timeout", 0, "Upper bound for one /v1/chat request (0 = none)")
	fl.StringVar(&f.requestLog, "request-log", envStr("INFERBRIDGE_REQUEST_LOG", ""), "Per-request log level: off|error|info|debug")
	return cmd
}

// apply overrides file settings with flags the user set explicitly.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("addr") || (cfg.Addr == "" && f.addr != "") {
		cfg.Addr = f.addr
	}
	if set("models-dir") {
		cfg.ModelsDir = f.modelsDir
	}
	if set("default-model") {
		cfg.DefaultModel = f.defaultModel
	}
	if set("worker-mode") {
		cfg.WorkerMode = f.workerMode
	}
	if set("worker-bin") {
		cfg.WorkerBin = f.workerBin
	}
	if set("db") {
		cfg.DBPath = f.dbPath
	}
	if origins := splitCSV(f.corsOrigins); len(origins) > 0 {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = origins
	}
}

func serve(ctx context.Context, cfg config.Config, f *serveFlags, log zerolog.Logger) error {
	modelsDir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return err
	}
	var reg []types.Model
	if fsutil.PathExists(modelsDir) {
		if reg, err = registry.LoadDir(modelsDir); err != nil {
			return fmt.Errorf("failed to load models: %w", err)
		}
	} else {
		log.Warn().Str("models_dir", modelsDir).Msg("models directory does not exist; no models available")
	}
	if cfg.DefaultModel != "" {
		if _, ok := registry.Find(reg, cfg.DefaultModel); !ok {
			log.Warn().Str("model", cfg.DefaultModel).Msg("default model not found in models directory")
		}
	}

	dbPath, err := fsutil.ExpandHome(cfg.DBPath)
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("closing store")
		}
	}()

	procs := worker.NewProcManager()
	defer procs.KillAll()
	spawn, err := newSpawner(cfg, modelsDir, reg, procs, log)
	if err != nil {
		return err
	}
	mgrLog := log.With().Str("component", "manager").Logger()
	mgr := manager.NewWithConfig(manager.Config{
		Registry:     reg,
		DefaultModel: cfg.DefaultModel,
		Spawner:      spawn,
		WorkerMode:   cfg.WorkerMode,
		InitTimeout:  cfg.InitTimeout.Duration,
		StallTimeout: cfg.StallTimeout.Duration,
		Store:        st,
		Logger:       &mgrLog,
	})

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)
	httpapi.SetMaxBodyBytes(f.maxBodyBytes)
	httpapi.SetChatTimeout(f.chatTimeout)
	if f.requestLog != "" {
		httpapi.SetRequestLogLevel(f.requestLog)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", modelsDir).Int("models", len(reg)).
			Str("worker_mode", cfg.WorkerMode).Bool("llama", supervisor.LlamaAvailable()).Msg("inferbridge listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Close first so streaming chats end and their handlers return.
		if err := mgr.Close(); err != nil {
			log.Warn().Err(err).Msg("stopping worker")
		}
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		return nil
	})
	return g.Wait()
}

// newSpawner returns how the bridge starts a worker for cfg.WorkerMode.
func newSpawner(cfg config.Config, modelsDir string, reg []types.Model, procs *worker.ProcManager, log zerolog.Logger) (bridge.Spawner, error) {
	wlog := log.With().Str("component", "worker").Logger()
	switch cfg.WorkerMode {
	case config.WorkerProcess:
		bin := cfg.WorkerBin
		if bin == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate worker binary: %w", err)
			}
			bin = exe
		}
		pc := worker.ProcessConfig{Bin: bin, Args: workerArgs(cfg, modelsDir)}
		return func(ctx context.Context) (bridge.Worker, error) {
			return worker.StartProcess(ctx, pc, procs, wlog)
		}, nil
	default:
		return func(ctx context.Context) (bridge.Worker, error) {
			sup := newSupervisor(cfg, reg, wlog)
			return worker.StartPipe(sup, wlog), nil
		}, nil
	}
}

// workerArgs passes the engine settings on to a child worker.
func workerArgs(cfg config.Config, modelsDir string) []string {
	return []string{
		"worker",
		"--models-dir", modelsDir,
		"--llama-ctx", strconv.Itoa(cfg.LlamaCtx),
		"--llama-threads", strconv.Itoa(cfg.LlamaThreads),
		"--llama-gpu-layers", strconv.Itoa(cfg.LlamaGPULayers),
		"--load-timeout", cfg.LoadTimeout.String(),
		"--generate-timeout", cfg.GenerateTimeout.String(),
		"--log-level", cfg.LogLevel,
		"--log-format", "json",
	}
}

func newSupervisor(cfg config.Config, reg []types.Model, log zerolog.Logger) *supervisor.Supervisor {
	return supervisor.NewWithConfig(supervisor.Config{
		Engine: supervisor.NewLlamaEngine(supervisor.LlamaConfig{
			Registry:  reg,
			CtxSize:   cfg.LlamaCtx,
			Threads:   cfg.LlamaThreads,
			GPULayers: cfg.LlamaGPULayers,
		}),
		LoadTimeout:     cfg.LoadTimeout.Duration,
		GenerateTimeout: cfg.GenerateTimeout.Duration,
		Logger:          &log,
		Publisher:       supervisor.NewLogPublisher(log),
	})
}
