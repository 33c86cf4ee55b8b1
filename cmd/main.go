package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"apex-build/internal/brokerconfig"
	"apex-build/internal/compiler"
	"apex-build/internal/logging"
	"apex-build/internal/metrics"
	"apex-build/internal/middleware"
	"apex-build/internal/orchestrator"
	"apex-build/internal/registry"
	"apex-build/internal/resultcache"
	"apex-build/internal/sandbox"
	"apex-build/internal/workspace"
)

// repeatableFlag collects every occurrence of a flag that may be passed
// more than once, e.g. --env gnu --env beta.
type repeatableFlag []string

func (r *repeatableFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatableFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	var envs repeatableFlag
	flag.Var(&envs, "env", "environment name, recorded in the config (repeatable); no component reads it")
	prefix := flag.String("prefix", "", "property-store key prefix, recorded in the config; no component reads it")
	language := flag.String("language", "", "language name, recorded in the config; discovery does not filter by it")
	host := flag.String("host", "", "listen host, overrides BROKER_HOST")
	port := flag.Int("port", 0, "listen port, overrides BROKER_PORT (default 10240)")
	static := flag.String("static", "", "static asset directory (out of scope; accepted for CLI compatibility)")
	archivedVersions := flag.Bool("archived-versions", false, "recorded in the config; discovery does not read it")
	debug := flag.Bool("debug", false, "enable gin debug mode")
	debugProperties := flag.Bool("debug-properties", false, "recorded in the config; property lookups are not logged")
	wsl := flag.Bool("wsl", false, "running under Windows Subsystem for Linux; adjust default temp root")
	flag.Parse()

	logging.Init()
	defer logging.Sync()
	log := logging.L().Sugar()

	log.Info("starting compile broker")

	cfg, err := brokerconfig.Load(".env", "../.env")
	if err != nil {
		log.Fatalw("brokerconfig: load failed", "err", err)
	}

	cfg.Env = append(cfg.Env, envs...)
	if *prefix != "" {
		cfg.Prefix = *prefix
	}
	if *language != "" {
		cfg.Language = *language
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	cfg.Static = *static
	cfg.ArchivedVersions = *archivedVersions
	cfg.Debug = *debug
	cfg.DebugProperties = *debugProperties
	cfg.WSL = *wsl
	if cfg.WSL && cfg.TempDirRoot == os.TempDir() {
		cfg.TempDirRoot = "/mnt/c/Windows/Temp"
	}

	metrics.Get()
	middleware.InitRateLimiter(20, 40)

	wm, err := workspace.NewManager(cfg.TempDirRoot, cfg.TempDirCleanupSecs)
	if err != nil {
		log.Fatalw("workspace: init failed", "err", err)
	}
	wm.StartSweeper()
	defer wm.Stop()

	reg := registry.New(cfg)
	startupCtx, cancelStartup := context.WithCancel(context.Background())
	if err := reg.Discover(startupCtx); err != nil {
		cancelStartup()
		log.Fatalw("registry: discovery failed, cannot start", "err", err)
	}
	cancelStartup()
	reg.StartRescanTimer()
	defer reg.Stop()

	cache, err := resultcache.New(512, 256*1024*1024)
	if err != nil {
		log.Fatalw("resultcache: init failed", "err", err)
	}

	sb := sandbox.New(sandbox.Mode(cfg.SandboxType))
	drv := compiler.New(cfg, wm, sb, cfg.ForbiddenFlags)

	srv := orchestrator.New(cfg, reg, cache, drv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("compile broker ready", "host", cfg.Host, "port", cfg.Port, "compilers", len(reg.Current().Descriptors))

	if err := srv.Run(ctx); err != nil {
		log.Fatalw("orchestrator: server failed", "err", err)
	}

	log.Info("compile broker shut down cleanly")
}
