// Command depot is the Torrential depot-edge content server: it accepts
// one Drop RPC peer, builds per-(game_id,version_name) download contexts
// on demand, and serves encrypted chunk reads over HTTP (spec §1-§8).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torrential/depot/internal/admission"
	"github.com/torrential/depot/internal/api"
	"github.com/torrential/depot/internal/assembler"
	"github.com/torrential/depot/internal/audit"
	"github.com/torrential/depot/internal/backend"
	"github.com/torrential/depot/internal/config"
	"github.com/torrential/depot/internal/configwatch"
	"github.com/torrential/depot/internal/crypto"
	"github.com/torrential/depot/internal/debug"
	"github.com/torrential/depot/internal/dlcontext"
	"github.com/torrential/depot/internal/metrics"
	"github.com/torrential/depot/internal/middleware"
	"github.com/torrential/depot/internal/rpc"
	"github.com/torrential/depot/internal/state"
	"github.com/torrential/depot/internal/tracing"
	"github.com/torrential/depot/internal/wire"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	debug.InitFromEnv()
	if debug.Enabled() {
		logger.SetLevel(logrus.DebugLevel)
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("loading configuration")
	}
	debug.InitFromLogLevel(os.Getenv("LOG_LEVEL"))

	if cfg.Server.WorkingDir != "" {
		if err := os.Chdir(cfg.Server.WorkingDir); err != nil {
			logger.WithError(err).WithField("dir", cfg.Server.WorkingDir).Fatal("changing to working directory")
		}
	}

	m := metrics.NewMetrics()
	metrics.SetVersion("dev")
	reportHardwareAcceleration(m, cfg)

	watcher, err := configwatch.New(configPath, logger, func(newCfg config.Config) {
		reportHardwareAcceleration(m, newCfg)
	})
	if err != nil {
		logger.WithError(err).Warn("could not start config file watcher, hot-reload disabled")
	} else if watcher != nil {
		go watcher.Run()
		defer watcher.Close()
	}

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		logger.WithError(err).Fatal("building audit logger")
	}
	defer auditLogger.Close()

	keyManager, err := buildKeyManager(cfg.KeyManager)
	if err != nil {
		logger.WithError(err).Fatal("building key manager")
	}
	if keyManager != nil {
		defer keyManager.Close(context.Background())
	}

	filePermits := admission.NewSemaphore(admission.DiscoverFilePermitCapacity())
	buildPermit := admission.NewSemaphore(1)
	if cfg.Server.ReaderThreads <= 0 {
		cfg.Server.ReaderThreads = admission.DefaultReaderThreads()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithField("addr", cfg.Server.DropListenAddr).Info("waiting for Drop peer")
	dropServer, err := rpc.NewServer(ctx, cfg.Server.DropListenAddr, logger)
	if err != nil {
		logger.WithError(err).Fatal("starting Drop RPC transport")
	}
	defer dropServer.Close()

	reg := backend.NewDefaultRegistry(func(ctx context.Context, root string) (backend.VersionBackend, error) {
		be, err := backend.NewS3Backend(ctx, root)
		if err != nil {
			return nil, err
		}
		return be, nil
	})

	// GENERATE_MANIFEST and GENERATE_ROOT_CA/GENERATE_CLIENT_CERT are
	// opaque callouts (spec §1 Non-goals): this process only answers the
	// backend-introspection RPCs a Drop peer needs to resolve library
	// roots, not manifest/certificate generation.
	dropServer.RegisterHandler(wire.TypeListFilesQuery, rpc.ListFilesHandler(reg))
	dropServer.RegisterHandler(wire.TypeHasBackendQuery, rpc.HasBackendHandler(reg))
	dropServer.RegisterHandler(wire.TypePeekFileQuery, rpc.PeekFileHandler(reg))

	builder := dlcontext.NewBuilder(dropServer, reg)
	cache := dlcontext.NewCache(builder, buildPermit, cfg.Cache.TTL, m)
	if keyManager != nil {
		builder.SetKeyManager(keyManager)
		cache.SetKeyManager(keyManager)
	}
	go cache.RunSweeper(ctx, cfg.Cache.SweepInterval)

	rootWatcher, err := dlcontext.NewRootWatcher(cache, logger)
	if err != nil {
		logger.WithError(err).Warn("could not start root watcher, external directory removal will only be caught by the TTL sweep")
	} else {
		cache.SetRootWatcher(rootWatcher)
		go rootWatcher.Run()
		defer rootWatcher.Close()
	}

	asm := assembler.New(filePermits)

	st := state.New(cache, asm, dropServer, filePermits)

	tracer, shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled: failed to initialize exporter")
		tracer = &tracing.Tracer{}
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	apiServer := api.NewServer(st, dropServer, logger, m, auditLogger)
	apiServer.SetTracer(tracer)
	handler := middleware.RecoveryMiddleware(logger)(middleware.LoggingMiddleware(logger)(apiServer.Router()))

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // chunk streams can run long
	}

	go func() {
		logger.WithField("addr", cfg.Server.ListenAddr).Info("serving HTTP content surface")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
}

// reportHardwareAcceleration publishes the AES-NI/ARMv8 acceleration
// status for the current config to Prometheus, re-evaluated on every
// config reload since the enable flags can change without a restart.
func reportHardwareAcceleration(m *metrics.Metrics, cfg config.Config) {
	m.SetHardwareAccelerationStatus("aesni", cfg.Hardware.EnableAESNI && crypto.HasAESHardwareSupport())
	m.SetHardwareAccelerationStatus("armv8_aes", cfg.Hardware.EnableARMv8AES && crypto.HasAESHardwareSupport())
}

// buildKeyManager selects a crypto.KeyManager based on cfg.Provider.
// "none" leaves manifest keys unwrapped (the default; matches the
// original depot, which never wraps the per-version key at rest).
func buildKeyManager(cfg config.KeyManagerConfig) (crypto.KeyManager, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "kmip":
		return crypto.NewCosmianKMIPManager(crypto.CosmianKMIPOptions{
			Endpoint: cfg.KMIP.Endpoint,
			Keys:     []crypto.KMIPKeyReference{{ID: cfg.KMIP.KeyID, Version: cfg.KMIP.Version}},
			Timeout:  cfg.KMIP.Timeout,
			Provider: "cosmian-kmip",
		})
	case "local":
		if cfg.LocalKey != "" {
			return crypto.LoadLocalKeyManager("local", cfg.LocalKey)
		}
		return crypto.NewLocalKeyManager("local")
	default:
		return nil, nil
	}
}
