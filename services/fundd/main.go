package fundd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"invfund/config"
	"invfund/observability/logging"
	"invfund/storage"
)

// Main initialises and runs the fund daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/fundd/config.yaml", "path to fundd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	nodeCfg, err := config.Load(cfg.FundConfigPath)
	if err != nil {
		return fmt.Errorf("load fund config: %w", err)
	}

	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("FUND_ENV"))
	}
	logger := logging.Setup("fundd", env,
		logging.WithLevel(nodeCfg.LogLevel),
		logging.WithFile(nodeCfg.LogFile),
	)

	params, err := nodeCfg.Fund.Params()
	if err != nil {
		return fmt.Errorf("parse fund params: %w", err)
	}

	db, err := openDatabase(nodeCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := NewNode(db, params)
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}
	node.SetEmitter(newLogEmitter(logger))

	token, err := cfg.Auth.ResolveBearerToken()
	if err != nil {
		return fmt.Errorf("resolve api token: %w", err)
	}
	if token == "" && nodeCfg.APITokenEnv != "" {
		token = strings.TrimSpace(os.Getenv(nodeCfg.APITokenEnv))
	}
	auth := NewAuthenticator(token)
	if !auth.Enabled() {
		logger.Warn("mutating API is unauthenticated; configure a bearer token for production use")
	}

	server := NewServer(node, auth, cfg.RateLimit, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fundd listening", "address", cfg.ListenAddress, "backend", nodeCfg.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "fund.ldb"))
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "fund.db"))
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
