package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	stakeabi "github.com/0xmhha/staking-indexer/abi"
	"github.com/0xmhha/staking-indexer/api"
	"github.com/0xmhha/staking-indexer/balance"
	"github.com/0xmhha/staking-indexer/client"
	"github.com/0xmhha/staking-indexer/events"
	"github.com/0xmhha/staking-indexer/fetch"
	"github.com/0xmhha/staking-indexer/internal/config"
	"github.com/0xmhha/staking-indexer/internal/constants"
	"github.com/0xmhha/staking-indexer/internal/logger"
	"github.com/0xmhha/staking-indexer/internal/retry"
	"github.com/0xmhha/staking-indexer/ledger"
	"github.com/0xmhha/staking-indexer/storage"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

type flags struct {
	configFile     string
	showVersion    bool
	evmEndpoint    string
	ledgerEndpoint string
	stakeManager   string
	dbDriver       string
	dbDSN          string
	batchSize      int
	logLevel       string
	logFormat      string

	enableAPI bool
	apiHost   string
	apiPort   int
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML)")
	flag.BoolVar(&f.showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&f.evmEndpoint, "evm-rpc", "", "Ethereum RPC endpoint URL")
	flag.StringVar(&f.ledgerEndpoint, "ledger-rpc", "", "Chainflip node endpoint URL")
	flag.StringVar(&f.stakeManager, "stake-manager", "", "StakeManager contract address")
	flag.StringVar(&f.dbDriver, "db-driver", "", "Database driver (postgres, sqlite)")
	flag.StringVar(&f.dbDSN, "db", "", "Database DSN")
	flag.IntVar(&f.batchSize, "batch-size", 0, "Number of ledger blocks indexed concurrently during catch-up")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	flag.BoolVar(&f.enableAPI, "api", false, "Enable API server")
	flag.StringVar(&f.apiHost, "api-host", "", "API server host")
	flag.IntVar(&f.apiPort, "api-port", 0, "API server port")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	if f.showVersion {
		fmt.Printf("staking-indexer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := initLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting staking indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("evm_endpoint", cfg.EVM.Endpoint),
		zap.String("ledger_endpoint", cfg.Ledger.Endpoint),
		zap.String("stake_manager", cfg.EVM.StakeManager),
		zap.String("db_driver", cfg.Database.Driver),
	)

	if err := run(cfg, log); err != nil {
		if fetch.IsFatal(err) {
			log.Error("Indexer halted on inconsistent chain data", zap.Error(err))
		} else {
			log.Error("Indexer stopped with error", zap.Error(err))
		}
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("Indexer stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(&storage.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
		Logger:          logger.WithComponent(log, "storage"),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	store := storage.NewStore(db)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	ethClient, err := client.NewClient(&client.Config{
		Endpoint: cfg.EVM.Endpoint,
		Timeout:  cfg.EVM.Timeout,
		Logger:   logger.WithComponent(log, "evm"),
	})
	if err != nil {
		return fmt.Errorf("failed to create Ethereum client: %w", err)
	}
	defer ethClient.Close()

	ledgerClient, err := ledger.NewClient(&ledger.Config{
		Endpoint:   cfg.Ledger.Endpoint,
		SS58Prefix: cfg.Ledger.SS58Prefix,
		Logger:     logger.WithComponent(log, "ledger"),
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	defer ledgerClient.Close()

	contract, err := stakeabi.LoadStakeManager(common.HexToAddress(cfg.EVM.StakeManager), cfg.EVM.ABIPath)
	if err != nil {
		return fmt.Errorf("failed to load StakeManager ABI: %w", err)
	}

	eventBus := events.NewEventBus(cfg.EventBus.PublishBufferSize, constants.DefaultSubscriberBufferSize)
	eventBus.SetMetrics(events.NewMetrics(nil, "indexer"))
	go eventBus.Run()
	defer eventBus.Stop()

	policy := retry.Policy{
		Attempts: cfg.Sync.RetryAttempts,
		Delay:    cfg.Sync.RetryDelay,
	}

	evmIngestor := fetch.NewEVMIngestor(ethClient, contract, store, eventBus, fetch.EVMConfig{
		ReorgProtection: cfg.EVM.ReorgProtection,
		MaxBlockRange:   cfg.EVM.MaxBlockRange,
		SS58Prefix:      cfg.Ledger.SS58Prefix,
		Retry:           policy,
	}, logger.WithComponent(log, "evm_ingestor"))

	ledgerIngestor := fetch.NewLedgerIngestor(ledgerClient, store, eventBus, fetch.LedgerConfig{
		ReorgProtection: cfg.Ledger.ReorgProtection,
		StakingPallet:   cfg.Ledger.StakingPallet,
		SS58Prefix:      cfg.Ledger.SS58Prefix,
		Retry:           policy,
	}, logger.WithComponent(log, "ledger_ingestor"))

	indexer, err := fetch.NewIndexer(evmIngestor, ledgerIngestor, store, eventBus, fetch.Config{
		SyncThreshold:     cfg.Sync.Threshold,
		PollInterval:      cfg.Sync.PollInterval,
		BatchSize:         cfg.Ledger.BatchSize,
		DispatchDelay:     cfg.Ledger.DispatchDelay,
		MaxLiveFailures:   cfg.Sync.MaxLiveFailures,
		EVMStartHeight:    cfg.EVM.StartHeight,
		LedgerStartHeight: cfg.Ledger.StartHeight,
	}, logger.WithComponent(log, "indexer"))
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := indexer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.API.Enabled {
		service := balance.NewService(store, ledgerClient, logger.WithComponent(log, "balance"))
		api.Version = version

		apiServer, err := api.NewServer(apiConfig(cfg), logger.WithComponent(log, "api"), service, eventBus)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to create API server: %w", err)
		}
		apiServer.SetSyncStateFunc(func() string { return indexer.State().String() })

		g.Go(apiServer.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
			defer cancel()
			return apiServer.Stop(shutdownCtx)
		})
	}

	return g.Wait()
}

// loadConfig loads .env, then the config file and environment, with flags
// taking precedence over both
func loadConfig(f *flags) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(f.configFile, func(cfg *config.Config) { applyFlags(cfg, f) })
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, f *flags) {
	if f.evmEndpoint != "" {
		cfg.EVM.Endpoint = f.evmEndpoint
	}
	if f.ledgerEndpoint != "" {
		cfg.Ledger.Endpoint = f.ledgerEndpoint
	}
	if f.stakeManager != "" {
		cfg.EVM.StakeManager = f.stakeManager
	}
	if f.dbDriver != "" {
		cfg.Database.Driver = f.dbDriver
	}
	if f.dbDSN != "" {
		cfg.Database.DSN = f.dbDSN
	}
	if f.batchSize > 0 {
		cfg.Ledger.BatchSize = f.batchSize
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.enableAPI {
		cfg.API.Enabled = true
	}
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort > 0 {
		cfg.API.Port = f.apiPort
	}
}

// apiConfig maps the file configuration onto the server configuration.
// With no API selected explicitly, every API is served.
func apiConfig(cfg *config.Config) *api.Config {
	c := api.DefaultConfig()
	c.Host = cfg.API.Host
	c.Port = cfg.API.Port
	c.EnableCORS = cfg.API.EnableCORS
	if len(cfg.API.AllowedOrigins) > 0 {
		c.AllowedOrigins = cfg.API.AllowedOrigins
	}
	c.EnableRateLimit = cfg.API.EnableRateLimit
	c.RateLimitPerSecond = cfg.API.RateLimitPerSecond
	c.RateLimitBurst = cfg.API.RateLimitBurst

	if cfg.API.EnableGraphQL || cfg.API.EnableJSONRPC || cfg.API.EnableWebSocket {
		c.EnableGraphQL = cfg.API.EnableGraphQL
		c.EnableJSONRPC = cfg.API.EnableJSONRPC
		c.EnableWebSocket = cfg.API.EnableWebSocket
	}
	c.EnablePlayground = c.EnableGraphQL
	return c
}

// initLogger initializes the logger based on configuration
func initLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	lc := &logger.Config{
		Level:       cfg.Level,
		Encoding:    cfg.Format,
		Development: cfg.Format == "console",
	}
	if cfg.File != "" {
		lc.File = &logger.FileConfig{
			Path:       cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	return logger.NewWithConfig(lc)
}
