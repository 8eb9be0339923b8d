package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/warpengine/pkg/apiserver"
	"github.com/cuemby/warpengine/pkg/cache"
	"github.com/cuemby/warpengine/pkg/codec"
	"github.com/cuemby/warpengine/pkg/config"
	"github.com/cuemby/warpengine/pkg/contract"
	"github.com/cuemby/warpengine/pkg/definition"
	"github.com/cuemby/warpengine/pkg/evaluator"
	"github.com/cuemby/warpengine/pkg/executor"
	"github.com/cuemby/warpengine/pkg/loader"
	"github.com/cuemby/warpengine/pkg/log"
	"github.com/cuemby/warpengine/pkg/metrics"
	"github.com/cuemby/warpengine/pkg/verify"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warpd",
	Short: "warpd runs the contract state evaluation engine as a daemon",
	Long: `warpd folds contract interaction streams into state, serving reads
over HTTP and persisting confirmed folds to a sort-key cache so later reads
resume from the nearest snapshot instead of refolding from genesis.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("warpd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.Flags().String("config", "", "path to a YAML config file")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.Flags().String("gateway", "", "override the configured gateway URL")
	rootCmd.Flags().String("data-dir", "", "override the configured data directory")
	rootCmd.Flags().String("api-addr", "", "override the configured API listen address")
	rootCmd.Flags().String("tls-cert", "", "path to a TLS certificate (enables TLS when paired with --tls-key)")
	rootCmd.Flags().String("tls-key", "", "path to a TLS private key")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("gateway"); v != "" {
		cfg.GatewayURL = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("api-addr"); v != "" {
		cfg.APIAddr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = log.Level(v)
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = v
	}
	if v, _ := cmd.Flags().GetString("tls-cert"); v != "" {
		cfg.TLSCertFile = v
	}
	if v, _ := cmd.Flags().GetString("tls-key"); v != "" {
		cfg.TLSKeyFile = v
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	log.Logger.Info().Str("version", Version).Msg("starting warpd")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("warpd: failed to create data directory: %w", err)
	}

	fetcher := definition.NewHTTPTxFetcher(cfg.GatewayURL, nil)
	defs := definition.NewLoader(fetcher, false)

	gatewayLoader := loader.NewGatewayLoader(cfg.GatewayURL)
	cachingLoader := loader.NewCachingLoader(gatewayLoader)

	// No sandbox plugins are registered here: concrete JS/WASM handler
	// implementations are outside this engine's scope, so a deployment
	// embedding warpd registers its own via executor.Factory.Register
	// before this point in a fork of main, or links a plugin package in.
	ex := executor.NewFactory()
	cachingEx := executor.NewCachingFactory(ex)

	moduleCache, err := executor.NewDiskModuleCache(filepath.Join(cfg.DataDir, "modules"))
	if err != nil {
		return fmt.Errorf("warpd: failed to open module cache: %w", err)
	}
	cachingEx.SetModuleCache(moduleCache)

	cacheDir := filepath.Join(cfg.DataDir, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("warpd: failed to create cache directory: %w", err)
	}
	store, err := cache.NewBoltCache(cacheDir)
	if err != nil {
		return fmt.Errorf("warpd: failed to open cache: %w", err)
	}
	defer store.Close()

	blacklist, err := verify.NewBlacklist(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("warpd: failed to open blacklist: %w", err)
	}
	defer blacklist.Close()

	allowlist, err := verify.NewSourceAllowlist(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("warpd: failed to open allowlist: %w", err)
	}
	defer allowlist.Close()

	callLog, err := evaluator.NewDurableCallLog(filepath.Join(cfg.DataDir, "calllog.bolt"))
	if err != nil {
		return fmt.Errorf("warpd: failed to open call log: %w", err)
	}
	defer callLog.Close()

	ev := evaluator.NewCacheable(cachingLoader, defs, cachingEx, store, codec.JSON{})
	ev.SetBlacklist(blacklist)
	ev.SetAllowlist(allowlist)
	ev.SetCallLog(callLog)
	ev.RegisterModifier(evaluator.NewEvolve(defs))

	pruner := evaluator.NewCachePruner(store, cfg.CachePruneInterval, cfg.CacheRetain)
	pruner.Start()
	defer pruner.Stop()

	resolver := apiserver.ResolverFunc(func(txID string) *contract.Contract {
		return contract.New(txID, ev, nil, cfg.Evaluator)
	})
	tokens := apiserver.NewTokenManager()
	server := apiserver.New(resolver, store, blacklist, allowlist, tokens)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("cache", true, "ready")
	metrics.RegisterComponent("loader", true, "ready")
	metrics.RegisterComponent("apiserver", true, "ready")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Logger.Info().Str("addr", cfg.APIAddr).Msg("apiserver ready")
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := apiserver.LoadServerCert(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return err
		}
		return server.ListenAndServeTLS(ctx, cfg.APIAddr, cert)
	}
	return server.ListenAndServe(ctx, cfg.APIAddr)
}
