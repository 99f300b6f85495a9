// Command server runs the A2A protocol engine daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/babylon-markets/a2a/config"
	"github.com/babylon-markets/a2a/logger"
	"github.com/babylon-markets/a2a/registry"
	"github.com/babylon-markets/a2a/server"
	"github.com/babylon-markets/a2a/store"
	"github.com/babylon-markets/a2a/types"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	log := logger.New("a2a-server")

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Error(err, "failed to load configuration")
		os.Exit(1)
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	reg, closeReg, err := buildRegistry(cfg, log)
	if err != nil {
		log.Error(err, "failed to initialize identity registry")
		os.Exit(1)
	}
	defer closeReg()

	analyses, err := buildStore(cfg)
	if err != nil {
		log.Error(err, "failed to initialize analysis store")
		os.Exit(1)
	}
	defer analyses.Close()

	feed := server.NewFeed()
	seedDemoMarkets(feed)

	srv, err := server.New(cfg, server.Deps{
		Registry: reg,
		Analyses: analyses,
		Markets:  feed,
	}, log)
	if err != nil {
		log.Error(err, "failed to assemble server")
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Error(err, "server stopped")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "shutdown error")
	}
}

// buildRegistry selects the chain-backed registry when an RPC endpoint is
// configured, otherwise a static registry seeded from the environment for
// local development.
func buildRegistry(cfg *config.ServerConfig, log *logger.Logger) (registry.Registry, func(), error) {
	if cfg.Registry.RPCEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		chain, err := registry.DialChainRegistry(ctx, cfg.Registry.RPCEndpoint, cfg.Registry.ContractAddress)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using chain registry at %s", cfg.Registry.RPCEndpoint)
		return chain, chain.Close, nil
	}

	static := registry.NewStaticRegistry()
	if addr := os.Getenv("A2A_DEV_AGENT_ADDRESS"); addr != "" {
		static.Register(&types.AgentProfile{
			TokenID:  1,
			Address:  addr,
			Name:     "dev-agent",
			IsActive: true,
		})
		log.Info("registered dev agent %s as token 1", addr)
	}
	log.Warn("no chain RPC configured, using in-memory registry")
	return static, func() {}, nil
}

func buildStore(cfg *config.ServerConfig) (store.AnalysisStore, error) {
	ttl := time.Duration(cfg.Store.TTLMinutes) * time.Minute
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path != "" {
		return store.NewSQLiteStore(cfg.Store.Path, cfg.Store.MaxPerMarket, ttl)
	}
	return store.NewMemoryStore(cfg.Store.MaxPerMarket, ttl), nil
}

// seedDemoMarkets gives a bare daemon something to serve. Production
// deployments feed markets from the trading platform instead.
func seedDemoMarkets(feed *server.Feed) {
	feed.Seed(types.Market{
		ID:       "MKT-BTC-100K",
		Question: "Will BTC close above $100k this quarter?",
		Kind:     "prediction",
		YesPrice: 0.52,
		NoPrice:  0.48,
		Status:   "open",
	})
	feed.Seed(types.Market{
		ID:     "ETH-PERP",
		Ticker: "ETH-PERP",
		Kind:   "perp",
		Price:  2400,
		Status: "open",
	})
}
