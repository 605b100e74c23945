package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"marketsync/internal/di"
	"marketsync/internal/domain/repository"
	internalrepo "marketsync/internal/repository"
	"marketsync/internal/service/exchange"
	"marketsync/pkg/config"
	"marketsync/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		log.Fatalf("dependency setup failed: %v", err)
	}

	app, err := di.InitializeApp(cfg, deps)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

// buildDeps assembles the external capabilities from the built-in
// implementations. A deployment embedding this module as a library calls
// di.InitializeApp with its own Deps instead.
func buildDeps(cfg *config.Config) (*di.Deps, error) {
	if cfg.Exchange.Driver != "sim" {
		return nil, fmt.Errorf("unknown exchange driver %q", cfg.Exchange.Driver)
	}

	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}

	factory := func() (repository.ExchangeClient, error) { return exchange.NewSim(), nil }
	client, _ := factory()
	return &di.Deps{
		Exchange: client,
		Factory:  factory,
		Registry: internalrepo.NewStaticRegistry(di.MarketsFromConfig(cfg)),
		Wallet:   internalrepo.NewLogLedger(l),
		Orders:   internalrepo.NewMemoryOrderStore(),
	}, nil
}
