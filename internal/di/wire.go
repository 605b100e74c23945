//go:build wireinject
// +build wireinject

package di

import (
	"marketsync/pkg/config"
	"marketsync/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, deps *Deps) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Shared infrastructure
		ProvideCache,
		ProvideBlobStore,
		ProvidePublisher,
		ProvideHub,

		// Repositories and coordination
		ProvideBarStore,
		ProvideGuard,

		// Use cases
		ProvideHistorical,
		ProvideTickers,
		ProvideOrders,

		// HTTP surface and application server
		ProvideRouter,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
