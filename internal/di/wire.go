//go:build wireinject
// +build wireinject

package di

import (
	"SigPull/pkg/config"
	"SigPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideBreaker,
		ProvideUpstreamSource,
		ProvideEventSource,

		// Repositories
		ProvideSignalStore,

		// Use cases
		ProvideProcessor,
		ProvidePoller,
		ProvideSubscriber,
		ProvideBackfill,
		ProvideFullScan,

		// HTTP + application
		ProvideOpsHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
