//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalLoop/pkg/config"
	"SignalLoop/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCache,
		ProvidePostgresClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideLedger,
		ProvideStateStore,
		ProvideOutcomeArchive,
		ProvideEventPublisher,
		ProvideMarketData,

		// Use cases
		ProvideEngine,
		ProvideJobQueue,
		ProvideScheduler,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
