//go:build wireinject
// +build wireinject

package di

import (
	"FlowScope/pkg/config"
	"FlowScope/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideRecorder,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideCacheService,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideQueue,

		// Repositories
		ProvideHistoryPersister,
		ProvideHistoryStore,
		ProvideRuleStore,
		ProvideFiringPublisher,

		// Use cases
		ProvideSession,
		ProvideKafkaConsumer,
		ProvideSnapshotHandler,
		ProvideSnapshotCollector,

		// Transport and application
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
