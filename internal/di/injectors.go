//go:build wireinject
// +build wireinject

package di

import (
	wire "github.com/google/wire"

	"shd/internal"
	"shd/internal/controllers"
	"shd/internal/livestatus"
	"shd/internal/poller"
	"shd/internal/providers"
	"shd/internal/services"
	"shd/internal/storage"
	"shd/internal/structures"
)

func InitApp(cfg *structures.CliFlags) (*internal.App, error) {

	wire.Build(
		providers.NewConfigProvider,
		providers.NewLogProvider,
		providers.NewMetricsProvider,
		providers.NewInstrumentedCacheProvider,

		storage.NewZstdCompressor,
		storage.NewBackend,
		wire.Bind(new(storage.HistoryStore), new(storage.Backend)),
		services.NewHistoryService,
		services.NewIdleEvictor,
		livestatus.NewClient,
		poller.NewScheduler,
		poller.NewHealthMonitor,
		controllers.NewTenantResolver,
		controllers.NewApiController,
		controllers.NewHealthController,
		internal.InitRoutes,
		internal.NewApp,
	)

	return nil, nil
}
