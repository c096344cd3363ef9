package internal

import (
	"shd/internal/controllers"
	"shd/internal/providers"
)

const apiPrefix = "/api/stream-history"

func InitRoutes(apiController *controllers.ApiController, metrics providers.MetricsProviderInterface) providers.RouterProviderInterface {
	routers := providers.NewRouterProvider()
	routers.Use(providers.RequestIDMiddleware, providers.MetricsMiddlewareFunc(metrics))

	ac := apiController
	routers.Get(apiPrefix+"/config", ac.WithTenant(ac.GetConfig))
	routers.Post(apiPrefix+"/config", ac.WithTenant(ac.SetConfig))
	routers.Post(apiPrefix+"/event", ac.WithTenant(ac.ReceiveEvent))
	routers.Post(apiPrefix+"/tip", ac.WithTenant(ac.ReceiveTip))
	routers.Get(apiPrefix+"/summary", ac.WithTenant(ac.GetSummary))
	routers.Get(apiPrefix+"/performance", ac.WithTenant(ac.GetPerformance))
	routers.Post(apiPrefix+"/backfill-current", ac.WithTenant(ac.BackfillCurrent))
	routers.Post(apiPrefix+"/clear", ac.WithTenant(ac.Clear))
	routers.Get(apiPrefix+"/export", ac.WithTenant(ac.Export))
	routers.Post(apiPrefix+"/import", ac.WithTenant(ac.Import))
	routers.Get(apiPrefix+"/status", ac.WithTenant(ac.GetStatus))
	return routers
}
