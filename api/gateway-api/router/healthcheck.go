package gateway_routers

import (
	"github.com/gin-gonic/gin"
	healthCheckApi "github.com/rapidaai/voicegateway/api/gateway-api/api/health"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/connectors"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, postgres connectors.PostgresConnector) {
	logger.Info("Internal HealthCheckRoutes and Connectors added to engine.")
	apiv1 := engine.Group("")
	hcApi := healthCheckApi.New(cfg, logger, postgres)
	{
		apiv1.GET("/health", hcApi.Healthz)
		apiv1.GET("/healthz/", hcApi.Healthz)
		apiv1.GET("/readiness/", hcApi.Readiness)
	}
}
