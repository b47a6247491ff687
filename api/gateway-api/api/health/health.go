// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package gateway_health_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/connectors"
)

type healthCheckApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	postgres connectors.PostgresConnector
}

func New(cfg *config.AppConfig, logger commons.Logger, postgres connectors.PostgresConnector) *healthCheckApi {
	return &healthCheckApi{
		cfg:      cfg,
		logger:   logger,
		postgres: postgres,
	}
}

// Healthz is the liveness probe: the process is up and serving.
func (hApi *healthCheckApi) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Readiness reports whether the gateway can take calls, which requires the
// call-context database to be reachable.
func (hApi *healthCheckApi) Readiness(c *gin.Context) {
	sqlDB, err := hApi.postgres.Database().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		hApi.logger.Errorf("readiness check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
