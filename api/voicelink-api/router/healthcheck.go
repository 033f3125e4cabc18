// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package voicelink_routers

import (
	"github.com/gin-gonic/gin"
	healthCheckApi "github.com/rapidaai/voicelink/api/voicelink-api/api/health"
	"github.com/rapidaai/voicelink/api/voicelink-api/config"
	"github.com/rapidaai/voicelink/pkg/commons"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, checks ...healthCheckApi.Check) {
	logger.Info("Internal HealthCheckRoutes added to engine.")
	apiv1 := engine.Group("")
	hcApi := healthCheckApi.New(cfg, logger, checks...)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}
