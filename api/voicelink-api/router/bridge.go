// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package voicelink_routers

import (
	"github.com/gin-gonic/gin"
	bridgeApi "github.com/rapidaai/voicelink/api/voicelink-api/api/bridge"
	"github.com/rapidaai/voicelink/pkg/commons"
)

func BridgeRoutes(engine *gin.Engine, logger commons.Logger, bridge bridgeApi.Controller) {
	logger.Info("Bridge control routes added to engine.")
	apiv1 := engine.Group("v1")
	bApi := bridgeApi.New(logger, bridge)
	{
		apiv1.GET("/status", bApi.Status)
		apiv1.POST("/gesture", bApi.Gesture)
		apiv1.POST("/connect", bApi.Connect)
		apiv1.POST("/disconnect", bApi.Disconnect)
		apiv1.POST("/capture/stop", bApi.StopCapture)
	}
}
