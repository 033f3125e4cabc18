// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge_api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	internal_bridge "github.com/rapidaai/voicelink/api/voicelink-api/internal/bridge"
	"github.com/rapidaai/voicelink/pkg/commons"
)

// Controller is the part of the bridge the control API drives.
type Controller interface {
	Status() internal_bridge.Status
	NotifyUserGesture(ctx context.Context) bool
	Connect(ctx context.Context) error
	Disconnect()
	StopCapture()
}

type BridgeApi struct {
	logger commons.Logger
	bridge Controller
}

func New(logger commons.Logger, bridge Controller) *BridgeApi {
	return &BridgeApi{logger: logger, bridge: bridge}
}

// @Router /v1/status [get]
func (api *BridgeApi) Status(c *gin.Context) {
	c.JSON(http.StatusOK, api.bridge.Status())
}

// Gesture is the explicit user gesture for a headless process. It unlocks
// the output device and flushes audio held while it was suspended.
//
// @Router /v1/gesture [post]
func (api *BridgeApi) Gesture(c *gin.Context) {
	if !api.bridge.NotifyUserGesture(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "output device unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "playback": api.bridge.Status().Playback})
}

// @Router /v1/connect [post]
func (api *BridgeApi) Connect(c *gin.Context) {
	if err := api.bridge.Connect(c.Request.Context()); err != nil {
		api.logger.Errorf("connect requested over control api failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "connection": api.bridge.Status().Connection})
}

// @Router /v1/disconnect [post]
func (api *BridgeApi) Disconnect(c *gin.Context) {
	api.bridge.Disconnect()
	c.JSON(http.StatusOK, gin.H{"success": true, "connection": api.bridge.Status().Connection})
}

// @Router /v1/capture/stop [post]
func (api *BridgeApi) StopCapture(c *gin.Context) {
	api.bridge.StopCapture()
	c.JSON(http.StatusOK, gin.H{"success": true, "capture": api.bridge.Status().Capture})
}
