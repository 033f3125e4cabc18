// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package health_check_api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/voicelink/api/voicelink-api/config"
	"github.com/rapidaai/voicelink/pkg/commons"
)

// Check is one dependency probed by Readiness.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type HealthCheckApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	checks []Check
}

func New(cfg *config.AppConfig, logger commons.Logger, checks ...Check) *HealthCheckApi {
	return &HealthCheckApi{cfg: cfg, logger: logger, checks: checks}
}

func (h *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"healthy": true,
		"service": h.cfg.Name,
		"version": h.cfg.Version,
	})
}

// Readiness fails when any dependency probe fails.
func (h *HealthCheckApi) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	result := make(gin.H, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			h.logger.Warnf("readiness check %s failed: %v", check.Name, err)
			result[check.Name] = err.Error()
			ready = false
			continue
		}
		result[check.Name] = "ok"
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready, "checks": result})
}
