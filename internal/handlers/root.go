// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"context"
	"net/http"
	"time"

	p2pcontext "github.com/azure/peercdn/internal/context"
	contentHandler "github.com/azure/peercdn/internal/handlers/content"
	"github.com/azure/peercdn/internal/orchestrator"
	"github.com/azure/peercdn/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handler creates the HTTP handler serving content, descriptors and metrics.
func Handler(ctx context.Context, f orchestrator.Fetcher, m metrics.Metrics, g prometheus.Gatherer) http.Handler {
	ch := contentHandler.New(ctx, f, m)

	engine := newEngine(ctx)
	registerRoutes(engine, ch.Handle, ch.Descriptor, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	return engine
}

// newEngine creates a new gin engine.
func newEngine(ctx context.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	baseLog := zerolog.Ctx(ctx)

	engine.Use(func(c *gin.Context) {
		p2pcontext.FillCorrelationId(c)
		c.Set(p2pcontext.LoggerCtxKey, baseLog)

		l := p2pcontext.Logger(c)
		l.Debug().Msg("request start")
		s := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := l.Info()
		if status >= 400 && status < 500 {
			event = l.Warn()
		} else if status >= 500 {
			event = l.Error()
		}

		if c.Errors != nil {
			errs := []error{}
			for _, e := range c.Errors {
				errs = append(errs, e.Err)
			}
			event = event.Errs("error", errs)
		}

		event.Dur("duration", time.Since(s)).Str("method", c.Request.Method).Int("status", status).Msg("request served")
	})

	engine.Use(gin.Recovery())
	return engine
}

// registerRoutes registers the routes for the HTTP server.
func registerRoutes(engine *gin.Engine, content, descriptors gin.HandlerFunc, metricsHandler http.Handler) {
	engine.HEAD("/content/*url", content)
	engine.GET("/content/*url", content)

	engine.GET("/descriptors/*url", descriptors)

	engine.GET("/metrics", gin.WrapH(metricsHandler))
}
