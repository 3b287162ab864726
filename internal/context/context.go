// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package context

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys.
const (
	CorrelationIdCtxKey = "correlation_id"
	ContentKeyCtxKey    = "content_key"
	LoggerCtxKey        = "logger"
)

// Request headers.
const (
	CorrelationHeaderKey = "X-Peercdn-Correlation-Id"
	NodeHeaderKey        = "X-Peercdn-Node"
	ContentIDHeaderKey   = "X-Peercdn-Content-Id"
	SourceHeaderKey      = "X-Peercdn-Source"
)

var (
	NodeName, _ = os.Hostname()
)

// FillCorrelationId sets the correlation id from the request header, or a new one.
func FillCorrelationId(c *gin.Context) {
	correlationId := c.Request.Header.Get(CorrelationHeaderKey)
	if correlationId == "" {
		correlationId = uuid.New().String()
	}
	c.Set(CorrelationIdCtxKey, correlationId)
}

// Logger gets the logger with request specific fields.
func Logger(c *gin.Context) zerolog.Logger {
	var l zerolog.Logger
	obj, ok := c.Get(LoggerCtxKey)
	if !ok {
		l = zerolog.Nop()
	} else {
		ctxLog := obj.(*zerolog.Logger)
		l = *ctxLog
	}

	return l.With().Str("correlationid", c.GetString(CorrelationIdCtxKey)).Str("url", c.Request.URL.String()).Str("ip", c.ClientIP()).Logger()
}

// ContentKey extracts the content key (an origin URL) from the incoming request URL.
func ContentKey(c *gin.Context) string {
	key := strings.TrimPrefix(c.Param("url"), "/")
	if c.Request.URL.RawQuery != "" {
		key += "?" + c.Request.URL.RawQuery
	}
	return key
}

// SetResponseHeaders sets the headers common to all responses.
func SetResponseHeaders(c *gin.Context) {
	c.Header(NodeHeaderKey, NodeName)
	c.Header(CorrelationHeaderKey, c.GetString(CorrelationIdCtxKey))
}
