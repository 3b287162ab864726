// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	p2pcontext "github.com/azure/peercdn/internal/context"
	"github.com/azure/peercdn/internal/distribution"
	"github.com/azure/peercdn/internal/orchestrator"
	"github.com/azure/peercdn/internal/origin"
	"github.com/azure/peercdn/pkg/descriptor"
	"github.com/azure/peercdn/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// DescriptorContentType is the media type of an encoded descriptor.
const DescriptorContentType = "application/x-bittorrent"

// ContentHandler serves fetches and cached descriptors.
type ContentHandler struct {
	fetcher orchestrator.Fetcher
	metrics metrics.Metrics
}

var _ gin.HandlerFunc = (&ContentHandler{}).Handle

// response describes fetched content.
type response struct {
	Key       string `json:"key"`
	ContentID string `json:"content_id"`
	CID       string `json:"cid"`
	Length    int64  `json:"length"`
	ChunkSize int64  `json:"chunk_size"`
	Chunks    int    `json:"chunks"`
	Source    string `json:"source"`
	Path      string `json:"path"`
}

// Handle fetches the content named by the url parameter.
func (h *ContentHandler) Handle(c *gin.Context) {
	key := p2pcontext.ContentKey(c)
	log := p2pcontext.Logger(c).With().Str("key", key).Logger()
	log.Debug().Msg("content handler start")
	s := time.Now()
	defer func() {
		dur := time.Since(s)
		h.metrics.RecordRequest(c.Request.Method, "content", dur.Seconds())
		log.Debug().Dur("duration", dur).Msg("content handler stop")
	}()

	if key == "" {
		// nolint
		c.AbortWithError(http.StatusBadRequest, errors.New("missing content url"))
		return
	}

	res, err := h.fetcher.Fetch(log.WithContext(c.Request.Context()), key)
	if err != nil {
		// nolint
		c.AbortWithError(StatusOf(err), err)
		return
	}

	p2pcontext.SetResponseHeaders(c)
	c.Header(p2pcontext.ContentIDHeaderKey, res.Descriptor.ContentID.String())
	c.Header(p2pcontext.SourceHeaderKey, string(res.Source))

	if c.Request.Method == http.MethodHead {
		c.Header("Content-Length", strconv.FormatInt(res.Descriptor.TotalLength, 10))
		c.Status(http.StatusOK)
		return
	}

	c.JSON(http.StatusOK, response{
		Key:       res.Key,
		ContentID: res.Descriptor.ContentID.String(),
		CID:       res.Descriptor.ContentID.CID().String(),
		Length:    res.Descriptor.TotalLength,
		ChunkSize: res.Descriptor.ChunkSize,
		Chunks:    len(res.Descriptor.Chunks),
		Source:    string(res.Source),
		Path:      res.Path,
	})
}

// Descriptor serves the fresh cached descriptor named by the url parameter.
func (h *ContentHandler) Descriptor(c *gin.Context) {
	key := p2pcontext.ContentKey(c)
	log := p2pcontext.Logger(c).With().Str("key", key).Logger()
	s := time.Now()
	defer func() {
		h.metrics.RecordRequest(c.Request.Method, "descriptors", time.Since(s).Seconds())
	}()

	b, err := h.fetcher.Descriptor(log.WithContext(c.Request.Context()), key)
	if err != nil {
		// nolint
		c.AbortWithError(StatusOf(err), err)
		return
	}

	if b == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	p2pcontext.SetResponseHeaders(c)
	c.Data(http.StatusOK, DescriptorContentType, b)
}

// StatusOf maps a fetch error to an HTTP status code.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, origin.ErrTimeout), errors.Is(err, distribution.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, origin.ErrPartialFailure), errors.Is(err, origin.ErrLengthUnknown), errors.Is(err, origin.ErrUnexpectedStatus), errors.Is(err, origin.ErrContentChanged):
		return http.StatusBadGateway
	case errors.Is(err, descriptor.ErrMalformed), errors.Is(err, distribution.ErrInvalidDescriptor):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new content handler.
func New(ctx context.Context, f orchestrator.Fetcher, m metrics.Metrics) *ContentHandler {
	if m == nil {
		m = metrics.FromContext(ctx)
	}
	return &ContentHandler{fetcher: f, metrics: m}
}
