// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/azure/peercdn/pkg/math"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// downloader is a Downloader over HTTP range requests.
type downloader struct {
	opts Options
}

var _ Downloader = &downloader{}

// New creates a downloader. Zero-valued options take their defaults.
func New(opts Options) Downloader {
	d := DefaultOptions()
	if opts.Client != nil {
		d.Client = opts.Client
	}
	if opts.Retries > 0 {
		d.Retries = opts.Retries
	}
	if opts.InitialBackoff > 0 {
		d.InitialBackoff = opts.InitialBackoff
	}
	if opts.RequestTimeout > 0 {
		d.RequestTimeout = opts.RequestTimeout
	}
	if opts.Metrics != nil {
		d.Metrics = opts.Metrics
	}
	d.Progress = opts.Progress

	return &downloader{opts: d}
}

// Download probes the length, splits it into ranges and fetches them in parallel into one buffer.
func (d *downloader) Download(ctx context.Context, u string, concurrency int) ([]byte, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "origin").Str("url", u).Logger()
	ctx = log.WithContext(ctx)

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid origin url %q: %w", u, err)
	}
	host := parsed.Hostname()

	log.Debug().Msg("origin download start")
	s := time.Now()

	obj, err := d.probe(ctx, u, host)
	if err != nil {
		log.Error().Err(err).Msg("origin probe error")
		return nil, err
	}
	total := obj.size

	var progress io.Writer = io.Discard
	if d.opts.Progress != nil {
		progress = &syncWriter{w: d.opts.Progress(total)}
	}

	buf := make([]byte, total)
	if total == 0 {
		log.Debug().Msg("origin content is empty")
		return buf, nil
	}

	ranges := math.Partition(total, concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range ranges {
		r := r
		g.Go(func() error {
			if err := d.fetchRange(gctx, obj, r, buf[r.Start:r.End], progress); err != nil {
				return &PartialFailureError{Range: r, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("origin download error")
		return nil, err
	}

	log.Debug().Int64("size", total).Int("ranges", len(ranges)).Str("etag", obj.etag).Dur("duration", time.Since(s)).Msg("origin download stop")
	return buf, nil
}

// object is the origin content as seen by the probe.
// Range requests are conditional on its validators so that they all read the same version.
type object struct {
	url  string
	host string
	size int64

	// etag is the strong entity tag, if any. Weak tags cannot be used with If-Match.
	etag         string
	lastModified string
}

// probe requests the first byte to learn the total length and the validators of the content.
func (d *downloader) probe(ctx context.Context, u, host string) (*object, error) {
	obj := &object{url: u, host: host}
	err := d.retry(ctx, func(rctx context.Context) error {
		startTime := time.Now()
		req, err := newRequest(rctx, &object{url: u}, math.Range{Start: 0, End: 1})
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := d.opts.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
		d.opts.Metrics.RecordOriginResponse(host, "probe", time.Since(startTime).Seconds(), 0)

		switch resp.StatusCode {
		case http.StatusOK:
			if resp.ContentLength < 0 {
				return backoff.Permanent(ErrLengthUnknown)
			}
			obj.size = resp.ContentLength

		case http.StatusPartialContent, http.StatusRequestedRangeNotSatisfiable:
			// An empty object cannot satisfy any range and reports "bytes */0".
			l, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
			if err != nil {
				return backoff.Permanent(err)
			}
			if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && l != 0 {
				return backoff.Permanent(fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
			}
			obj.size = l

		default:
			return statusError(resp.StatusCode)
		}

		if etag := resp.Header.Get("ETag"); etag != "" && !strings.HasPrefix(etag, "W/") {
			obj.etag = etag
		}
		obj.lastModified = resp.Header.Get("Last-Modified")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// fetchRange reads r of obj into buf, retrying on transient failures.
func (d *downloader) fetchRange(ctx context.Context, obj *object, r math.Range, buf []byte, progress io.Writer) error {
	log := zerolog.Ctx(ctx).With().Str("range", r.String()).Logger()

	return d.retry(ctx, func(rctx context.Context) error {
		log.Debug().Msg("origin range start")
		startTime := time.Now()

		req, err := newRequest(rctx, obj, r)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := d.opts.Client.Do(req)
		if err != nil {
			log.Warn().Err(err).Msg("origin range request error")
			return err
		}
		defer resp.Body.Close()

		if etag := resp.Header.Get("ETag"); obj.etag != "" && etag != "" && etag != obj.etag {
			log.Warn().Str("etag", etag).Str("expected", obj.etag).Msg("origin content changed")
			return backoff.Permanent(fmt.Errorf("%w: etag %v, expected %v", ErrContentChanged, etag, obj.etag))
		}

		var body io.Reader = resp.Body
		switch resp.StatusCode {
		case http.StatusPartialContent:
			cr := resp.Header.Get("Content-Range")
			start, end, total, err := parseContentRange(cr)
			if err != nil || start != r.Start || end != r.End-1 || total != obj.size {
				log.Warn().Str("content-range", cr).Msg("origin range mismatch")
				return backoff.Permanent(fmt.Errorf("%w: content range %q for %v of %d bytes", ErrUnexpectedStatus, cr, r, obj.size))
			}
		case http.StatusOK:
			if resp.ContentLength >= 0 && resp.ContentLength != obj.size {
				return backoff.Permanent(fmt.Errorf("%w: length %d, expected %d", ErrContentChanged, resp.ContentLength, obj.size))
			}
			// The origin ignored the range; skip to the start of this window.
			if _, err := io.CopyN(io.Discard, resp.Body, r.Start); err != nil {
				return err
			}
		default:
			log.Warn().Int("status", resp.StatusCode).Msg("origin range status error")
			return statusError(resp.StatusCode)
		}

		// A retried attempt rewrites the whole window, so progress may over-count by the bytes of failed attempts.
		n, err := io.ReadFull(io.TeeReader(body, progress), buf)
		d.opts.Metrics.RecordOriginResponse(obj.host, "range", time.Since(startTime).Seconds(), int64(n))
		if err != nil {
			log.Warn().Err(err).Int("read", n).Msg("origin range read error")
			return err
		}

		log.Debug().Dur("duration", time.Since(startTime)).Msg("origin range stop")
		return nil
	})
}

// retry runs op with a per-attempt timeout and exponential backoff between attempts.
func (d *downloader) retry(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.opts.InitialBackoff
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.opts.Retries)), ctx)

	return backoff.Retry(func() error {
		rctx, cancel := context.WithTimeout(ctx, d.opts.RequestTimeout)
		defer cancel()

		err := op(rctx)
		if err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v: %v", ErrTimeout, d.opts.RequestTimeout, err)
		}
		return err
	}, b)
}

// newRequest creates a GET request for r of obj, conditional on the validators of obj.
func newRequest(ctx context.Context, obj *object, r math.Range) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, obj.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", r.Header())
	if obj.etag != "" {
		req.Header.Set("If-Match", obj.etag)
	}
	if obj.lastModified != "" {
		req.Header.Set("If-Unmodified-Since", obj.lastModified)
	}
	return req, nil
}

// statusError classifies a status code: client errors other than 408 and 429 are permanent.
// A failed precondition means the content changed since the probe.
func statusError(code int) error {
	if code == http.StatusPreconditionFailed {
		return backoff.Permanent(fmt.Errorf("%w: %d", ErrContentChanged, code))
	}

	err := fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// parseContentRangeTotal returns the complete length from a Content-Range header such as "bytes 0-0/1234".
func parseContentRangeTotal(rs string) (int64, error) {
	pos := strings.LastIndexByte(rs, '/')
	if rs == "" || pos < 0 {
		return 0, ErrLengthUnknown
	}

	l, err := strconv.ParseInt(rs[pos+1:], 10, 64)
	if err != nil || l < 0 {
		// The complete length may be "*".
		return 0, ErrLengthUnknown
	}
	return l, nil
}

// parseContentRange parses a satisfied Content-Range header such as "bytes 0-999/4000".
func parseContentRange(rs string) (start, end, total int64, err error) {
	spec, ok := strings.CutPrefix(rs, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content range %q", rs)
	}

	bounds, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content range %q", rs)
	}

	first, last, ok := strings.Cut(bounds, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content range %q", rs)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid content range %q: %w", rs, err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid content range %q: %w", rs, err)
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid content range %q: %w", rs, err)
	}
	if start < 0 || end < start || total <= end {
		return 0, 0, 0, fmt.Errorf("invalid content range %q", rs)
	}

	return start, end, total, nil
}

// syncWriter serializes writes from parallel ranges.
type syncWriter struct {
	mx sync.Mutex
	w  io.Writer
}

// Write implements io.Writer.
func (s *syncWriter) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.w.Write(p)
}

var _ io.Writer = &syncWriter{}
