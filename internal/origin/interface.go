// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/azure/peercdn/pkg/math"
	"github.com/azure/peercdn/pkg/metrics"
)

var (
	// ErrLengthUnknown indicates that the origin did not report the content length.
	ErrLengthUnknown = errors.New("origin content length unknown")

	// ErrPartialFailure indicates that a range could not be fetched after all retries.
	ErrPartialFailure = errors.New("origin range fetch failed")

	// ErrTimeout indicates that an origin request timed out.
	ErrTimeout = errors.New("origin request timed out")

	// ErrContentChanged indicates that the content changed while it was being downloaded.
	ErrContentChanged = errors.New("origin content changed during download")

	// ErrUnexpectedStatus indicates an origin response with an unusable status code.
	ErrUnexpectedStatus = errors.New("unexpected origin response status")
)

var (
	// DefaultConcurrency is the default number of ranges fetched in parallel.
	DefaultConcurrency = 4

	// DefaultRetries is the default number of retries per request.
	DefaultRetries = 3

	// DefaultInitialBackoff is the default delay before the first retry.
	DefaultInitialBackoff = 200 * time.Millisecond

	// DefaultRequestTimeout is the default timeout of a single origin request.
	DefaultRequestTimeout = 30 * time.Second
)

// Downloader fetches whole content objects from an origin.
type Downloader interface {
	// Download fetches the content at url using up to concurrency parallel range requests.
	// The result is byte-identical to a single unranged fetch.
	Download(ctx context.Context, url string, concurrency int) ([]byte, error)
}

// Options configures a downloader.
type Options struct {
	// Client is the HTTP client used for origin requests.
	Client *http.Client

	// Retries is the number of retries per request.
	Retries int

	// InitialBackoff is the delay before the first retry; it grows exponentially.
	InitialBackoff time.Duration

	// RequestTimeout bounds each request.
	RequestTimeout time.Duration

	// Metrics records origin response speeds.
	Metrics metrics.Metrics

	// Progress, if set, is called once the total length is known and returns a writer that
	// receives every byte read from the origin.
	Progress func(total int64) io.Writer
}

// DefaultOptions returns the default downloader options.
func DefaultOptions() Options {
	return Options{
		Client:         http.DefaultClient,
		Retries:        DefaultRetries,
		InitialBackoff: DefaultInitialBackoff,
		RequestTimeout: DefaultRequestTimeout,
		Metrics:        metrics.Nop,
	}
}

// PartialFailureError describes a range that could not be fetched.
type PartialFailureError struct {
	Range math.Range
	Err   error
}

// Error implements error.
func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%v %v: %v", ErrPartialFailure, e.Range, e.Err)
}

// Unwrap matches both ErrPartialFailure and the cause.
func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}
