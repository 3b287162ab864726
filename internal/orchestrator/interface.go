// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/azure/peercdn/pkg/descriptor"
)

// State is a step of a fetch.
type State int

const (
	Idle State = iota
	CacheLookup
	OriginFetch
	DescriptorBuild
	CachePopulate
	DistributionFetch
	Completed
	Failed
)

var stateNames = [...]string{
	Idle:              "idle",
	CacheLookup:       "cache_lookup",
	OriginFetch:       "origin_fetch",
	DescriptorBuild:   "descriptor_build",
	CachePopulate:     "cache_populate",
	DistributionFetch: "distribution_fetch",
	Completed:         "completed",
	Failed:            "failed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Source tells where the descriptor of a completed fetch came from.
type Source string

const (
	SourceCache  Source = "cache"
	SourceOrigin Source = "origin"
)

// Result is the outcome of a completed fetch.
type Result struct {
	Key        string
	Descriptor *descriptor.Descriptor

	// Source is where the descriptor came from.
	Source Source

	// Path is where the content is stored.
	Path string

	// Transitions are the states the fetch went through, ending with Completed.
	Transitions []State
}

// FetchError describes a failed fetch.
type FetchError struct {
	Key string

	// State is the state in which the fetch failed.
	State State

	Err error

	// Transitions are the states the fetch went through before failing.
	Transitions []State
}

// Error implements error.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %v failed in %v: %v", e.Key, e.State, e.Err)
}

// Unwrap returns the cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher fetches content by key.
type Fetcher interface {
	// Fetch makes the content for key available locally, at most once concurrently per key.
	Fetch(ctx context.Context, key string) (*Result, error)

	// Descriptor returns the fresh cached descriptor for key, or nil if there is none.
	Descriptor(ctx context.Context, key string) ([]byte, error)
}

var (
	// DefaultChunkSize is the default descriptor chunk size.
	DefaultChunkSize int64 = 1 << 20

	// DefaultTTL is the default lifetime of a cached descriptor.
	DefaultTTL = time.Hour

	// DefaultDistributionTimeout bounds a swarm download.
	DefaultDistributionTimeout = 10 * time.Minute

	// DefaultSwarmFailureTTL is how long a swarm failure makes fetches skip a cached descriptor.
	DefaultSwarmFailureTTL = 30 * time.Second
)
