// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azure/peercdn/internal/content"
	"github.com/azure/peercdn/internal/distribution"
	"github.com/azure/peercdn/internal/flight"
	"github.com/azure/peercdn/internal/origin"
	"github.com/azure/peercdn/internal/store"
	"github.com/azure/peercdn/pkg/descriptor"
	"github.com/azure/peercdn/pkg/metrics"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
)

// Options configures an orchestrator.
type Options struct {
	// ChunkSize is the chunk size of generated descriptors.
	ChunkSize int64

	// TTL is the lifetime of cached descriptors.
	TTL time.Duration

	// Concurrency is the number of parallel origin range requests.
	Concurrency int

	// DistributionTimeout bounds a swarm download.
	DistributionTimeout time.Duration

	// SwarmFailureTTL is how long a swarm failure makes fetches skip a cached descriptor.
	SwarmFailureTTL time.Duration

	// Now returns the current time.
	Now func() time.Time

	// Sessions is the single-flight registry of fetches. A new one is created if nil.
	Sessions *flight.Registry[*Result]
}

// Orchestrator drives fetches through cache lookup, origin fallback and swarm download.
type Orchestrator struct {
	store    store.Store
	content  content.Store
	origin   origin.Downloader
	engine   distribution.Engine
	metrics  metrics.Metrics
	sessions *flight.Registry[*Result]

	// swarmFailures holds content ids whose swarm download recently failed.
	swarmFailures *ristretto.Cache

	opts Options
}

var _ Fetcher = &Orchestrator{}

// New creates an orchestrator. Zero-valued options take their defaults.
func New(st store.Store, cs content.Store, dl origin.Downloader, engine distribution.Engine, m metrics.Metrics, opts Options) (*Orchestrator, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = origin.DefaultConcurrency
	}
	if opts.DistributionTimeout <= 0 {
		opts.DistributionTimeout = DefaultDistributionTimeout
	}
	if opts.SwarmFailureTTL <= 0 {
		opts.SwarmFailureTTL = DefaultSwarmFailureTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if m == nil {
		m = metrics.Nop
	}
	if opts.Sessions == nil {
		opts.Sessions = flight.NewRegistry[*Result]()
	}

	c, err := ristretto.NewCache(&ristretto.Config{NumCounters: 1e5, MaxCost: 1e4, BufferItems: 64})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:         st,
		content:       cs,
		origin:        dl,
		engine:        engine,
		metrics:       m,
		sessions:      opts.Sessions,
		swarmFailures: c,
		opts:          opts,
	}, nil
}

// Fetch joins the active fetch for key or starts one, and waits for its outcome.
// A caller whose ctx is done stops waiting; the fetch is cancelled once no caller waits for it.
func (o *Orchestrator) Fetch(ctx context.Context, key string) (*Result, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "orchestrator").Str("key", key).Logger()

	res, shared, err := o.sessions.Do(log.WithContext(ctx), key, func(ctx context.Context, s *flight.Session[*Result]) (*Result, error) {
		l := log.With().Str("session", s.ID).Logger()
		return o.run(l.WithContext(ctx), key)
	})
	if shared {
		log.Debug().Err(err).Msg("joined active fetch")
	}

	return res, err
}

// Descriptor returns the fresh cached descriptor for key, or nil if there is none.
func (o *Orchestrator) Descriptor(ctx context.Context, key string) ([]byte, error) {
	e, err := o.store.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if e == nil || !e.Fresh(o.opts.Now()) {
		return nil, nil
	}
	return e.Descriptor, nil
}

// fetch tracks the state of one run.
type fetch struct {
	key         string
	transitions []State
	log         zerolog.Logger
}

// enter moves the fetch to s.
func (f *fetch) enter(s State) {
	f.transitions = append(f.transitions, s)
	f.log.Debug().Str("state", s.String()).Msg("fetch transition")
}

// fail moves the fetch to Failed because of err.
func (f *fetch) fail(err error) error {
	state := f.transitions[len(f.transitions)-1]
	f.enter(Failed)
	f.log.Error().Err(err).Str("state", state.String()).Msg("fetch failed")
	return &FetchError{Key: f.key, State: state, Err: err, Transitions: f.transitions}
}

// complete moves the fetch to Completed.
func (f *fetch) complete(d *descriptor.Descriptor, src Source, path string) *Result {
	f.enter(Completed)
	f.log.Info().Str("source", string(src)).Str("id", d.ContentID.String()).Int64("size", d.TotalLength).Msg("fetch completed")
	return &Result{Key: f.key, Descriptor: d, Source: src, Path: path, Transitions: f.transitions}
}

// run executes the fetch state machine for key.
func (o *Orchestrator) run(ctx context.Context, key string) (*Result, error) {
	f := &fetch{key: key, transitions: []State{Idle}, log: *zerolog.Ctx(ctx)}

	f.enter(CacheLookup)
	e, err := o.store.Lookup(ctx, key)
	if err != nil {
		return nil, f.fail(err)
	}

	switch {
	case e == nil:
		o.metrics.RecordCacheLookup(metrics.LookupMiss)

	case !e.Fresh(o.opts.Now()):
		o.metrics.RecordCacheLookup(metrics.LookupStale)
		f.log.Debug().Time("expires", e.ExpiresAt).Msg("cached descriptor is stale")

	default:
		o.metrics.RecordCacheLookup(metrics.LookupHit)

		d, err := descriptor.Decode(e.Descriptor)
		if err != nil {
			return nil, f.fail(err)
		}

		if _, failed := o.swarmFailures.Get(d.ContentID.Hex()); failed {
			f.log.Info().Str("id", d.ContentID.String()).Msg("skipping cached descriptor after recent swarm failure")
			break
		}

		f.enter(DistributionFetch)
		err = o.distribute(ctx, d.ContentID, e.Descriptor)
		if err == nil {
			return f.complete(d, SourceCache, o.content.Path(d.ContentID)), nil
		}
		if ctx.Err() != nil {
			return nil, f.fail(err)
		}

		o.swarmFailures.SetWithTTL(d.ContentID.Hex(), struct{}{}, 1, o.opts.SwarmFailureTTL)
		o.swarmFailures.Wait()
		f.log.Warn().Err(err).Str("id", d.ContentID.String()).Msg("swarm fetch failed, falling back to origin")
	}

	f.enter(OriginFetch)
	data, err := o.origin.Download(ctx, key, o.opts.Concurrency)
	if err != nil {
		return nil, f.fail(err)
	}

	f.enter(DescriptorBuild)
	d, err := descriptor.Generate(data, o.opts.ChunkSize)
	if err != nil {
		return nil, f.fail(err)
	}

	encoded, err := descriptor.Encode(d)
	if err != nil {
		return nil, f.fail(err)
	}

	path, err := o.content.Put(ctx, d.ContentID, data)
	if err != nil {
		return nil, f.fail(err)
	}

	f.enter(CachePopulate)
	if err := o.store.Upsert(ctx, store.NewEntry(key, encoded, o.opts.Now(), o.opts.TTL)); err != nil {
		// The content is still served; the next fetch goes to origin again.
		o.metrics.RecordCachePopulateFailure()
		f.log.Error().Err(err).Msg("cache populate error")
	}

	f.enter(DistributionFetch)
	if err := o.distribute(ctx, d.ContentID, encoded); err != nil {
		return nil, f.fail(err)
	}

	return f.complete(d, SourceOrigin, path), nil
}

// distribute submits the descriptor to the swarm and waits for the download within the distribution timeout.
func (o *Orchestrator) distribute(ctx context.Context, id descriptor.ContentID, encoded []byte) error {
	s := time.Now()
	outcome := metrics.OutcomeFailure
	defer func() {
		o.metrics.RecordDistribution(outcome, time.Since(s).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, o.opts.DistributionTimeout)
	defer cancel()

	h, err := o.engine.Submit(ctx, id, encoded)
	if err != nil {
		return fmt.Errorf("submit %v: %w", id, err)
	}

	err = o.engine.Await(ctx, h)
	switch {
	case err == nil:
		outcome = metrics.OutcomeSuccess
		return nil
	case errors.Is(err, distribution.ErrTimeout):
		outcome = metrics.OutcomeTimeout
	}

	return fmt.Errorf("await %v: %w", id, err)
}
