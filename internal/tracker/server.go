// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/azure/peercdn/internal/store"
	"github.com/azure/peercdn/pkg/descriptor"
	"github.com/azure/peercdn/pkg/metrics"
	"github.com/rs/zerolog"
)

var (
	// DefaultAddr is the default tracker listen address.
	DefaultAddr = "0.0.0.0:8080"

	// DefaultWorkers is the default number of connections handled concurrently.
	DefaultWorkers = 16

	// DefaultReadTimeout bounds reading one push.
	DefaultReadTimeout = 30 * time.Second

	// DefaultTTL is the default lifetime of a pushed descriptor.
	DefaultTTL = time.Hour

	// MaxDrainSize bounds the bytes of a rejected push read after the reply so that the
	// client receives the status byte instead of a reset.
	MaxDrainSize int64 = 128 << 20
)

// Options configures a tracker server.
type Options struct {
	// Workers is the number of connections handled concurrently. Accepting blocks while all are busy.
	Workers int

	// MaxPayload is the largest accepted descriptor.
	MaxPayload uint32

	// ReadTimeout bounds reading one push.
	ReadTimeout time.Duration

	// TTL is the lifetime of a pushed descriptor.
	TTL time.Duration

	// Now returns the current time.
	Now func() time.Time
}

// Server accepts pushed descriptors and merges them into the cache store.
type Server struct {
	store   store.Store
	metrics metrics.Metrics
	opts    Options
}

// NewServer creates a tracker server. Zero-valued options take their defaults.
func NewServer(st store.Store, m metrics.Metrics, opts Options) *Server {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = DefaultMaxPayloadSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if m == nil {
		m = metrics.Nop
	}

	return &Server{store: st, metrics: m, opts: opts}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve hands accepted connections to a fixed pool of workers until ctx is done.
// It closes l and waits for in-flight connections before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	log := zerolog.Ctx(ctx).With().Str("component", "tracker").Str("addr", l.Addr().String()).Logger()
	ctx = log.WithContext(ctx)

	conns := make(chan net.Conn)

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range conns {
				s.handle(ctx, conn)
			}
		}()
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.Close()
	}()

	log.Info().Int("workers", s.opts.Workers).Msg("tracker start")

	var err error
	for {
		var conn net.Conn
		conn, err = l.Accept()
		if err != nil {
			break
		}

		select {
		case conns <- conn:
		case <-ctx.Done():
			conn.Close()
		}
	}

	close(stop)
	close(conns)
	wg.Wait()

	if ctx.Err() != nil {
		log.Info().Msg("tracker stop")
		return nil
	}
	return err
}

// handle reads one push from conn, merges it and replies with a status byte.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := zerolog.Ctx(ctx).With().Str("remote", conn.RemoteAddr().String()).Logger()
	start := time.Now()

	_ = conn.SetReadDeadline(start.Add(s.opts.ReadTimeout))

	key, err := s.receive(log.WithContext(ctx), conn)

	outcome := metrics.OutcomeSuccess
	event := log.Info()
	if err != nil {
		outcome = metrics.OutcomeFailure
		event = log.Warn().Err(err)
	}
	s.metrics.RecordTrackerPush(outcome)

	status := statusOf(err)
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.ReadTimeout))
	if _, werr := conn.Write([]byte{byte(status)}); werr != nil {
		log.Debug().Err(werr).Msg("tracker status write error")
	} else if err != nil {
		drain(conn, s.opts.ReadTimeout)
	}

	event.Str("key", key).Int("status", int(status)).Dur("duration", time.Since(start)).Msg("tracker push")
}

// drain half-closes conn and discards what the client is still sending, until it closes or the timeout.
func drain(conn net.Conn, timeout time.Duration) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, _ = io.CopyN(io.Discard, conn, MaxDrainSize)
}

// receive reads a frame and merges it into the store, returning the key it was stored under.
func (s *Server) receive(ctx context.Context, conn net.Conn) (string, error) {
	key, payload, err := ReadFrame(conn, s.opts.MaxPayload)
	if err != nil {
		return "", err
	}

	return s.Merge(ctx, key, payload)
}

// Merge validates payload and upserts it under key. An empty key is derived from the content id.
func (s *Server) Merge(ctx context.Context, key string, payload []byte) (string, error) {
	d, err := descriptor.Decode(payload)
	if err != nil {
		return key, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if key == "" {
		key = d.ContentID.CID().String()
	}

	if err := s.store.Upsert(ctx, store.NewEntry(key, payload, s.opts.Now(), s.opts.TTL)); err != nil {
		if errors.Is(err, store.ErrInvalidEntry) {
			return key, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return key, fmt.Errorf("%w: %w", ErrIO, err)
	}

	zerolog.Ctx(ctx).Debug().Str("key", key).Str("id", d.ContentID.String()).Msg("descriptor merged")
	return key, nil
}
