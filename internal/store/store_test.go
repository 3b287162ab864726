// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// backends returns a fresh store of every backend that can run in-process.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqliteStore, err := Open(ctx, "sqlite://file:"+uuid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	mr := miniredis.RunT(t)
	redisStore, err := Open(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { redisStore.Close() })

	return map[string]Store{
		"sqlite": sqliteStore,
		"redis":  redisStore,
	}
}

func TestLookupMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e, err := s.Lookup(context.Background(), "https://origin.example/missing.mp4")
			require.NoError(t, err)
			require.Nil(t, e)
		})
	}
}

func TestUpsertAndLookup(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "https://origin.example/video-1.mp4"

			err := s.Upsert(ctx, NewEntry(key, []byte("descriptor-a"), t0, time.Hour))
			require.NoError(t, err)

			e, err := s.Lookup(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, e)
			require.Equal(t, key, e.Key)
			require.Equal(t, []byte("descriptor-a"), e.Descriptor)
			require.Equal(t, t0.Unix(), e.CreatedAt.Unix())
			require.Equal(t, t0.Add(time.Hour).Unix(), e.ExpiresAt.Unix())
		})
	}
}

func TestUpsertReplaces(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "video-1"

			require.NoError(t, s.Upsert(ctx, NewEntry(key, []byte("descriptor-a"), t0, time.Hour)))
			require.NoError(t, s.Upsert(ctx, NewEntry(key, []byte("descriptor-b"), t0.Add(time.Minute), 2*time.Hour)))

			e, err := s.Lookup(ctx, key)
			require.NoError(t, err)
			require.Equal(t, []byte("descriptor-b"), e.Descriptor)
			require.Equal(t, t0.Add(time.Minute).Unix(), e.CreatedAt.Unix())
			require.Equal(t, t0.Add(time.Minute+2*time.Hour).Unix(), e.ExpiresAt.Unix())
		})
	}
}

func TestFreshness(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Upsert(ctx, Entry{
				Key:        "video-1",
				Descriptor: []byte("descriptor"),
				CreatedAt:  t0,
				ExpiresAt:  t0.Add(3600 * time.Second),
			}))

			e, err := s.Lookup(ctx, "video-1")
			require.NoError(t, err)

			if !e.Fresh(t0.Add(3599 * time.Second)) {
				t.Errorf("expected entry to be fresh at T0+3599")
			}
			if e.Fresh(t0.Add(3601 * time.Second)) {
				t.Errorf("expected entry to be stale at T0+3601")
			}
		})
	}
}

func TestUpsertInvalidEntry(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, e := range []Entry{
				{Key: "k", Descriptor: []byte("d"), CreatedAt: t0, ExpiresAt: t0},
				{Key: "k", Descriptor: []byte("d"), CreatedAt: t0, ExpiresAt: t0.Add(-time.Second)},
				{Key: "", Descriptor: []byte("d"), CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)},
			} {
				err := s.Upsert(ctx, e)
				if !errors.Is(err, ErrInvalidEntry) {
					t.Errorf("expected %v, got %v", ErrInvalidEntry, err)
				}
			}

			got, err := s.Lookup(ctx, "k")
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestConcurrentUpsertIsAtomic(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "contended"

			// Each writer i stores a descriptor that encodes its own created_at, so a reader
			// can detect an entry mixing fields of different writes.
			entryFor := func(i int) Entry {
				created := t0.Add(time.Duration(i) * time.Second)
				return NewEntry(key, []byte(fmt.Sprintf("descriptor-%d", created.Unix())), created, time.Hour)
			}

			var eg errgroup.Group
			for i := 0; i < 20; i++ {
				i := i
				eg.Go(func() error {
					return s.Upsert(ctx, entryFor(i))
				})
				eg.Go(func() error {
					e, err := s.Lookup(ctx, key)
					if err != nil || e == nil {
						return err
					}
					want := []byte(fmt.Sprintf("descriptor-%d", e.CreatedAt.Unix()))
					if !bytes.Equal(e.Descriptor, want) {
						return fmt.Errorf("torn entry: descriptor %q with created_at %v", e.Descriptor, e.CreatedAt.Unix())
					}
					if e.ExpiresAt.Unix() != e.CreatedAt.Unix()+3600 {
						return fmt.Errorf("torn entry: created_at %v, expires_at %v", e.CreatedAt.Unix(), e.ExpiresAt.Unix())
					}
					return nil
				})
			}
			require.NoError(t, eg.Wait())
		})
	}
}

func TestOpenUnsupported(t *testing.T) {
	for _, dsn := range []string{"", "cdn_cache.db", "mysql://localhost/db", "sqlite://"} {
		_, err := Open(context.Background(), dsn)
		if !errors.Is(err, ErrUnsupportedDSN) {
			t.Errorf("%q: expected %v, got %v", dsn, ErrUnsupportedDSN, err)
		}
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), "redis://"+addr)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected %v, got %v", ErrIO, err)
	}
}

func TestRedisLookupError(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer s.Close()

	mr.SetError("LOADING")
	_, err = s.Lookup(context.Background(), "video-1")
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected %v, got %v", ErrIO, err)
	}

	err = s.Upsert(context.Background(), NewEntry("video-1", []byte("d"), time.Now(), time.Hour))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected %v, got %v", ErrIO, err)
	}
}
