// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIO indicates a failure of the underlying storage.
	ErrIO = errors.New("cache store io error")

	// ErrInvalidEntry indicates an entry that does not expire after it was created.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrUnsupportedDSN indicates a DSN with an unknown scheme.
	ErrUnsupportedDSN = errors.New("unsupported cache store dsn")
)

// Store is a persistent mapping from content key to an encoded descriptor.
type Store interface {
	// Lookup returns the entry for key, or nil if there is none.
	Lookup(ctx context.Context, key string) (*Entry, error)

	// Upsert inserts or fully replaces the entry for e.Key.
	// Concurrent lookups never observe a partially written entry.
	Upsert(ctx context.Context, e Entry) error

	// Close releases the store.
	Close() error
}

// Entry is a cached descriptor.
type Entry struct {
	Key        string
	Descriptor []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// NewEntry creates an entry for key that is created at now and expires after ttl.
func NewEntry(key string, descriptor []byte, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:        key,
		Descriptor: descriptor,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Fresh reports whether the entry has not expired at now.
func (e *Entry) Fresh(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

// Validate checks the entry invariants.
func (e *Entry) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidEntry)
	}

	// Entries are persisted with a resolution of seconds.
	if e.ExpiresAt.Unix() <= e.CreatedAt.Unix() {
		return fmt.Errorf("%w: expires at %v, created at %v", ErrInvalidEntry, e.ExpiresAt.Unix(), e.CreatedAt.Unix())
	}
	return nil
}
