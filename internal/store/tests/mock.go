// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package tests

import (
	"context"
	"fmt"
	"sync"

	"github.com/azure/peercdn/internal/store"
)

// MockStore is an in-memory store.Store with injectable failures.
type MockStore struct {
	mx      sync.RWMutex
	entries map[string]store.Entry

	// LookupErr, if set, is returned by every Lookup.
	LookupErr error

	// UpsertErr, if set, is returned by every Upsert.
	UpsertErr error

	lookups int
	upserts int
}

var _ store.Store = &MockStore{}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{entries: map[string]store.Entry{}}
}

// Lookup implements store.Store.
func (m *MockStore) Lookup(ctx context.Context, key string) (*store.Entry, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.lookups++

	if m.LookupErr != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrIO, m.LookupErr)
	}

	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Upsert implements store.Store.
func (m *MockStore) Upsert(ctx context.Context, e store.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	m.mx.Lock()
	defer m.mx.Unlock()
	m.upserts++

	if m.UpsertErr != nil {
		return fmt.Errorf("%w: %v", store.ErrIO, m.UpsertErr)
	}

	m.entries[e.Key] = e
	return nil
}

// Close implements store.Store.
func (m *MockStore) Close() error {
	return nil
}

// Put sets an entry without validation or counting.
func (m *MockStore) Put(e store.Entry) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.entries[e.Key] = e
}

// Get returns the entry for key without counting.
func (m *MockStore) Get(key string) (store.Entry, bool) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

// Upserts returns the number of upsert calls.
func (m *MockStore) Upserts() int {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.upserts
}

// Lookups returns the number of lookup calls.
func (m *MockStore) Lookups() int {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.lookups
}
