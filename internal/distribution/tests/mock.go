// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package tests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azure/peercdn/internal/content"
	"github.com/azure/peercdn/internal/distribution"
	"github.com/azure/peercdn/pkg/descriptor"
)

// MockEngine is an in-memory swarm. Seeded content is "downloaded" into the content store on Await.
type MockEngine struct {
	mx          sync.Mutex
	seeds       map[descriptor.ContentID][]byte
	submissions map[descriptor.ContentID]int

	// Content receives downloaded content. If nil, every await succeeds.
	Content content.Store

	// SubmitErr, if set, is returned by Submit.
	SubmitErr error

	// AwaitErr, if set, is returned by Await.
	AwaitErr error

	// Delay is how long Await takes.
	Delay time.Duration
}

var _ distribution.Engine = &MockEngine{}

// mockHandle is a distribution.Handle.
type mockHandle descriptor.ContentID

// ContentID implements distribution.Handle.
func (h mockHandle) ContentID() descriptor.ContentID {
	return descriptor.ContentID(h)
}

// NewMockEngine creates a swarm that downloads into cs.
func NewMockEngine(cs content.Store) *MockEngine {
	return &MockEngine{
		seeds:       map[descriptor.ContentID][]byte{},
		submissions: map[descriptor.ContentID]int{},
		Content:     cs,
	}
}

// Seed makes data available in the swarm.
func (m *MockEngine) Seed(data []byte, chunkSize int64) (*descriptor.Descriptor, error) {
	d, err := descriptor.Generate(data, chunkSize)
	if err != nil {
		return nil, err
	}

	m.mx.Lock()
	defer m.mx.Unlock()
	m.seeds[d.ContentID] = data
	return d, nil
}

// Submit implements distribution.Engine.
func (m *MockEngine) Submit(ctx context.Context, id descriptor.ContentID, encoded []byte) (distribution.Handle, error) {
	if _, err := distribution.Decode(id, encoded); err != nil {
		return nil, err
	}

	m.mx.Lock()
	defer m.mx.Unlock()
	m.submissions[id]++

	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	return mockHandle(id), nil
}

// Await implements distribution.Engine.
func (m *MockEngine) Await(ctx context.Context, h distribution.Handle) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", distribution.ErrTimeout, ctx.Err())
			}
			return ctx.Err()
		}
	}

	if m.AwaitErr != nil {
		return m.AwaitErr
	}

	if m.Content == nil {
		return nil
	}

	id := h.ContentID()
	if ok, err := m.Content.Exists(id); err != nil {
		return err
	} else if ok {
		return nil
	}

	m.mx.Lock()
	data, ok := m.seeds[id]
	m.mx.Unlock()
	if !ok {
		return fmt.Errorf("%w: no peers for %v", distribution.ErrSwarmFailure, id)
	}

	_, err := m.Content.Put(ctx, id, data)
	return err
}

// Close implements distribution.Engine.
func (m *MockEngine) Close() error {
	return nil
}

// Submissions returns the number of submissions for id.
func (m *MockEngine) Submissions(id descriptor.ContentID) int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.submissions[id]
}

// TotalSubmissions returns the number of submissions for all ids.
func (m *MockEngine) TotalSubmissions() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	n := 0
	for _, c := range m.submissions {
		n += c
	}
	return n
}
