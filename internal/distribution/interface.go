// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azure/peercdn/pkg/descriptor"
)

var (
	// ErrTimeout indicates that the swarm did not complete the download in time.
	ErrTimeout = errors.New("distribution timed out")

	// ErrSwarmFailure indicates that the swarm download was aborted.
	ErrSwarmFailure = errors.New("swarm failure")

	// ErrInvalidDescriptor indicates a descriptor the engine cannot accept.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

var (
	// PollInterval is the interval at which download completion is checked.
	PollInterval = 100 * time.Millisecond
)

// Handle identifies a submitted download.
type Handle interface {
	// ContentID returns the content id of the download.
	ContentID() descriptor.ContentID
}

// Engine is a peer-swarm engine that downloads content described by a descriptor.
type Engine interface {
	// Submit adds the encoded descriptor for id to the swarm.
	// Submitting an identical descriptor again returns a handle to the existing download.
	Submit(ctx context.Context, id descriptor.ContentID, encoded []byte) (Handle, error)

	// Await blocks until every chunk of the download has been verified, the download fails, or ctx is done.
	Await(ctx context.Context, h Handle) error

	// Close stops the engine.
	Close() error
}

// Decode decodes encoded and checks that it describes id.
func Decode(id descriptor.ContentID, encoded []byte) (*descriptor.Descriptor, error) {
	d, err := descriptor.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	if d.ContentID != id {
		return nil, fmt.Errorf("%w: content id %v does not match %v", ErrInvalidDescriptor, d.ContentID, id)
	}

	return d, nil
}
