// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package content

import (
	"context"
	"errors"

	"github.com/azure/peercdn/pkg/descriptor"
	"github.com/spf13/afero"
)

// ErrIO indicates a failure to materialize content.
var ErrIO = errors.New("content store io error")

// Store holds content bytes laid out as the swarm engine expects them: one file per content id under Root.
type Store interface {
	// Put materializes data for id and returns its path. Existing content of the same length is kept.
	Put(ctx context.Context, id descriptor.ContentID, data []byte) (string, error)

	// Open opens the content for id.
	Open(id descriptor.ContentID) (afero.File, error)

	// Exists reports whether content for id is present.
	Exists(id descriptor.ContentID) (bool, error)

	// Path returns the path of the content for id.
	Path(id descriptor.ContentID) string

	// Root returns the directory holding all content.
	Root() string
}

// DefaultRoot is the default content directory.
var DefaultRoot = "cdn_cache"
