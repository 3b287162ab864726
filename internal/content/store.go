// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/azure/peercdn/pkg/descriptor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// store is a Store on an afero file system.
type store struct {
	fs   afero.Fs
	root string
}

var _ Store = &store{}

// New creates a content store rooted at root on fs, creating the directory if needed.
func New(fs afero.Fs, root string) (Store, error) {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return &store{fs: fs, root: root}, nil
}

// Put writes data to a temporary file and renames it into place.
func (s *store) Put(ctx context.Context, id descriptor.ContentID, data []byte) (string, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "content").Str("id", id.String()).Logger()
	p := s.Path(id)

	if fi, err := s.fs.Stat(p); err == nil && fi.Size() == int64(len(data)) {
		log.Debug().Str("path", p).Msg("content already present")
		return p, nil
	}

	tmp := p + ".tmp-" + uuid.New().String()
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("%w: write %v: %v", ErrIO, tmp, err)
	}

	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("%w: rename %v: %v", ErrIO, p, err)
	}

	log.Debug().Str("path", p).Int("size", len(data)).Msg("content materialized")
	return p, nil
}

// Open opens the content for id.
func (s *store) Open(id descriptor.ContentID) (afero.File, error) {
	return s.fs.Open(s.Path(id))
}

// Exists reports whether content for id is present.
func (s *store) Exists(id descriptor.ContentID) (bool, error) {
	_, err := s.fs.Stat(s.Path(id))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return true, nil
}

// Path returns root/<content id hex>, the single-file layout of a swarm download named by its content id.
func (s *store) Path(id descriptor.ContentID) string {
	return filepath.Join(s.root, id.Hex())
}

// Root returns the content directory.
func (s *store) Root() string {
	return s.root
}
