// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package descriptor

import (
	"crypto/sha1" //nolint:gosec // chunk digests are bittorrent v1 piece hashes.
	"fmt"

	"github.com/azure/peercdn/pkg/math"
)

// Generate splits content into chunks of chunkSize bytes and builds its descriptor.
// The final chunk may be shorter. Generate is deterministic and performs no I/O.
func Generate(content []byte, chunkSize int64) (*Descriptor, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	size := int64(len(content))
	segs, err := math.NewSegments(0, chunkSize, size, size)
	if err != nil {
		return nil, err
	}

	chunks := make([]ChunkDigest, 0, segs.Len())
	for seg := range segs.All() {
		chunks = append(chunks, sha1.Sum(content[seg.Index:seg.Index+int64(seg.Count)])) //nolint:gosec
	}

	return &Descriptor{
		ContentID:   contentIDOf(chunks),
		ChunkSize:   chunkSize,
		Chunks:      chunks,
		TotalLength: size,
	}, nil
}
