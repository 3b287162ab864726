// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package descriptor

import (
	"fmt"

	"github.com/anacrolix/torrent/bencode"
)

// Version is the current version of the encoded form.
const Version = 1

// wireDescriptor is the bencoded form of a descriptor.
type wireDescriptor struct {
	Version   int    `bencode:"version"`
	ContentID []byte `bencode:"content id"`
	ChunkSize int64  `bencode:"chunk size"`
	Length    int64  `bencode:"length"`
	Pieces    []byte `bencode:"pieces"`
}

// Encode serializes the descriptor.
func Encode(d *Descriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return bencode.Marshal(wireDescriptor{
		Version:   Version,
		ContentID: d.ContentID[:],
		ChunkSize: d.ChunkSize,
		Length:    d.TotalLength,
		Pieces:    d.Pieces(),
	})
}

// Decode deserializes and validates a descriptor.
// Any structural inconsistency is reported as ErrMalformed.
func Decode(b []byte) (*Descriptor, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	var w wireDescriptor
	if err := bencode.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if w.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, w.Version)
	}

	if len(w.ContentID) != ContentIDSize {
		return nil, fmt.Errorf("%w: content id has %d bytes, expected %d", ErrMalformed, len(w.ContentID), ContentIDSize)
	}

	if len(w.Pieces)%ChunkDigestSize != 0 {
		return nil, fmt.Errorf("%w: pieces length %d is not a multiple of %d", ErrMalformed, len(w.Pieces), ChunkDigestSize)
	}

	d := &Descriptor{
		ChunkSize:   w.ChunkSize,
		TotalLength: w.Length,
		Chunks:      make([]ChunkDigest, len(w.Pieces)/ChunkDigestSize),
	}
	copy(d.ContentID[:], w.ContentID)
	for i := range d.Chunks {
		copy(d.Chunks[i][:], w.Pieces[i*ChunkDigestSize:])
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}
