// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package descriptor describes content as an ordered list of hashed chunks.
// A descriptor is to a content object what a torrent file is to a payload: it is enough to
// verify and transfer the content chunk by chunk.
package descriptor

import (
	"crypto/sha1" //nolint:gosec // chunk digests are bittorrent v1 piece hashes.
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/azure/peercdn/pkg/math"
	cid "github.com/ipfs/go-cid"
	mc "github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/opencontainers/go-digest"
)

const (
	// ChunkDigestSize is the length of a chunk digest.
	ChunkDigestSize = sha1.Size

	// ContentIDSize is the length of a content id.
	ContentIDSize = sha256.Size
)

var (
	// ErrMalformed indicates a structurally inconsistent descriptor.
	ErrMalformed = errors.New("malformed descriptor")

	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)

// ChunkDigest is the digest of a single chunk.
type ChunkDigest [ChunkDigestSize]byte

// ContentID identifies content by the digest of its ordered chunk digests.
type ContentID [ContentIDSize]byte

// Hex returns the hex encoding of the content id.
func (id ContentID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Digest returns the content id as an OCI digest.
func (id ContentID) Digest() digest.Digest {
	return digest.NewDigestFromBytes(digest.SHA256, id[:])
}

// CID returns the content id as a CIDv1 with the raw codec.
func (id ContentID) CID() cid.Cid {
	// Encode only fails for unknown codes.
	mhash, _ := mh.Encode(id[:], mh.SHA2_256)
	return cid.NewCidV1(uint64(mc.Raw), mhash)
}

// String implements fmt.Stringer.
func (id ContentID) String() string {
	return id.Digest().String()
}

// Descriptor is the chunk manifest of a content object.
type Descriptor struct {
	// ContentID is the digest of the concatenated chunk digests.
	ContentID ContentID

	// ChunkSize is the size of every chunk but the last.
	ChunkSize int64

	// Chunks are the ordered chunk digests.
	Chunks []ChunkDigest

	// TotalLength is the length of the content.
	TotalLength int64
}

// Pieces returns the concatenated chunk digests.
func (d *Descriptor) Pieces() []byte {
	b := make([]byte, 0, len(d.Chunks)*ChunkDigestSize)
	for _, c := range d.Chunks {
		b = append(b, c[:]...)
	}
	return b
}

// ChunkLength returns the length of chunk i.
func (d *Descriptor) ChunkLength(i int) int64 {
	start := int64(i) * d.ChunkSize
	return math.Min64(start+d.ChunkSize, d.TotalLength) - start
}

// Validate checks the structural invariants of the descriptor.
func (d *Descriptor) Validate() error {
	if d.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrMalformed, d.ChunkSize)
	}

	if d.TotalLength < 0 {
		return fmt.Errorf("%w: length %d", ErrMalformed, d.TotalLength)
	}

	if want := math.CeilDiv(d.TotalLength, d.ChunkSize); int64(len(d.Chunks)) != want {
		return fmt.Errorf("%w: expected %d chunks for length %d and chunk size %d, got %d", ErrMalformed, want, d.TotalLength, d.ChunkSize, len(d.Chunks))
	}

	if id := contentIDOf(d.Chunks); id != d.ContentID {
		return fmt.Errorf("%w: content id %s does not match chunks (%s)", ErrMalformed, d.ContentID, id)
	}

	return nil
}

// contentIDOf derives the content id from the ordered chunk digests.
func contentIDOf(chunks []ChunkDigest) ContentID {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c[:])
	}

	var id ContentID
	copy(id[:], h.Sum(nil))
	return id
}
