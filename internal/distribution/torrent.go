// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/azure/peercdn/pkg/descriptor"
	"github.com/rs/zerolog"
)

// Options configures the torrent engine.
type Options struct {
	// DataDir is where downloads are stored. It is the content store root.
	DataDir string

	// ListenPort is the peer wire listen port.
	ListenPort int

	// Seed keeps serving completed downloads.
	Seed bool

	// HandshakeTimeout bounds peer handshakes.
	HandshakeTimeout time.Duration

	// DialTimeout is the nominal peer dial timeout.
	DialTimeout time.Duration

	// Trackers are announce URLs added to every download.
	Trackers []string

	// DisableDHT turns off peer discovery through the DHT.
	DisableDHT bool
}

// torrentEngine is an Engine over an anacrolix/torrent client.
type torrentEngine struct {
	client   *torrent.Client
	trackers [][]string
	log      zerolog.Logger
}

var _ Engine = &torrentEngine{}

// torrentHandle is a Handle for a torrent.
type torrentHandle struct {
	id descriptor.ContentID
	t  *torrent.Torrent
}

// ContentID implements Handle.
func (h *torrentHandle) ContentID() descriptor.ContentID {
	return h.id
}

// emptyHandle is the handle of empty content, which is complete without any swarm transfer.
type emptyHandle descriptor.ContentID

// ContentID implements Handle.
func (h emptyHandle) ContentID() descriptor.ContentID {
	return descriptor.ContentID(h)
}

// NewTorrentEngine starts a torrent client.
func NewTorrentEngine(ctx context.Context, opts Options) (Engine, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "distribution").Logger()

	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = opts.DataDir
	cfg.ListenPort = opts.ListenPort
	cfg.Seed = opts.Seed
	cfg.NoDHT = opts.DisableDHT
	if opts.HandshakeTimeout > 0 {
		cfg.HandshakesTimeout = opts.HandshakeTimeout
	}
	if opts.DialTimeout > 0 {
		cfg.NominalDialTimeout = opts.DialTimeout
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create torrent client: %w", err)
	}

	var trackers [][]string
	if len(opts.Trackers) > 0 {
		trackers = [][]string{opts.Trackers}
	}

	log.Info().Str("data", opts.DataDir).Int("port", opts.ListenPort).Bool("seed", opts.Seed).Msg("torrent engine start")
	return &torrentEngine{client: client, trackers: trackers, log: log}, nil
}

// Submit translates the descriptor into a single-file info dictionary named by the content id and adds it.
func (e *torrentEngine) Submit(ctx context.Context, id descriptor.ContentID, encoded []byte) (Handle, error) {
	d, err := Decode(id, encoded)
	if err != nil {
		return nil, err
	}

	if d.TotalLength == 0 {
		return emptyHandle(id), nil
	}

	infoBytes, err := InfoBytes(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	t, added, err := e.client.AddTorrentSpec(&torrent.TorrentSpec{
		InfoBytes: infoBytes,
		InfoHash:  metainfo.HashBytes(infoBytes),
		Trackers:  e.trackers,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: add torrent: %v", ErrSwarmFailure, err)
	}

	e.log.Debug().Str("id", id.String()).Str("infohash", t.InfoHash().HexString()).Bool("new", added).Msg("torrent submitted")
	return &torrentHandle{id: id, t: t}, nil
}

// Await downloads all pieces and polls until every byte is verified.
func (e *torrentEngine) Await(ctx context.Context, h Handle) error {
	if _, ok := h.(emptyHandle); ok {
		return nil
	}

	th, ok := h.(*torrentHandle)
	if !ok {
		return fmt.Errorf("%w: unknown handle %T", ErrInvalidDescriptor, h)
	}
	t := th.t

	log := e.log.With().Str("id", th.id.String()).Logger()

	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return fmt.Errorf("%w: torrent closed", ErrSwarmFailure)
	case <-ctx.Done():
		return contextError(ctx)
	}

	t.DownloadAll()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if t.BytesCompleted() == t.Length() {
			log.Debug().Int64("size", t.Length()).Msg("torrent complete")
			return nil
		}

		select {
		case <-t.Closed():
			return fmt.Errorf("%w: torrent closed", ErrSwarmFailure)
		case <-ctx.Done():
			log.Warn().Int64("completed", t.BytesCompleted()).Int64("size", t.Length()).Msg("torrent incomplete")
			return contextError(ctx)
		case <-ticker.C:
		}
	}
}

// Close closes the torrent client.
func (e *torrentEngine) Close() error {
	errs := e.client.Close()
	return errors.Join(errs...)
}

// InfoBytes returns the bencoded BitTorrent v1 info dictionary for d.
func InfoBytes(d *descriptor.Descriptor) ([]byte, error) {
	info := metainfo.Info{
		Name:        d.ContentID.Hex(),
		PieceLength: d.ChunkSize,
		Pieces:      d.Pieces(),
		Length:      d.TotalLength,
	}
	return bencode.Marshal(info)
}

// contextError maps a done context to the engine errors.
func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}
