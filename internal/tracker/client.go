// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package tracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// PushTimeout bounds a push when ctx has no deadline.
var PushTimeout = 30 * time.Second

// Push sends an encoded descriptor to the tracker at addr and returns the error matching its reply.
// An empty key lets the tracker derive one from the content id.
func Push(ctx context.Context, addr, key string, encoded []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, PushTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %v: %v", ErrIO, addr, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	// A tracker rejecting the frame replies before reading all of it, so a failed write may still have a status.
	werr := WriteFrame(conn, key, encoded)

	var status [1]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		if werr != nil {
			return fmt.Errorf("%w: write: %v", ErrIO, werr)
		}
		return fmt.Errorf("%w: read status: %v", ErrIO, err)
	}

	return Status(status[0]).Err()
}
