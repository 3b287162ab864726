// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package tracker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// Status is the single byte a tracker replies with.
type Status byte

const (
	StatusOK        Status = 0
	StatusTooLarge  Status = 1
	StatusMalformed Status = 2
	StatusIO        Status = 3
)

var (
	// ErrPayloadTooLarge indicates a key or payload above its limit.
	ErrPayloadTooLarge = errors.New("tracker payload too large")

	// ErrMalformed indicates a truncated frame or an undecodable descriptor.
	ErrMalformed = errors.New("malformed tracker push")

	// ErrIO indicates a connection or storage failure.
	ErrIO = errors.New("tracker io error")
)

var (
	// MaxKeySize is the largest accepted key.
	MaxKeySize uint32 = 4 << 10

	// DefaultMaxPayloadSize is the default largest accepted descriptor.
	DefaultMaxPayloadSize uint32 = 64 << 20
)

// Err returns the error for s, or nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusTooLarge:
		return ErrPayloadTooLarge
	case StatusMalformed:
		return ErrMalformed
	case StatusIO:
		return ErrIO
	default:
		return fmt.Errorf("%w: unknown status %d", ErrMalformed, s)
	}
}

// statusOf maps an error to the status reported to the client.
func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrPayloadTooLarge):
		return StatusTooLarge
	case errors.Is(err, ErrMalformed):
		return StatusMalformed
	default:
		return StatusIO
	}
}

// WriteFrame writes key and payload as: uint32 BE key length | key | uint32 BE payload length | payload.
func WriteFrame(w io.Writer, key string, payload []byte) error {
	buf := make([]byte, 0, 8+len(key)+len(payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. A length above its limit fails with ErrPayloadTooLarge before its bytes are read.
func ReadFrame(r io.Reader, maxPayload uint32) (string, []byte, error) {
	key, err := readField(r, MaxKeySize, "key")
	if err != nil {
		return "", nil, err
	}

	payload, err := readField(r, maxPayload, "payload")
	if err != nil {
		return "", nil, err
	}

	return string(key), payload, nil
}

// readField reads a length-prefixed field of at most max bytes.
func readField(r io.Reader, max uint32, name string) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, readError(err, name+" length")
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > max {
		return nil, fmt.Errorf("%w: %v of %d bytes exceeds %d", ErrPayloadTooLarge, name, n, max)
	}

	// The buffer grows with the bytes that arrive rather than the declared length.
	var buf bytes.Buffer
	m, err := buf.ReadFrom(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, readError(err, name)
	}
	if m < int64(n) {
		return nil, readError(io.ErrUnexpectedEOF, name)
	}
	return buf.Bytes(), nil
}

// readError classifies a read failure: a timed out or broken connection is an io error, a short frame is malformed.
func readError(err error, what string) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: read %v: %v", ErrIO, what, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %v", ErrMalformed, what)
	}
	return fmt.Errorf("%w: read %v: %v", ErrIO, what, err)
}
