// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package math

import "fmt"

// Segments represents a range of fixed size segments.
type Segments struct {
	offset int64
	step   int64
	size   int64
}

// Segment represents a single segment.
type Segment struct {
	Index  int64
	Offset int64
	Count  int
}

// NewSegments creates a new Segments object covering [offset, min(offset+count, size)) in steps of step.
func NewSegments(offset int64, step int64, count int64, size int64) (Segments, error) {
	if step <= 0 {
		return Segments{}, fmt.Errorf("step must be positive, got %d", step)
	}
	if offset < 0 || count < 0 || size < 0 {
		return Segments{}, fmt.Errorf("invalid segments: offset %d, count %d, size %d", offset, count, size)
	}
	return Segments{offset, step, Min64(offset+count, size)}, nil
}

// AlignDown will align down the x by align. For example:
// AlignDown(1, 2) = 0
// AlignDown(29, 14) = 28
func AlignDown(x int64, align int64) int64 {
	return x / align * align
}

// CeilDiv returns x / y rounded up.
func CeilDiv(x, y int64) int64 {
	if x <= 0 {
		return 0
	}
	return (x-1)/y + 1
}

// Len returns the number of segments.
func (r Segments) Len() int {
	if r.size <= r.offset {
		return 0
	}
	return int(CeilDiv(r.size-AlignDown(r.offset, r.step), r.step))
}

// All provides a channel of all segments.
func (r Segments) All() chan Segment {
	ch := make(chan Segment)
	go func() {
		for i := AlignDown(r.offset, r.step); i < r.size; i += r.step {
			absOffset := Max64(i, r.offset)
			seg := Segment{Index: i, Offset: absOffset - i}
			seg.Count = int(Min64(i+r.step, r.size) - absOffset)
			if seg.Count > 0 {
				ch <- seg
			}
		}
		close(ch)
	}()
	return ch
}
