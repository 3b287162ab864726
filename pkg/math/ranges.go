// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package math

import "fmt"

// Range is the half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// Header returns the value of an HTTP Range header requesting r.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Partition splits [0, size) into at most n contiguous, non-overlapping ranges of near equal size.
// The last range absorbs the remainder. n is clamped to size so that no range is empty.
func Partition(size int64, n int) []Range {
	if size <= 0 || n <= 0 {
		return nil
	}

	parts := Clamp64(int64(n), 1, size)
	step := size / parts

	ranges := make([]Range, 0, parts)
	for i := int64(0); i < parts; i++ {
		r := Range{Start: i * step, End: (i + 1) * step}
		if i == parts-1 {
			r.End = size
		}
		ranges = append(ranges, r)
	}

	return ranges
}
