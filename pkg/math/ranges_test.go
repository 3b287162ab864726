// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package math

import "testing"

func TestPartition(t *testing.T) {
	for _, tc := range []struct {
		name     string
		size     int64
		n        int
		expected []Range
	}{
		{
			name: "even",
			size: 6000000,
			n:    4,
			expected: []Range{
				{0, 1500000},
				{1500000, 3000000},
				{3000000, 4500000},
				{4500000, 6000000},
			},
		},
		{
			name: "remainder",
			size: 10,
			n:    3,
			expected: []Range{
				{0, 3},
				{3, 6},
				{6, 10},
			},
		},
		{
			name: "more parts than bytes",
			size: 2,
			n:    4,
			expected: []Range{
				{0, 1},
				{1, 2},
			},
		},
		{
			name:     "empty",
			size:     0,
			n:        4,
			expected: nil,
		},
		{
			name:     "no parts",
			size:     10,
			n:        0,
			expected: nil,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Partition(tc.size, tc.n)
			if len(got) != len(tc.expected) {
				t.Fatalf("expected %v ranges, got %v: %v", len(tc.expected), len(got), got)
			}

			var total int64
			for i, r := range got {
				if r != tc.expected[i] {
					t.Errorf("expected: %v, got: %v", tc.expected[i], r)
				}
				if i > 0 && got[i-1].End != r.Start {
					t.Errorf("ranges %v and %v are not contiguous", got[i-1], r)
				}
				total += r.Len()
			}

			if total != tc.size && tc.n > 0 {
				t.Errorf("expected ranges to cover %v bytes, got %v", tc.size, total)
			}
		})
	}
}

func TestRangeHeader(t *testing.T) {
	r := Range{Start: 1500000, End: 3000000}
	if got := r.Header(); got != "bytes=1500000-2999999" {
		t.Errorf("expected: %v, got: %v", "bytes=1500000-2999999", got)
	}

	if got := r.String(); got != "[1500000, 3000000)" {
		t.Errorf("expected: %v, got: %v", "[1500000, 3000000)", got)
	}
}
