// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package math

import "testing"

func TestNewSegments(t *testing.T) {
	_, err := NewSegments(0, 0, 100, 100)
	if err == nil {
		t.Fatal("expected error")
	}

	_, err = NewSegments(-1, 4, 100, 100)
	if err == nil {
		t.Fatal("expected error")
	}

	_, err = NewSegments(0, 1500000, 6000000, 6000000)
	if err != nil {
		t.Fatal(err)
	}
}

func TestSegmentsLen(t *testing.T) {
	for _, tc := range []struct {
		offset, step, count, size int64
		want                      int
	}{
		{0, 4, 10, 10, 3},
		{0, 1500000, 6000000, 6000000, 4},
		{0, 1500000, 6000001, 6000001, 5},
		{0, 4, 0, 0, 0},
		{3, 2, 9, 15, 5},
	} {
		segs, err := NewSegments(tc.offset, tc.step, tc.count, tc.size)
		if err != nil {
			t.Fatal(err)
		}

		if got := segs.Len(); got != tc.want {
			t.Errorf("expected: %v, got: %v", tc.want, got)
		}

		n := 0
		for range segs.All() {
			n++
		}
		if n != tc.want {
			t.Errorf("expected %v segments from All, got: %v", tc.want, n)
		}
	}
}

func TestCeilDiv(t *testing.T) {
	for _, tc := range []struct {
		x, y, want int64
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{6000000, 1500000, 4},
	} {
		if got := CeilDiv(tc.x, tc.y); got != tc.want {
			t.Errorf("CeilDiv(%v, %v): expected: %v, got: %v", tc.x, tc.y, tc.want, got)
		}
	}
}

func TestAlignDown(t *testing.T) {
	for _, testcase := range []struct {
		x        int64
		align    int64
		expected int64
	}{
		{
			x:        1,
			align:    2,
			expected: 0,
		},
		{
			x:        29,
			align:    14,
			expected: 28,
		},
		{
			x:        0,
			align:    2,
			expected: 0,
		},
		{
			x:        2,
			align:    2,
			expected: 2,
		},
		{
			x:        2147483647,
			align:    2,
			expected: 2147483646,
		},
		{
			x:        2147483647,
			align:    4,
			expected: 2147483644,
		},
		{
			x:        2147483647,
			align:    8,
			expected: 2147483640,
		},
		{
			x:        2147483647,
			align:    16,
			expected: 2147483632,
		},
		{
			x:        2147483647,
			align:    32,
			expected: 2147483616,
		},
	} {
		got := AlignDown(testcase.x, testcase.align)

		if got != testcase.expected {
			t.Errorf("expected: %v, got: %v", testcase.expected, got)
		}
	}
}

func TestAll(t *testing.T) {
	for _, testcase := range []struct {
		offset   int64
		step     int64
		count    int64
		size     int64
		expected []Segment
	}{
		{
			offset: 0,
			step:   4,
			count:  10,
			size:   10,
			expected: []Segment{
				{Index: 0, Offset: 0, Count: 4},
				{Index: 4, Offset: 0, Count: 4},
				{Index: 8, Offset: 0, Count: 2},
			},
		},
		{
			offset: 3,
			step:   2,
			count:  9,
			size:   15,
			expected: []Segment{
				{Index: 2, Offset: 1, Count: 1},
				{Index: 4, Offset: 0, Count: 2},
				{Index: 6, Offset: 0, Count: 2},
				{Index: 8, Offset: 0, Count: 2},
				{Index: 10, Offset: 0, Count: 2},
			},
		},
		{
			offset: 0,
			step:   4,
			count:  10,
			size:   2147483647,
			expected: []Segment{
				{Index: 0, Offset: 0, Count: 4},
				{Index: 4, Offset: 0, Count: 4},
				{Index: 8, Offset: 0, Count: 2},
			},
		},
		{
			offset: 3,
			step:   2,
			count:  9,
			size:   2147483647,
			expected: []Segment{
				{Index: 2, Offset: 1, Count: 1},
				{Index: 4, Offset: 0, Count: 2},
				{Index: 6, Offset: 0, Count: 2},
				{Index: 8, Offset: 0, Count: 2},
				{Index: 10, Offset: 0, Count: 2},
			},
		},
	} {
		segs, err := NewSegments(testcase.offset, testcase.step, testcase.count, testcase.size)
		if err != nil {
			t.Error(err)
		}

		i := 0
		for seg := range segs.All() {
			expected := testcase.expected[i]
			if expected != seg {
				t.Errorf("expected: %v, got: %v", expected, seg)
			}
			i++
		}
	}
}
