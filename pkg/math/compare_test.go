// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package math

import "testing"

func TestMinMax64(t *testing.T) {
	for _, tc := range []struct {
		x, y     int64
		min, max int64
	}{
		{1, 2, 1, 2},
		{2, 1, 1, 2},
		{-1, 1, -1, 1},
		{6000000, 0, 0, 6000000},
	} {
		if got := Min64(tc.x, tc.y); got != tc.min {
			t.Errorf("Min64(%v, %v): expected: %v, got: %v", tc.x, tc.y, tc.min, got)
		}
		if got := Max64(tc.x, tc.y); got != tc.max {
			t.Errorf("Max64(%v, %v): expected: %v, got: %v", tc.x, tc.y, tc.max, got)
		}
	}
}

func TestClamp64(t *testing.T) {
	for _, tc := range []struct {
		x, lo, hi int64
		want      int64
	}{
		{4, 1, 10, 4},
		{0, 1, 10, 1},
		{2000, 1, 10, 10},
	} {
		if got := Clamp64(tc.x, tc.lo, tc.hi); got != tc.want {
			t.Errorf("Clamp64(%v, %v, %v): expected: %v, got: %v", tc.x, tc.lo, tc.hi, tc.want, got)
		}
	}
}
