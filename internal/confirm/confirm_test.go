package confirm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		name        string
		blockHeight uint64
		tip         uint64
		want        uint32
	}{
		{"same height is one confirmation", 100, 100, 1},
		{"one block later is two confirmations", 100, 101, 2},
		{"five blocks later is six confirmations", 100, 105, 6},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compute(tc.blockHeight, tc.tip))
		})
	}
}

func TestCrossedBoundary(t *testing.T) {
	const threshold = 6

	cases := []struct {
		name          string
		prev, current uint32
		want          bool
	}{
		{"first confirmation below threshold", 0, 1, true},
		{"advancing below threshold", 3, 4, true},
		{"no advance", 4, 4, false},
		{"regression", 4, 3, false},
		{"reaching threshold is not a boundary cross", 5, 6, false},
		{"already past threshold", 6, 7, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CrossedBoundary(tc.prev, tc.current, threshold))
		})
	}
}

func TestReachedThreshold(t *testing.T) {
	const threshold = 6

	cases := []struct {
		name          string
		prev, current uint32
		want          bool
	}{
		{"below threshold", 4, 5, false},
		{"reaches threshold exactly", 5, 6, true},
		{"jumps past threshold", 4, 8, true},
		{"already at threshold", 6, 6, false},
		{"already past threshold", 6, 7, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ReachedThreshold(tc.prev, tc.current, threshold))
		})
	}
}
