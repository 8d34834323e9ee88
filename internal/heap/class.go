package heap

import "math/bits"

const (
	// minClassShift is log2 of the smallest block size (16 bytes).
	minClassShift = 4
	// maxClassShift is log2 of MaxSmallSize.
	maxClassShift = 15
	// MaxSmallSize is the largest request served from a slab (32 KiB).
	MaxSmallSize = 1 << maxClassShift

	numClasses = maxClassShift - minClassShift + 1
)

// classOf returns the size class index for a small request.
func classOf(size int) int {
	shift := bits.Len(uint(size - 1)) //nolint:gosec // size > 0
	if shift < minClassShift {
		shift = minClassShift
	}
	return shift - minClassShift
}

// classSize returns the block size of a size class.
func classSize(class int) int {
	return 1 << (class + minClassShift)
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
