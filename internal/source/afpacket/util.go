package afpacket

import (
	"fmt"
)

const (
	tpacketAlignment = 16      // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52      // TPACKET3_HDRLEN, rounded
	maxBlockSize     = 4 << 20 // kernel-friendly upper bound per block
)

// recomputeSize derives TPACKET_V3 ring geometry from a memory budget.
//
// Constraints enforced by PACKET_MMAP:
//   - frameSize is a multiple of TPACKET_ALIGNMENT
//   - blockSize is a multiple of pageSize and of frameSize
//   - blockSize * numBlocks approximates ringBufferMB
func recomputeSize(ringBufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if ringBufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring buffer size must be positive, got %d MB", ringBufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// LCM blew up; fall back to the largest page multiple that holds whole frames.
		blockSize = (maxBlockSize / frameSize) * frameSize
		blockSize = alignUp(blockSize, pageSize)
	}

	numBlocks = (ringBufferMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, to int) int {
	return ((n + to - 1) / to) * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a / gcd(a, b)) * b
}
