package reference

import "golang.org/x/sys/cpu"

// blockSize picks the cache block for the blocked kernels from the CPU
// feature set. Wider SIMD keeps larger blocks resident profitably.
func blockSize() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 128
	case cpu.X86.HasAVX2:
		return 64
	case cpu.X86.HasSSE42 || cpu.ARM64.HasASIMD:
		return 48
	default:
		return 32
	}
}
