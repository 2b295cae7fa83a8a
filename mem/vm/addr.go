package vm

// PageSize returns the number of bytes in a page.
func PageSize(log2PageSize uint64) uint64 {
	return 1 << log2PageSize
}

// AlignDown rounds addr down to the start of its page.
func AlignDown(addr, log2PageSize uint64) uint64 {
	return (addr >> log2PageSize) << log2PageSize
}

// IsAligned tells if addr is the start of a page.
func IsAligned(addr, log2PageSize uint64) bool {
	return AlignDown(addr, log2PageSize) == addr
}
