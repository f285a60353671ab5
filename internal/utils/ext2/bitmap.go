package ext2

import "math/bits"

// bitmap is a view over a bitmap block. Bit i lives in byte i/8 at position
// i%8, least significant first.
type bitmap []byte

func (b bitmap) test(i uint32) bool {
	return b[i/8]&(1<<(i%8)) != 0
}

func (b bitmap) set(i uint32) {
	b[i/8] |= 1 << (i % 8)
}

func (b bitmap) clear(i uint32) {
	b[i/8] &^= 1 << (i % 8)
}

// firstClear returns the first unset bit below limit. Full bytes are skipped
// without testing their bits.
func (b bitmap) firstClear(limit uint32) (uint32, bool) {
	nbytes := (limit + 7) / 8
	for i := uint32(0); i < nbytes; i++ {
		if b[i] == 0xFF {
			continue
		}
		bit := i*8 + uint32(bits.TrailingZeros8(^b[i]))
		if bit < limit {
			return bit, true
		}
	}
	return 0, false
}

// count returns the number of set bits below limit
func (b bitmap) count(limit uint32) uint32 {
	var n int
	full := limit / 8
	for _, v := range b[:full] {
		n += bits.OnesCount8(v)
	}
	if rem := limit % 8; rem != 0 {
		n += bits.OnesCount8(b[full] & (1<<rem - 1))
	}
	return uint32(n)
}
