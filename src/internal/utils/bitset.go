package utils

import "math/bits"

type bitSet struct {
	len   int
	words []uint64
}

// BitSet is a fixed-size set of small non-negative integers. The routing table
// allocator uses it to track which table indexes are taken.
type BitSet interface {
	Has(pos int) bool
	Add(pos int) bool
	Remove(pos int) bool
	Len() int
	Count() int
	Clear()
	// FirstClear returns the lowest unset position >= from, or -1.
	FirstClear(from int) int
}

func NewBitSet(length int) BitSet {
	if length < 0 {
		panic("BitSet length must be non-negative")
	}
	return &bitSet{
		len:   length,
		words: make([]uint64, (length+63)/64),
	}
}

// Has checks whether the bit at the given position is set.
func (b *bitSet) Has(pos int) bool {
	if pos < 0 || pos >= b.len {
		return false
	}
	return b.words[pos/64]&(1<<(pos%64)) != 0
}

// Add sets the bit at the given position. Returns true if the bit was already set.
func (b *bitSet) Add(pos int) bool {
	if pos < 0 || pos >= b.len {
		return false
	}
	word, bit := pos/64, uint64(1)<<(pos%64)
	alreadySet := b.words[word]&bit != 0
	b.words[word] |= bit
	return alreadySet
}

// Remove clears the bit at the given position. Returns true if the bit was previously set.
func (b *bitSet) Remove(pos int) bool {
	if pos < 0 || pos >= b.len {
		return false
	}
	word, bit := pos/64, uint64(1)<<(pos%64)
	previouslySet := b.words[word]&bit != 0
	b.words[word] &^= bit
	return previouslySet
}

func (b *bitSet) Len() int {
	return b.len
}

// Count returns the number of set bits.
func (b *bitSet) Count() int {
	count := 0
	for _, w := range b.words {
		count += bits.OnesCount64(w)
	}
	return count
}

func (b *bitSet) Clear() {
	clear(b.words)
}

func (b *bitSet) FirstClear(from int) int {
	if from < 0 {
		from = 0
	}
	for pos := from; pos < b.len; {
		word := pos / 64
		free := ^b.words[word] >> (pos % 64)
		if free == 0 {
			pos = (word + 1) * 64
			continue
		}
		pos += bits.TrailingZeros64(free)
		if pos >= b.len {
			return -1
		}
		return pos
	}
	return -1
}
