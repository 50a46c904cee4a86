// Package msgid issues temporarily unique correlation ids.
//
// Ids are small positive integers handed out lowest-free-first and reused as
// soon as they are released, so they stay compact for protocols with narrow
// id fields. Id 0 is never issued; it means "no correlation id".
package msgid

import (
	"fmt"
	"math/bits"
	"sync"
)

// BlockWidth is the number of ids tracked by one backing block.
const BlockWidth = 32

// IDSource is the allocator contract consumed by callers that tag requests.
type IDSource interface {
	Fetch() uint32
	Release(id uint32)
}

// Source is a first-fit bitmap allocator. The zero value is ready to use.
type Source struct {
	mu     sync.Mutex
	blocks []uint32
}

var _ IDSource = (*Source)(nil)

func New() *Source {
	return &Source{}
}

// Fetch returns the lowest id not currently held.
func (s *Source) Fetch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, block := range s.blocks {
		free := bits.TrailingZeros32(^block)
		if free < BlockWidth {
			s.blocks[i] |= 1 << free
			return uint32(i*BlockWidth+free) + 1
		}
	}
	s.blocks = append(s.blocks, 1)
	return uint32((len(s.blocks)-1)*BlockWidth) + 1
}

// Release returns id to the pool. Releasing an id that is not held panics.
func (s *Source) Release(id uint32) {
	if id == 0 {
		panic("msgid: release of reserved id 0")
	}
	index := int((id - 1) / BlockWidth)
	mask := uint32(1) << ((id - 1) % BlockWidth)

	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= len(s.blocks) || s.blocks[index]&mask == 0 {
		panic(fmt.Sprintf("msgid: release of id %d that is not held", id))
	}
	s.blocks[index] &^= mask
	if s.blocks[index] != 0 || index != len(s.blocks)-1 {
		return
	}
	end := index
	for end > 0 && s.blocks[end-1] == 0 {
		end--
	}
	if end == 0 {
		s.blocks = nil
		return
	}
	s.blocks = s.blocks[:end]
}

// Blocks reports the number of backing blocks currently allocated.
func (s *Source) Blocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

// Outstanding reports how many ids are currently held.
func (s *Source) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, block := range s.blocks {
		n += bits.OnesCount32(block)
	}
	return n
}
