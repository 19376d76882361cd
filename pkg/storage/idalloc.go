package storage

import (
	"container/heap"
	"fmt"
	"log/slog"
	"slices"
)

// idHeap is a min-heap of released IDs.
type idHeap []uint64

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(uint64)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// IDAllocator hands out the lowest available ID of one entity kind.
//
// IDs freed by Release are recycled before the ID space is extended.
// An IDAllocator is not synchronized; the graph only calls it while holding
// its write lock.
type IDAllocator struct {
	kind    string
	next    uint64
	free    idHeap
	freeSet map[uint64]struct{}
	logger  *slog.Logger
}

// NewIDAllocator creates an allocator for the named kind ("node", "edge").
func NewIDAllocator(kind string, logger *slog.Logger) *IDAllocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &IDAllocator{
		kind:    kind,
		freeSet: make(map[uint64]struct{}),
		logger:  logger,
	}
}

// Peek returns the ID the next Allocate call would return.
func (a *IDAllocator) Peek() uint64 {
	if len(a.free) > 0 {
		return a.free[0]
	}
	return a.next
}

// Allocate returns the lowest free ID.
func (a *IDAllocator) Allocate() uint64 {
	if len(a.free) > 0 {
		id := heap.Pop(&a.free).(uint64)
		delete(a.freeSet, id)
		return id
	}
	id := a.next
	a.next++
	return id
}

// Release marks id reusable. Releasing an ID that is not allocated is logged
// and reported, never fatal.
func (a *IDAllocator) Release(id uint64) error {
	if !a.IsAllocated(id) {
		a.logger.Warn("release of unallocated id", "kind", a.kind, "id", id)
		return fmt.Errorf("%w: %s %d", ErrIDNotAllocated, a.kind, id)
	}
	heap.Push(&a.free, id)
	a.freeSet[id] = struct{}{}
	return nil
}

// IsAllocated reports whether id is currently handed out.
func (a *IDAllocator) IsAllocated(id uint64) bool {
	if id >= a.next {
		return false
	}
	_, released := a.freeSet[id]
	return !released
}

// Count returns the number of allocated IDs.
func (a *IDAllocator) Count() uint64 {
	return a.next - uint64(len(a.free))
}

// Cap returns the high-water mark of the ID space.
func (a *IDAllocator) Cap() uint64 {
	return a.next
}

// Restore resets the allocator so exactly the given IDs are allocated. Gaps
// below the largest ID become the free list.
func (a *IDAllocator) Restore(live []uint64) {
	a.free = a.free[:0]
	clear(a.freeSet)
	a.next = 0
	if len(live) == 0 {
		return
	}
	sorted := slices.Clone(live)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	a.next = sorted[len(sorted)-1] + 1
	idx := 0
	for id := uint64(0); id < a.next; id++ {
		if idx < len(sorted) && sorted[idx] == id {
			idx++
			continue
		}
		a.free = append(a.free, id)
		a.freeSet[id] = struct{}{}
	}
	heap.Init(&a.free)
}
