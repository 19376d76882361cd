package execplan

// Buffer is a growable sequence of T.
//
// SwapRemove runs in O(1) by moving the last element into the removed slot,
// so element order is NOT preserved across removals. Callers that need a
// stable order must sort after removing.
type Buffer[T any] struct {
	items []T
}

// NewBuffer creates an empty buffer with room for capacity elements.
func NewBuffer[T any](capacity int) *Buffer[T] {
	return &Buffer[T]{items: make([]T, 0, capacity)}
}

// Append adds v at the end.
func (b *Buffer[T]) Append(v T) {
	b.items = append(b.items, v)
}

// Len returns the number of elements.
func (b *Buffer[T]) Len() int { return len(b.items) }

// At returns a pointer to element i. The pointer is invalidated by the next
// Append or SwapRemove.
func (b *Buffer[T]) At(i int) *T { return &b.items[i] }

// SwapRemove removes element i by overwriting it with the last element and
// shrinking the buffer by one.
func (b *Buffer[T]) SwapRemove(i int) {
	last := len(b.items) - 1
	b.items[i] = b.items[last]
	var zero T
	b.items[last] = zero
	b.items = b.items[:last]
}

// Items returns the elements as a slice sharing the buffer's storage.
func (b *Buffer[T]) Items() []T { return b.items }

// Release drops every element and the backing storage.
func (b *Buffer[T]) Release() { b.items = nil }
