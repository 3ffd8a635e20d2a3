package buffer

// Buffer is a bounded, thread-safe queue of T.
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full the overflow policy
	// decides which item gives way.
	Write(item T) error

	// Read removes and returns the oldest item. The bool is false when
	// the buffer is empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it. The bool is
	// false when the buffer is empty.
	Peek() (T, bool)

	// Size returns the current item count.
	Size() int

	// Capacity returns the maximum item count.
	Capacity() int

	// IsFull reports whether the buffer is at capacity.
	IsFull() bool

	// IsEmpty reports whether the buffer holds no items.
	IsEmpty() bool

	// Clear removes every item.
	Clear()

	// Stats returns the buffer's activity statistics.
	Stats() *Statistics

	// Close releases the buffer's resources.
	Close() error
}

// OverflowPolicy decides which item is discarded when a write hits a
// full buffer.
type OverflowPolicy int

const (
	// DropOldest discards the oldest item to admit the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback observes items discarded by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a fixed-capacity ring buffer. Configuration
// beyond capacity is via functional options; an error is returned only
// when requested metrics fail to register.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
