package buffer

import (
	"fmt"
	"math/rand"
	"testing"
)

// BenchmarkBufferWrite benchmarks buffer Write operations across different configurations.
func BenchmarkBufferWrite(b *testing.B) {
	// Create buffers with error handling
	buf1, err := NewCircularBuffer[int](100, WithOverflowPolicy[int](DropOldest))
	if err != nil {
		b.Fatal(err)
	}
	buf2, err := NewCircularBuffer[int](100, WithOverflowPolicy[int](DropNewest))
	if err != nil {
		b.Fatal(err)
	}
	buf3, err := NewCircularBuffer[int](1000, WithOverflowPolicy[int](DropOldest))
	if err != nil {
		b.Fatal(err)
	}

	benchmarks := []struct {
		name   string
		buffer Buffer[int]
	}{
		{"Circular_100_DropOldest", buf1},
		{"Circular_100_DropNewest", buf2},
		{"Circular_1000_DropOldest", buf3},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			buffer := bm.buffer
			defer buffer.Close()

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					buffer.Write(i)
					i++
				}
			})
		})
	}
}

// BenchmarkBufferRead benchmarks buffer Read operations.
func BenchmarkBufferRead(b *testing.B) {
	// Create buffers with error handling
	buf1, err := NewCircularBuffer[int](100)
	if err != nil {
		b.Fatal(err)
	}
	buf2, err := NewCircularBuffer[int](1000)
	if err != nil {
		b.Fatal(err)
	}

	benchmarks := []struct {
		name   string
		buffer Buffer[int]
	}{
		{"Circular_100", buf1},
		{"Circular_1000", buf2},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			buffer := bm.buffer
			defer buffer.Close()

			// Pre-populate buffer
			capacity := buffer.Capacity()
			for i := 0; i < capacity; i++ {
				buffer.Write(i)
			}

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					buffer.Read()
				}
			})
		})
	}
}

// BenchmarkBufferReadBatch benchmarks batch read operations.
func BenchmarkBufferReadBatch(b *testing.B) {
	batchSizes := []int{1, 10, 100}

	for _, batchSize := range batchSizes {
		b.Run(fmt.Sprintf("BatchSize_%d", batchSize), func(b *testing.B) {
			buffer, err := NewCircularBuffer[int](1000)
			if err != nil {
				b.Fatal(err)
			}
			defer buffer.Close()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				// Fill buffer
				for j := 0; j < 1000; j++ {
					buffer.Write(j)
				}

				// Read in batches
				for !buffer.IsEmpty() {
					buffer.ReadBatch(batchSize)
				}
			}
		})
	}
}

// BenchmarkBufferMixed benchmarks mixed buffer operations (Write/Read/Peek).
func BenchmarkBufferMixed(b *testing.B) {
	buffer, err := NewCircularBuffer[int](1000, WithOverflowPolicy[int](DropOldest))
	if err != nil {
		b.Fatal(err)
	}
	defer buffer.Close()

	// Pre-populate buffer
	capacity := buffer.Capacity()
	for i := 0; i < capacity/2; i++ {
		buffer.Write(i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := capacity / 2
		for pb.Next() {
			switch rand.Intn(5) {
			case 0, 1: // 40% writes
				buffer.Write(i)
				i++
			case 2, 3: // 40% reads
				buffer.Read()
			case 4: // 20% peeks
				buffer.Peek()
			}
		}
	})
}

// BenchmarkBufferOverflow benchmarks buffer overflow performance.
func BenchmarkBufferOverflow(b *testing.B) {
	policies := []struct {
		name   string
		policy OverflowPolicy
	}{
		{"DropOldest", DropOldest},
		{"DropNewest", DropNewest},
	}

	for _, pol := range policies {
		b.Run(pol.name, func(b *testing.B) {
			buffer, err := NewCircularBuffer[int](100, WithOverflowPolicy[int](pol.policy))
			if err != nil {
				b.Fatal(err)
			}
			defer buffer.Close()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				buffer.Write(i)
			}
		})
	}
}

// BenchmarkBufferDropCallback benchmarks performance with drop callbacks.
func BenchmarkBufferDropCallback(b *testing.B) {
	configs := []struct {
		name         string
		withCallback bool
	}{
		{"WithoutCallback", false},
		{"WithCallback", true},
	}

	for _, config := range configs {
		b.Run(config.name, func(b *testing.B) {
			var bufferOpts []Option[int]
			bufferOpts = append(bufferOpts, WithOverflowPolicy[int](DropOldest))

			if config.withCallback {
				bufferOpts = append(bufferOpts, WithDropCallback(func(item int) {
					// Minimal callback - just assignment
					_ = item
				}))
			}

			buffer, err := NewCircularBuffer[int](100, bufferOpts...)
			if err != nil {
				b.Fatal(err)
			}
			defer buffer.Close()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				buffer.Write(i)
			}
		})
	}
}
