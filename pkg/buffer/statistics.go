package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. Counters are always collected;
// exposing them as Prometheus metrics is a separate, optional step.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	peeks     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a statistics tracker starting now.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records one write.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records one read.
func (s *Statistics) Read() { s.reads.Add(1) }

// Peek records one peek.
func (s *Statistics) Peek() { s.peeks.Add(1) }

// Overflow records one overflow event.
func (s *Statistics) Overflow() { s.overflows.Add(1) }

// Drop records one dropped item.
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the buffer's current size and tracks the high
// water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the total write count.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total read count.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Peeks returns the total peek count.
func (s *Statistics) Peeks() int64 { return s.peeks.Load() }

// Overflows returns the total overflow count.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns the total dropped item count.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the buffer's last recorded size.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the largest size the buffer has reached.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// perSecond converts a counter into an average rate over the tracker's
// lifetime.
func (s *Statistics) perSecond(count int64) float64 {
	s.mu.RLock()
	elapsed := time.Since(s.startTime)
	s.mu.RUnlock()

	if elapsed <= 0 {
		return 0.0
	}
	return float64(count) / elapsed.Seconds()
}

// Throughput returns the average writes per second.
func (s *Statistics) Throughput() float64 {
	return s.perSecond(s.Writes())
}

// ReadThroughput returns the average reads per second.
func (s *Statistics) ReadThroughput() float64 {
	return s.perSecond(s.Reads())
}

// ratio divides part by whole, treating an empty whole as zero.
func ratio(part, whole int64) float64 {
	if whole == 0 {
		return 0.0
	}
	return float64(part) / float64(whole)
}

// DropRate returns the fraction of writes that were dropped, 0 to 1.
func (s *Statistics) DropRate() float64 {
	return ratio(s.Drops(), s.Writes())
}

// OverflowRate returns the fraction of writes that overflowed, 0 to 1.
func (s *Statistics) OverflowRate() float64 {
	return ratio(s.Overflows(), s.Writes())
}

// Utilization returns current size over capacity, 0 to 1.
func (s *Statistics) Utilization(capacity int64) float64 {
	return ratio(s.CurrentSize(), capacity)
}

// Uptime returns how long the tracker has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset zeroes every counter and restarts the clock.
func (s *Statistics) Reset() {
	s.writes.Store(0)
	s.reads.Store(0)
	s.peeks.Store(0)
	s.overflows.Store(0)
	s.drops.Store(0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.currentSize = 0
	s.maxSize = 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time snapshot of every statistic.
type StatsSummary struct {
	Writes         int64         `json:"writes"`
	Reads          int64         `json:"reads"`
	Peeks          int64         `json:"peeks"`
	Overflows      int64         `json:"overflows"`
	Drops          int64         `json:"drops"`
	CurrentSize    int64         `json:"current_size"`
	MaxSize        int64         `json:"max_size"`
	Throughput     float64       `json:"throughput"`
	ReadThroughput float64       `json:"read_throughput"`
	DropRate       float64       `json:"drop_rate"`
	OverflowRate   float64       `json:"overflow_rate"`
	Uptime         time.Duration `json:"uptime"`
}

// Summary captures a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:         s.Writes(),
		Reads:          s.Reads(),
		Peeks:          s.Peeks(),
		Overflows:      s.Overflows(),
		Drops:          s.Drops(),
		CurrentSize:    s.CurrentSize(),
		MaxSize:        s.MaxSize(),
		Throughput:     s.Throughput(),
		ReadThroughput: s.ReadThroughput(),
		DropRate:       s.DropRate(),
		OverflowRate:   s.OverflowRate(),
		Uptime:         s.Uptime(),
	}
}
