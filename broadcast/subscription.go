package broadcast

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/gridsense/pkg/buffer"
)

// Subscription is one subscriber's handle. Envelopes arrive on Results in
// publish order, each at most once; when the subscription falls behind its
// queue capacity, the oldest envelopes are dropped first.
type Subscription struct {
	id          uuid.UUID
	queue       buffer.Buffer[Published]
	signal      chan struct{}
	results     chan Published
	done        chan struct{}
	closeOnce   sync.Once
	broadcaster *Broadcaster
}

func newSubscription(b *Broadcaster) *Subscription {
	queue, err := buffer.NewCircularBuffer[Published](b.queueSize,
		buffer.WithOverflowPolicy[Published](buffer.DropOldest),
		buffer.WithDropCallback[Published](func(Published) {
			b.recordDrop()
		}),
	)
	if err != nil {
		// Queue size is validated in New and the queue carries no metrics,
		// so buffer construction cannot fail here.
		panic(fmt.Sprintf("create subscriber queue: %v", err))
	}
	return &Subscription{
		id:          uuid.New(),
		queue:       queue,
		signal:      make(chan struct{}, 1),
		results:     make(chan Published),
		done:        make(chan struct{}),
		broadcaster: b,
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Results returns the delivery channel. It closes after Close or
// Unsubscribe; a delivery in flight at that moment may or may not arrive.
func (s *Subscription) Results() <-chan Published {
	return s.results
}

// Close unregisters the subscription and releases its resources.
// Idempotent and safe from any goroutine.
func (s *Subscription) Close() {
	s.broadcaster.Unsubscribe(s.id)
}

// deliver enqueues one envelope and nudges the pump. Runs under the
// broadcaster lock, so it must never block: the queue write is drop-oldest
// and the signal send is best-effort on a one-slot channel.
func (s *Subscription) deliver(pub Published) {
	if err := s.queue.Write(pub); err != nil {
		// Queue already closed by a concurrent unsubscribe.
		return
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// shutdown stops the pump and closes the queue. Reached only through
// Unsubscribe, after the subscription has left the registry.
func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.queue.Close()
	})
}

// pump moves envelopes from the queue to the results channel, preserving
// queue order. It exits on shutdown and closes the results channel so
// range loops over Results terminate.
func (s *Subscription) pump() {
	defer close(s.results)
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			pub, ok := s.queue.Read()
			if !ok {
				break
			}
			select {
			case s.results <- pub:
			case <-s.done:
				return
			}
		}
	}
}
