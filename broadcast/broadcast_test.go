package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/metric"
	"github.com/c360/gridsense/predict"
)

func testInput() feature.Vector {
	return feature.Vector{
		Voltage:       230.0,
		Current:       4.78,
		ActivePower:   1100.0,
		ReactivePower: 0.0,
		ApparentPower: 1100.0,
		PowerFactor:   1.0,
	}
}

func testResult(label int) predict.Result {
	return predict.Result{
		Label:      label,
		States:     device.StateSet{"bulb": false, "fan": false, "iron": true},
		Confidence: 0.95,
	}
}

func newTestBroadcaster(t *testing.T, opts ...Option) *Broadcaster {
	t.Helper()
	b, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

// recv reads one envelope with a timeout so a delivery bug fails the test
// instead of hanging it.
func recv(t *testing.T, sub *Subscription) Published {
	t.Helper()
	select {
	case pub, ok := <-sub.Results():
		if !ok {
			t.Fatal("results channel closed unexpectedly")
		}
		return pub
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Published{}
	}
}

func TestBroadcaster_EmptyState(t *testing.T) {
	b := newTestBroadcaster(t)

	if _, ok := b.Latest(); ok {
		t.Error("Latest() reported a prediction before any publish")
	}
	if b.Sequence() != 0 {
		t.Errorf("Sequence() = %d before any publish", b.Sequence())
	}
}

func TestBroadcaster_PublishAndLatest(t *testing.T) {
	b := newTestBroadcaster(t)

	first := b.Publish(testInput(), testResult(4))
	if first.Seq != 1 {
		t.Errorf("first publish Seq = %d, want 1", first.Seq)
	}
	if first.ProducedAt.IsZero() {
		t.Error("ProducedAt not stamped")
	}

	latest, ok := b.Latest()
	if !ok {
		t.Fatal("Latest() empty after publish")
	}
	if latest.Seq != 1 || latest.Result.Label != 4 {
		t.Errorf("Latest() = seq %d label %d", latest.Seq, latest.Result.Label)
	}

	second := b.Publish(testInput(), testResult(2))
	if second.Seq != 2 {
		t.Errorf("second publish Seq = %d, want 2", second.Seq)
	}
	latest, _ = b.Latest()
	if latest.Seq != 2 || latest.Result.Label != 2 {
		t.Errorf("Latest() not replaced: seq %d label %d", latest.Seq, latest.Result.Label)
	}
}

// A subscriber sees exactly the envelopes published after registration, in
// publish order.
func TestBroadcaster_SubscribeReceivesOnlyNewResults(t *testing.T) {
	b := newTestBroadcaster(t)

	b.Publish(testInput(), testResult(1)) // before subscription, must not arrive

	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(testInput(), testResult(2))
	b.Publish(testInput(), testResult(3))
	b.Publish(testInput(), testResult(4))

	for i, wantLabel := range []int{2, 3, 4} {
		pub := recv(t, sub)
		if pub.Result.Label != wantLabel {
			t.Errorf("delivery %d: label = %d, want %d", i, pub.Result.Label, wantLabel)
		}
		if pub.Seq != uint64(i+2) {
			t.Errorf("delivery %d: seq = %d, want %d", i, pub.Seq, i+2)
		}
	}
}

func TestBroadcaster_NoReplayOnSubscribe(t *testing.T) {
	b := newTestBroadcaster(t)

	b.Publish(testInput(), testResult(1))
	b.Publish(testInput(), testResult(2))

	sub := b.Subscribe()
	defer sub.Close()

	select {
	case pub := <-sub.Results():
		t.Errorf("received replayed envelope seq %d", pub.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_MultipleSubscribersIndependent(t *testing.T) {
	b := newTestBroadcaster(t)

	subA := b.Subscribe()
	defer subA.Close()
	subB := b.Subscribe()
	defer subB.Close()

	if subA.ID() == subB.ID() {
		t.Error("subscriptions share an ID")
	}
	if b.SubscriberCount() != 2 {
		t.Errorf("SubscriberCount() = %d, want 2", b.SubscriberCount())
	}

	b.Publish(testInput(), testResult(5))

	if pub := recv(t, subA); pub.Seq != 1 {
		t.Errorf("subscriber A got seq %d, want 1", pub.Seq)
	}
	if pub := recv(t, subB); pub.Seq != 1 {
		t.Errorf("subscriber B got seq %d, want 1", pub.Seq)
	}
}

// A subscriber that never reads must not block the publisher; its oldest
// envelopes are dropped once the queue fills.
func TestBroadcaster_SlowSubscriberDropsOldest(t *testing.T) {
	b := newTestBroadcaster(t, WithQueueSize(2))

	slow := b.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(testInput(), testResult(i%8))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Drain what survived: order must hold even though envelopes were lost.
	var seqs []uint64
	for {
		var pub Published
		select {
		case pub = <-slow.Results():
		case <-time.After(200 * time.Millisecond):
			pub.Seq = 0
		}
		if pub.Seq == 0 {
			break
		}
		seqs = append(seqs, pub.Seq)
		if pub.Seq == 10 {
			break
		}
	}

	if len(seqs) == 0 || len(seqs) >= 10 {
		t.Fatalf("received %d envelopes, want some but not all of 10", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("sequence not increasing: %v", seqs)
		}
	}
	if b.Stats().Dropped == 0 {
		t.Error("Stats().Dropped = 0 after overflowing a queue of 2 with 10 publishes")
	}
}

func TestBroadcaster_UnsubscribeIdempotent(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe()
	sub.Close()
	sub.Close()
	b.Unsubscribe(sub.ID())
	b.Unsubscribe(uuid.New())

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after close, want 0", b.SubscriberCount())
	}

	// Channel closes so range loops terminate.
	select {
	case _, ok := <-sub.Results():
		if ok {
			t.Error("received an envelope after Close")
		}
	case <-time.After(time.Second):
		t.Error("results channel not closed after Close")
	}

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish(testInput(), testResult(1))
}

func TestBroadcaster_CloseFromOtherGoroutine(t *testing.T) {
	b := newTestBroadcaster(t)
	sub := b.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}

func TestBroadcaster_ConcurrentPublishOrdering(t *testing.T) {
	b := newTestBroadcaster(t, WithQueueSize(256))

	sub := b.Subscribe()
	defer sub.Close()

	const publishers = 4
	const perPublisher = 25

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(testInput(), testResult(i%8))
			}
		}()
	}
	wg.Wait()

	if b.Sequence() != publishers*perPublisher {
		t.Errorf("Sequence() = %d, want %d", b.Sequence(), publishers*perPublisher)
	}
	if b.Stats().Published != publishers*perPublisher {
		t.Errorf("Stats().Published = %d, want %d", b.Stats().Published, publishers*perPublisher)
	}

	seen := make(map[uint64]bool)
	var last uint64
	for i := 0; i < publishers*perPublisher; i++ {
		pub := recv(t, sub)
		if pub.Seq <= last {
			t.Fatalf("sequence regressed: %d after %d", pub.Seq, last)
		}
		if seen[pub.Seq] {
			t.Fatalf("sequence %d delivered twice", pub.Seq)
		}
		seen[pub.Seq] = true
		last = pub.Seq
	}
}

func TestBroadcaster_QueueSizeValidation(t *testing.T) {
	if _, err := New(WithQueueSize(0)); err == nil {
		t.Error("expected error for zero queue size")
	}
	if _, err := New(WithQueueSize(-5)); err == nil {
		t.Error("expected error for negative queue size")
	}
}

func TestBroadcaster_MetricsIntegration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	b := newTestBroadcaster(t, WithMetrics(registry, "broadcaster"), WithQueueSize(1))

	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(testInput(), testResult(1))
	b.Publish(testInput(), testResult(2))
	b.Publish(testInput(), testResult(3))

	families, err := registry.PrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	if values["gridsense_broadcast_published_total"] != 3 {
		t.Errorf("published_total = %v, want 3", values["gridsense_broadcast_published_total"])
	}
	if values["gridsense_broadcast_subscribers"] != 1 {
		t.Errorf("subscribers = %v, want 1", values["gridsense_broadcast_subscribers"])
	}
	// Queue of 1 with an unread subscriber must have dropped at least one.
	if values["gridsense_broadcast_dropped_total"] < 1 {
		t.Errorf("dropped_total = %v, want >= 1", values["gridsense_broadcast_dropped_total"])
	}
}
