package health

import (
	"sync"
	"testing"
	"time"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()

	m.Update("mqtt-input", Status{Healthy: true, Status: "healthy", Message: "connected"})

	got, ok := m.Get("mqtt-input")
	if !ok {
		t.Fatal("Get() returned ok=false after Update")
	}
	if got.Component != "mqtt-input" {
		t.Errorf("Component = %q, want %q", got.Component, "mqtt-input")
	}
	if got.Timestamp.IsZero() {
		t.Error("Update did not fill zero timestamp")
	}

	if _, ok := m.Get("natspub"); ok {
		t.Error("Get() returned ok=true for unknown component")
	}
}

func TestMonitor_UpdateKeepsTimestamp(t *testing.T) {
	m := NewMonitor()
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	m.Update("stream", Status{Healthy: true, Status: "healthy", Timestamp: ts})

	got, _ := m.Get("stream")
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestMonitor_UpdateHelpers(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("http-gateway", "serving")
	m.UpdateDegraded("natspub", "reconnecting")
	m.UpdateUnhealthy("mqtt-input", "broker unreachable")

	tests := []struct {
		component string
		status    string
		healthy   bool
	}{
		{"http-gateway", "healthy", true},
		{"natspub", "degraded", false},
		{"mqtt-input", "unhealthy", false},
	}
	for _, tt := range tests {
		got, ok := m.Get(tt.component)
		if !ok {
			t.Fatalf("Get(%q) returned ok=false", tt.component)
		}
		if got.Status != tt.status {
			t.Errorf("%s: Status = %q, want %q", tt.component, got.Status, tt.status)
		}
		if got.Healthy != tt.healthy {
			t.Errorf("%s: Healthy = %v, want %v", tt.component, got.Healthy, tt.healthy)
		}
	}
}

func TestMonitor_GetAllReturnsCopy(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("stream", "serving")
	m.UpdateHealthy("webhook", "idle")

	all := m.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll() returned %d statuses, want 2", len(all))
	}

	// Mutating the returned map must not affect the monitor.
	delete(all, "stream")
	if m.Count() != 2 {
		t.Errorf("Count() = %d after mutating GetAll result, want 2", m.Count())
	}
}

func TestMonitor_Remove(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("webhook", "idle")
	m.Remove("webhook")

	if _, ok := m.Get("webhook"); ok {
		t.Error("Get() found component after Remove")
	}
	// Removing twice is harmless.
	m.Remove("webhook")
}

func TestMonitor_AggregateHealth(t *testing.T) {
	m := NewMonitor()

	agg := m.AggregateHealth("gridsense")
	if !agg.IsHealthy() {
		t.Errorf("empty monitor aggregate = %q, want healthy", agg.Status)
	}

	m.UpdateHealthy("http-gateway", "serving")
	m.UpdateHealthy("stream", "serving")
	agg = m.AggregateHealth("gridsense")
	if !agg.IsHealthy() {
		t.Errorf("aggregate = %q, want healthy", agg.Status)
	}
	if agg.Component != "gridsense" {
		t.Errorf("aggregate component = %q, want %q", agg.Component, "gridsense")
	}
	if len(agg.SubStatuses) != 2 {
		t.Errorf("aggregate has %d sub-statuses, want 2", len(agg.SubStatuses))
	}

	m.UpdateDegraded("natspub", "reconnecting")
	if agg := m.AggregateHealth("gridsense"); !agg.IsDegraded() {
		t.Errorf("aggregate = %q, want degraded", agg.Status)
	}

	m.UpdateUnhealthy("mqtt-input", "broker unreachable")
	if agg := m.AggregateHealth("gridsense"); !agg.IsUnhealthy() {
		t.Errorf("aggregate = %q, want unhealthy", agg.Status)
	}
}

func TestMonitor_ListComponentsAndClear(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("http-gateway", "serving")
	m.UpdateHealthy("stream", "serving")
	m.UpdateHealthy("natspub", "connected")

	names := m.ListComponents()
	if len(names) != 3 {
		t.Errorf("ListComponents() returned %d names, want 3", len(names))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, want := range []string{"http-gateway", "stream", "natspub"} {
		if !seen[want] {
			t.Errorf("ListComponents() missing %q", want)
		}
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() = %d after Clear, want 0", m.Count())
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	components := []string{"http-gateway", "stream", "webhook", "natspub", "mqtt-input"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				name := components[j%len(components)]
				m.UpdateHealthy(name, "ok")
				m.Get(name)
				m.GetAll()
				m.AggregateHealth("gridsense")
			}
		}()
	}
	wg.Wait()

	if m.Count() != len(components) {
		t.Errorf("Count() = %d, want %d", m.Count(), len(components))
	}
}
