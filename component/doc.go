// Package component provides the core component infrastructure for
// gridsense: the interfaces every long-running part of the service
// implements, and the lifecycle contract the service manager drives.
//
// # Overview
//
// A gridsense deployment is a fixed pipeline: inputs accept meter samples
// (MQTT), a processor runs them through the classifier, and outputs deliver
// predictions (NATS, websocket, webhooks). Each of those parts implements
// Component so the management layer can inspect it uniformly:
//
//	type Component interface {
//	    Meta() Metadata         // what it is
//	    Health() HealthStatus   // how it is doing
//	    DataFlow() FlowMetrics  // what is flowing through it
//	}
//
// # Lifecycle
//
// Components that own goroutines or connections also implement
// LifecycleComponent:
//
//	Initialize() error                  // setup/create only, NO context
//	Start(ctx context.Context) error    // start with context passed through
//	Stop(timeout time.Duration) error   // graceful shutdown with timeout
//
// The separation matters: Initialize allocates (buffers, clients, sockets
// unopened), Start begins I/O with the caller's context, Stop drains and
// closes. The service manager creates a child context per component, keeps
// the cancel func in a ManagedComponent, and stops components in reverse
// start order on shutdown. Components never store their context; they
// receive it as a parameter to Start.
//
// # Health Reporting
//
// Components track their own HealthStatus (last check time, error count,
// last error, uptime). The health package converts these to sanitized
// health.Status values for the gateway's status endpoints.
//
// # Testing
//
// StandardLifecycleTests runs a conformance suite against any
// LifecycleComponent factory, covering state transitions, idempotent
// stops, restarts, and concurrent Start/Stop calls:
//
//	func TestMQTTInput_Lifecycle(t *testing.T) {
//	    component.StandardLifecycleTests(t, func() component.LifecycleComponent {
//	        return newTestInput(t)
//	    })
//	}
package component
