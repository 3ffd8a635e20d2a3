package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/predict"
)

func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return container, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestIntegration_RepublishesPredictions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, natsURL := startNATSContainer(ctx, t)
	defer func() { _ = container.Terminate(ctx) }()

	broadcaster, err := broadcast.New()
	require.NoError(t, err)

	p, err := New(Deps{
		Config: config.NATSConfig{
			URLs:    []string{natsURL},
			Subject: "gridsense.predictions",
		},
		Broadcaster: broadcaster,
	})
	require.NoError(t, err)
	require.NoError(t, p.Initialize())
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(5 * time.Second) }()

	// Independent consumer verifying what lands on the subject.
	consumer, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer consumer.Close()

	received := make(chan *nats.Msg, 4)
	sub, err := consumer.ChanSubscribe("gridsense.predictions", received)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, consumer.Flush())

	vec := feature.Vector{Voltage: 231.5, Current: 4.8, ActivePower: 1100}
	result := predict.Result{
		Label:      5,
		States:     device.StateSet{"bulb": true, "fan": false, "iron": true},
		Confidence: 0.86,
	}
	broadcaster.Publish(vec, result)

	select {
	case msg := <-received:
		var pub broadcast.Published
		require.NoError(t, json.Unmarshal(msg.Data, &pub))
		assert.Equal(t, uint64(1), pub.Seq)
		assert.Equal(t, 5, pub.Result.Label)
		assert.True(t, pub.Result.States["bulb"])
		assert.InDelta(t, 231.5, pub.Input.Voltage, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received on gridsense.predictions")
	}

	published, failed := p.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Equal(t, uint64(0), failed)
	assert.True(t, p.Health().Healthy)
}
