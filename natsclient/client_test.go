package natsclient

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorkit/errors"
)

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewClient_Options(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithName("sensorkit-test"),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
		WithToken("tok"),
	)
	require.NoError(t, err)
	assert.Equal(t, "sensorkit-test", client.clientName)
	assert.Equal(t, time.Second, client.reconnectWait)
	assert.Equal(t, "tok", client.token)
}

func TestNewClient_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  ClientOption
	}{
		{"empty_name", WithName("")},
		{"zero_reconnect_wait", WithReconnectWait(0)},
		{"negative_timeout", WithTimeout(-time.Second)},
		{"zero_drain_timeout", WithDrainTimeout(0)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", test.opt)
			assert.Error(t, err)
		})
	}
}

func TestClient_OperationsWithoutConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Publish("sensors.binary.door_open", []byte("{}"))
	assert.True(t, errors.IsHard(err))

	_, err = client.Subscribe("sensors.control.recompute", func(_ *nats.Msg) {})
	assert.Error(t, err)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, StatusClosed, client.Status())
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "closed", StatusClosed.String())
}
