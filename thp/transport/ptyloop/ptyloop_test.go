package ptyloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpointRoundTrip(t *testing.T) {
	loop, err := Open()
	require.NoError(t, err)
	defer loop.Close()

	host := NewEndpoint(loop.Master, 16)
	device := NewEndpoint(loop.Slave, 16)

	payload := []byte("hello")
	require.NoError(t, host.Send(payload))

	got, err := device.Recv()
	require.NoError(t, err)
	require.Len(t, got, 16)
	require.Equal(t, payload, got[:len(payload)])
	for _, b := range got[len(payload):] {
		require.Equal(t, byte(0), b)
	}
}

func TestEndpointRejectsOversizedPayload(t *testing.T) {
	loop, err := Open()
	require.NoError(t, err)
	defer loop.Close()

	ep := NewEndpoint(loop.Master, 4)
	require.Error(t, ep.Send([]byte("too long")))
}
