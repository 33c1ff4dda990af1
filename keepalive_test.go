package h1dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAliveTimerArmFiresOnIdleConnection(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	k := NewKeepAliveTimer(server, 20*time.Millisecond)
	require.NoError(t, k.Arm())

	buf := make([]byte, 16)
	_, err := server.Read(buf)
	require.Error(t, err)
	assert.True(t, k.Fired(err))
}

func TestKeepAliveTimerDisarmClearsDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	k := NewKeepAliveTimer(server, 20*time.Millisecond)
	require.NoError(t, k.Arm())
	require.NoError(t, k.Disarm())

	done := make(chan struct{})
	go func() {
		client.Write([]byte("x"))
		close(done)
	}()

	buf := make([]byte, 1)
	time.Sleep(40 * time.Millisecond) // longer than the disarmed timeout would have been
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	<-done
}

func TestKeepAliveTimerZeroTimeoutNeverArms(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	k := NewKeepAliveTimer(server, 0)
	require.NoError(t, k.Arm())

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		client.Write([]byte("y"))
		close(done)
	}()

	buf := make([]byte, 1)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	<-done
}

func TestKeepAliveTimerFiredIgnoresNonTimeoutErrors(t *testing.T) {
	k := NewKeepAliveTimer(nil, time.Second)
	assert.False(t, k.Fired(net.ErrClosed))
}
