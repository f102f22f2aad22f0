package listener

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_Serve(t *testing.T) {
	const numCons = 100
	const msg = "hello"
	listener := New(nil)
	require.NoError(t, listener.Listen(0))
	addr := listener.Addr().String()

	var served atomic.Int32
	done := make(chan error)
	go func() {
		done <- listener.Serve(context.Background(), func(ctx context.Context, conn net.Conn) {
			assert.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
			data, err := io.ReadAll(conn)
			assert.NoError(t, err)
			assert.Equal(t, msg, string(data))
			served.Add(1)
		})
	}()
	for i := 0; i < numCons; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		_, err = conn.Write([]byte(msg))
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}
	require.Eventually(t, func() bool {
		return served.Load() == numCons
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, listener.Close())
	assert.NoError(t, <-done)
	assert.ErrorIs(t, listener.Listen(0), errAlreadyListened)
}

func TestListener_ServeStopsOnContext(t *testing.T) {
	listener := New(nil)
	require.NoError(t, listener.Listen(0))
	addr := listener.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	handlerCtx := make(chan context.Context, 1)
	done := make(chan error)
	go func() {
		done <- listener.Serve(ctx, func(ctx context.Context, conn net.Conn) {
			handlerCtx <- ctx
			<-ctx.Done()
		})
	}()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	<-handlerCtx

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_, err = net.Dial("tcp", addr)
	assert.Error(t, err)
}

func TestListener_ClosesConnAfterHandler(t *testing.T) {
	listener := New(nil)
	require.NoError(t, listener.Listen(0))
	defer listener.Close()
	go func() {
		_ = listener.Serve(context.Background(), func(ctx context.Context, conn net.Conn) {
			_, _ = conn.Write([]byte("bye"))
		})
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))
}

func TestListener_Close(t *testing.T) {
	listener := New(nil)
	assert.ErrorIs(t, listener.Serve(context.Background(), nil), errNotListening)
	require.NoError(t, listener.Listen(0))

	err := listener.Close()
	require.NoError(t, err)
	err = listener.Close()
	require.ErrorIs(t, err, errNothingToClose)
}

// failingListener fails Accept a number of times, then reports itself closed.
type failingListener struct {
	net.Listener
	failures int
	calls    atomic.Int32
}

func (f *failingListener) Accept() (net.Conn, error) {
	if int(f.calls.Add(1)) <= f.failures {
		return nil, errors.New("too many open files")
	}
	return nil, net.ErrClosed
}

func (f *failingListener) Close() error { return nil }

func TestListener_ServeBacksOffOnAcceptError(t *testing.T) {
	listener := New(nil)
	fake := &failingListener{failures: 3}
	listener.lis = fake

	start := time.Now()
	require.NoError(t, listener.Serve(context.Background(), nil))
	// 5ms + 10ms + 20ms
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Equal(t, int32(4), fake.calls.Load())
}

func TestListener_ServeStopsDuringBackoff(t *testing.T) {
	listener := New(nil)
	listener.lis = &failingListener{failures: 1 << 30}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- listener.Serve(ctx, nil)
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve kept retrying after cancel")
	}
}

func TestAcceptBackoff(t *testing.T) {
	assert.Equal(t, minAcceptDelay, acceptBackoff(0))
	assert.Equal(t, 10*time.Millisecond, acceptBackoff(minAcceptDelay))
	assert.Equal(t, maxAcceptDelay, acceptBackoff(800*time.Millisecond))
	assert.Equal(t, maxAcceptDelay, acceptBackoff(maxAcceptDelay))
}
