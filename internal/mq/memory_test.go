package mq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendDelivers(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Message, 1)
	go func() {
		_ = backend.Subscribe(ctx, "jobs", func(_ context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	id, err := backend.Publish(ctx, "jobs", []byte(`{"n":1}`), map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case msg := <-received:
		assert.Equal(t, id, msg.ID)
		assert.JSONEq(t, `{"n":1}`, string(msg.Data))
		assert.Equal(t, "v", msg.Attributes["k"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryBackendRedeliversOnHandlerError(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = backend.Subscribe(ctx, "jobs", func(_ context.Context, msg Message) error {
			if calls.Add(1) == 1 {
				return errors.New("transient failure")
			}
			close(done)
			return nil
		})
	}()

	_, err := backend.Publish(ctx, "jobs", []byte("payload"), nil)
	require.NoError(t, err)

	select {
	case <-done:
		assert.Equal(t, int32(2), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("message not redelivered")
	}
}

func TestMemoryBackendSubscribeStopsOnCancel(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- backend.Subscribe(ctx, "jobs", func(context.Context, Message) error {
			return nil
		})
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestMemoryBackendDepthAndIsolation(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx := context.Background()
	_, err := backend.Publish(ctx, "contest", []byte("a"), nil)
	require.NoError(t, err)
	_, err = backend.Publish(ctx, "contest", []byte("b"), nil)
	require.NoError(t, err)
	_, err = backend.Publish(ctx, "practice", []byte("c"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, backend.Depth("contest"))
	assert.Equal(t, 1, backend.Depth("practice"))
	assert.Equal(t, 0, backend.Depth("other"))
}

func TestMemoryBackendClosedRejectsPublish(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Close())

	_, err := backend.Publish(context.Background(), "jobs", []byte("x"), nil)
	assert.Error(t, err)
}
