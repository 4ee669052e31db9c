package assessmentmodule

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsPermissionError(t *testing.T) {
	gateway := newFakeGateway()
	gateway.failures[KindCamera] = &PermissionError{Kind: KindCamera, Reason: PermissionDenied}
	source := NewCaptureSource(hclog.NewNullLogger(), gateway)

	handle, err := source.Acquire(context.Background(), KindCamera, MediaConstraints{})
	require.Error(t, err)
	assert.Nil(t, handle)

	pe, ok := AsPermissionError(err)
	require.True(t, ok)
	assert.Equal(t, PermissionDenied, pe.Reason)
	assert.Equal(t, KindCamera, pe.Kind)
}

func TestAcquireUnansweredPromptIsUserCancelled(t *testing.T) {
	gateway := newFakeGateway()
	gateway.hang[KindScreen] = true
	source := NewCaptureSource(hclog.NewNullLogger(), gateway)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := source.Acquire(ctx, KindScreen, MediaConstraints{})
	require.Error(t, err)

	pe, ok := AsPermissionError(err)
	require.True(t, ok)
	assert.Equal(t, PermissionUserCancelled, pe.Reason)
}

func TestChunkOrderPreserved(t *testing.T) {
	gateway := newFakeGateway()
	source := NewCaptureSource(hclog.NewNullLogger(), gateway)

	handle, err := source.Acquire(context.Background(), KindCamera, MediaConstraints{})
	require.NoError(t, err)

	track := gateway.track(KindCamera)
	track.push([]byte("c1"))
	track.push([]byte("c2"))
	track.push([]byte("c3"))

	require.Eventually(t, func() bool {
		return handle.ChunkCount() == 3
	}, time.Second, 5*time.Millisecond)

	source.Revoke(handle)
	assert.True(t, bytes.Equal([]byte("c1c2c3"), handle.Bytes()))
}

func TestRevokeIsIdempotent(t *testing.T) {
	gateway := newFakeGateway()
	source := NewCaptureSource(hclog.NewNullLogger(), gateway)

	handle, err := source.Acquire(context.Background(), KindCamera, MediaConstraints{})
	require.NoError(t, err)

	source.Revoke(handle)
	source.Revoke(handle)

	assert.True(t, handle.Revoked())
	assert.True(t, gateway.track(KindCamera).isStopped())
}

func TestUnexpectedStreamEndFiresCallbackOnce(t *testing.T) {
	gateway := newFakeGateway()
	source := NewCaptureSource(hclog.NewNullLogger(), gateway)

	handle, err := source.Acquire(context.Background(), KindScreen, MediaConstraints{})
	require.NoError(t, err)

	ended := make(chan struct{}, 2)
	handle.OnEnded = func() { ended <- struct{}{} }

	gateway.track(KindScreen).end()

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("stream end callback never fired")
	}

	// An explicit revoke after the natural end must not re-fire it.
	source.Revoke(handle)
	select {
	case <-ended:
		t.Fatal("stream end callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRevokeDoesNotFireEndCallback(t *testing.T) {
	gateway := newFakeGateway()
	source := NewCaptureSource(hclog.NewNullLogger(), gateway)

	handle, err := source.Acquire(context.Background(), KindCamera, MediaConstraints{})
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	handle.OnEnded = func() { fired <- struct{}{} }

	source.Revoke(handle)

	select {
	case <-fired:
		t.Fatal("explicit revoke must not look like an unexpected end")
	case <-time.After(50 * time.Millisecond):
	}
}
