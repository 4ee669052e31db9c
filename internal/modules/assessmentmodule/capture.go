package assessmentmodule

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// CaptureHandle is a live, owned reference to one media stream's
// accumulating recording. Chunks are append-only while the stream is
// live and frozen once the handle is revoked. A handle is never
// reused across sessions.
type CaptureHandle struct {
	ID   string
	Kind CaptureKind

	mu      sync.Mutex
	chunks  [][]byte
	track   MediaTrack
	revoked bool
	ended   bool
	done    chan struct{}

	// OnEnded fires once if the underlying stream ends without an
	// explicit revoke (e.g. the OS-level "stop sharing" action).
	OnEnded func()
}

// appendChunk adds a fragment in arrival order. Fragments arriving
// after revoke are dropped so the frozen sequence stays immutable.
func (h *CaptureHandle) appendChunk(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return
	}
	h.chunks = append(h.chunks, data)
}

// ChunkCount returns the number of fragments accumulated so far.
func (h *CaptureHandle) ChunkCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chunks)
}

// Bytes concatenates the chunk sequence in arrival order.
func (h *CaptureHandle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, c := range h.chunks {
		total += len(c)
	}
	buf := make([]byte, 0, total)
	for _, c := range h.chunks {
		buf = append(buf, c...)
	}
	return buf
}

// Revoked reports whether the handle has been revoked.
func (h *CaptureHandle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// CaptureSource acquires permissioned media streams through a
// MediaGateway and accumulates their fragments onto handles.
type CaptureSource struct {
	logger  hclog.Logger
	gateway MediaGateway
}

// NewCaptureSource creates a capture source bound to one gateway.
func NewCaptureSource(logger hclog.Logger, gateway MediaGateway) *CaptureSource {
	return &CaptureSource{
		logger:  logger.Named("capture"),
		gateway: gateway,
	}
}

// Acquire requests a media stream of the given kind. It blocks until
// the permission prompt resolves or ctx expires; a prompt the user
// never answers is reported as UserCancelled rather than hanging
// forever. On success a background pump appends fragments to the
// returned handle for as long as the stream is live.
func (cs *CaptureSource) Acquire(ctx context.Context, kind CaptureKind, constraints MediaConstraints) (*CaptureHandle, error) {
	track, err := cs.gateway.RequestTrack(ctx, kind, constraints)
	if err != nil {
		if _, ok := AsPermissionError(err); ok {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, &PermissionError{Kind: kind, Reason: PermissionUserCancelled, Err: ctx.Err()}
		}
		return nil, &PermissionError{Kind: kind, Reason: PermissionNotAvailable, Err: err}
	}

	handle := &CaptureHandle{
		ID:    uuid.New().String(),
		Kind:  kind,
		track: track,
		done:  make(chan struct{}),
	}

	go cs.pump(handle)

	cs.logger.Info("capture acquired", "kind", kind, "handle_id", handle.ID)
	return handle, nil
}

// pump drains the track's chunk stream into the handle. The stream is
// a continuous real-time recording, so arrival order is preserved
// exactly.
func (cs *CaptureSource) pump(handle *CaptureHandle) {
	defer close(handle.done)

	for chunk := range handle.track.Chunks() {
		handle.appendChunk(chunk)
	}

	// Channel closed: either an explicit revoke or the stream ended
	// on its own (OS "stop sharing"). The latter is a soft warning,
	// not a termination.
	handle.mu.Lock()
	unexpected := !handle.revoked && !handle.ended
	handle.ended = true
	onEnded := handle.OnEnded
	handle.mu.Unlock()

	if unexpected {
		cs.logger.Warn("capture stream ended unexpectedly", "kind", handle.Kind, "handle_id", handle.ID)
		if onEnded != nil {
			onEnded()
		}
	}
}

// Revoke stops the recording, releases the underlying stream and
// freezes the chunk sequence. Idempotent: revoking an already-revoked
// handle is a no-op.
func (cs *CaptureSource) Revoke(handle *CaptureHandle) {
	if handle == nil {
		return
	}

	handle.mu.Lock()
	if handle.revoked {
		handle.mu.Unlock()
		return
	}
	handle.revoked = true
	alreadyEnded := handle.ended
	handle.ended = true
	track := handle.track
	handle.mu.Unlock()

	track.Stop()

	// Wait for the pump to drain so no fragment races the freeze.
	if !alreadyEnded {
		<-handle.done
	}

	cs.logger.Info("capture revoked", "kind", handle.Kind, "handle_id", handle.ID, "chunks", handle.ChunkCount())
}
