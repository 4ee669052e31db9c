package assessmentmodule

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// SessionRecorder coordinates the capture sources of one exam attempt
// as a unit: they start together, stop together, and finalize exactly
// once.
type SessionRecorder struct {
	logger      hclog.Logger
	source      *CaptureSource
	candidateID string
	constraints map[CaptureKind]MediaConstraints

	mu        sync.Mutex
	handles   map[CaptureKind]*CaptureHandle
	finalized map[CaptureKind]*FinalizedBlob
	stopped   bool

	// OnStreamEnded is forwarded from handles whose stream ends
	// without an explicit revoke.
	OnStreamEnded func(kind CaptureKind)
}

// NewSessionRecorder creates a recorder for one exam attempt.
func NewSessionRecorder(logger hclog.Logger, source *CaptureSource, candidateID string, constraints map[CaptureKind]MediaConstraints) *SessionRecorder {
	return &SessionRecorder{
		logger:      logger.Named("recorder"),
		source:      source,
		candidateID: candidateID,
		constraints: constraints,
		handles:     make(map[CaptureKind]*CaptureHandle),
	}
}

// acquisitionOrder fixes the acquisition sequence: camera before
// screen. If camera fails, screen is never attempted.
var acquisitionOrder = []CaptureKind{KindCamera, KindScreen}

// StartAll acquires every required kind in order. Either every kind is
// recording when it returns, or none is: if a later acquisition fails,
// every handle already acquired is revoked before the error is
// returned, so no half-open recording state survives this call. A
// StopAll that lands while an acquisition is still blocked on the
// permission prompt wins: the late-granted handles are revoked instead
// of registered, so a finalized session never leaves a capture live.
func (r *SessionRecorder) StartAll(ctx context.Context, required map[CaptureKind]bool) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return &PermissionError{Reason: PermissionNotAvailable}
	}
	r.mu.Unlock()

	var acquired []*CaptureHandle

	for _, kind := range acquisitionOrder {
		if !required[kind] {
			continue
		}

		handle, err := r.source.Acquire(ctx, kind, r.constraints[kind])
		if err != nil {
			for _, h := range acquired {
				r.source.Revoke(h)
			}
			r.logger.Warn("start rolled back", "failed_kind", kind, "error", err)
			return err
		}

		k := kind
		handle.OnEnded = func() {
			if r.OnStreamEnded != nil {
				r.OnStreamEnded(k)
			}
		}
		acquired = append(acquired, handle)
	}

	r.mu.Lock()
	if r.stopped {
		// The session terminated while a prompt was open. These handles
		// were never registered, so StopAll cannot reach them; revoke
		// here or they record forever.
		r.mu.Unlock()
		for _, h := range acquired {
			r.source.Revoke(h)
		}
		r.logger.Warn("recorder stopped during acquisition", "revoked", len(acquired))
		return &PermissionError{Reason: PermissionNotAvailable}
	}
	for _, h := range acquired {
		r.handles[h.Kind] = h
	}
	r.mu.Unlock()

	r.logger.Info("recording started", "sources", len(acquired))
	return nil
}

// StopAll revokes every active handle and finalizes each into one
// immutable blob, concatenating chunks in arrival order. Handles with
// no recorded data are dropped: a zero-byte blob is never produced.
// Idempotent: a second call returns the same result without
// re-revoking anything.
func (r *SessionRecorder) StopAll() map[CaptureKind]*FinalizedBlob {
	r.mu.Lock()
	if r.stopped {
		result := r.finalized
		r.mu.Unlock()
		return result
	}
	r.stopped = true
	handles := make([]*CaptureHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	now := time.Now()
	blobs := make(map[CaptureKind]*FinalizedBlob)

	for _, handle := range handles {
		r.source.Revoke(handle)

		data := handle.Bytes()
		if len(data) == 0 {
			r.logger.Warn("dropping empty capture", "kind", handle.Kind)
			continue
		}

		blobs[handle.Kind] = &FinalizedBlob{
			Kind:     handle.Kind,
			Filename: blobFilename(r.candidateID, handle.Kind, now),
			Data:     data,
		}
	}

	r.mu.Lock()
	r.finalized = blobs
	r.mu.Unlock()

	r.logger.Info("recording finalized", "blobs", len(blobs))
	return blobs
}

// ActiveHandles returns the currently recording handles.
func (r *SessionRecorder) ActiveHandles() []*CaptureHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*CaptureHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	return handles
}
