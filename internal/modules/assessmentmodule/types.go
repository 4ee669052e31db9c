package assessmentmodule

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SessionState is the lifecycle state of one proctored exam attempt.
type SessionState int32

const (
	StateNotStarted SessionState = iota
	StateAwaitingPermissions
	StateActive
	StateTerminating
	StateFinalized
)

func (s SessionState) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateAwaitingPermissions:
		return "AWAITING_PERMISSIONS"
	case StateActive:
		return "ACTIVE"
	case StateTerminating:
		return "TERMINATING"
	case StateFinalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// TerminationReason records why a session left the Active state.
// It is set exactly once per session.
type TerminationReason string

const (
	ReasonNone         TerminationReason = ""
	ReasonManualSubmit TerminationReason = "manual_submit"
	ReasonTimeExpired  TerminationReason = "time_expired"
	ReasonDisqualified TerminationReason = "disqualified"
	ReasonUserAbort    TerminationReason = "user_abort"
)

// CaptureKind identifies a media source.
type CaptureKind string

const (
	KindCamera CaptureKind = "camera"
	KindScreen CaptureKind = "screen"
)

// PermissionReason classifies why a media permission grant failed.
type PermissionReason string

const (
	PermissionDenied        PermissionReason = "denied"
	PermissionNotAvailable  PermissionReason = "not_available"
	PermissionUserCancelled PermissionReason = "user_cancelled"
)

// PermissionError reports a failed acquisition of a media stream.
// It is recoverable: the session stays in AwaitingPermissions and the
// candidate may retry.
type PermissionError struct {
	Kind   CaptureKind
	Reason PermissionReason
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s permission %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s permission %s", e.Kind, e.Reason)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// AsPermissionError unwraps err into a *PermissionError if possible.
func AsPermissionError(err error) (*PermissionError, bool) {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// MediaConstraints carries the capture parameters requested from the
// candidate's browser, including the cadence at which the recorder
// should emit chunks.
type MediaConstraints struct {
	Width           int  `json:"width,omitempty"`
	Height          int  `json:"height,omitempty"`
	Audio           bool `json:"audio"`
	ChunkIntervalMS int  `json:"chunkIntervalMs,omitempty"`
}

// MediaTrack is a live, owned media stream. Chunks delivers recorded
// fragments in arrival order and is closed when the stream ends, for
// any reason. Stop releases the underlying stream; it must be safe to
// call more than once.
type MediaTrack interface {
	Chunks() <-chan []byte
	Stop()
}

// MediaGateway acquires media streams from the candidate's
// environment. In production this is the session's WebSocket
// connection; tests inject fakes so no browser is needed.
type MediaGateway interface {
	// RequestTrack asks the environment for a stream of the given
	// kind. It blocks until the permission prompt resolves or ctx
	// expires; failures are returned as *PermissionError.
	RequestTrack(ctx context.Context, kind CaptureKind, constraints MediaConstraints) (MediaTrack, error)
}

// FinalizedBlob is the immutable, complete byte content of one
// capture, ready for upload. Produced at most once per handle.
type FinalizedBlob struct {
	Kind     CaptureKind
	Filename string
	Data     []byte
}

// Size returns the blob length in bytes.
func (b *FinalizedBlob) Size() int64 {
	return int64(len(b.Data))
}

// blobFilename encodes candidate id, kind and timestamp, matching the
// naming the record service expects for uploaded recordings.
func blobFilename(candidateID string, kind CaptureKind, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.webm", candidateID, kind, at.UTC().Format("20060102T150405Z"))
}
