package assessmentmodule

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentvine/webdesk/internal/events"
	"github.com/talentvine/webdesk/internal/modules/questionmodule"
)

func testQuestionSet() *questionmodule.QuestionSet {
	return &questionmodule.QuestionSet{
		ID:    "mcq-basic",
		Title: "Basic Assessment",
		Questions: []questionmodule.Question{
			{ID: "q1", Type: questionmodule.TypeMultipleChoice, Options: []string{"a", "b", "c"}, CorrectOption: "a", Points: 10},
			{ID: "q2", Type: questionmodule.TypeMultipleChoice, Options: []string{"x", "y"}, CorrectOption: "y", Points: 10},
			{ID: "q3", Type: questionmodule.TypeFreeText, Points: 5},
		},
	}
}

type testSession struct {
	controller *SessionController
	gateway    *fakeGateway
	submitter  *fakeSubmitter
	store      *fakeStore
}

func newTestSession(t *testing.T, duration time.Duration) *testSession {
	t.Helper()

	gateway := newFakeGateway()
	logger := hclog.NewNullLogger()
	source := NewCaptureSource(logger, gateway)
	recorder := NewSessionRecorder(logger, source, "cand-1", map[CaptureKind]MediaConstraints{
		KindCamera: {Width: 640, Height: 480, Audio: true},
		KindScreen: {},
	})
	monitor := NewIntegrityMonitor(logger, nil, "sess-1", 3, 10*time.Millisecond)
	clock := NewExamClock(logger, 5*time.Millisecond)

	submitter := &fakeSubmitter{}
	store := newFakeStore()

	controller := NewSessionController("sess-1", "cand-1", duration, cameraOnly(), ControllerDeps{
		Logger:      logger,
		Recorder:    recorder,
		Monitor:     monitor,
		Clock:       clock,
		Store:       store,
		Submitter:   submitter,
		QuestionSet: testQuestionSet(),
	})
	require.NoError(t, controller.Open())

	return &testSession{
		controller: controller,
		gateway:    gateway,
		submitter:  submitter,
		store:      store,
	}
}

func (ts *testSession) begin(t *testing.T) {
	t.Helper()
	require.NoError(t, ts.controller.Begin(context.Background()))
	require.Equal(t, StateActive, ts.controller.State())
}

func (ts *testSession) pushCameraChunks(t *testing.T, chunks ...[]byte) {
	t.Helper()
	track := ts.gateway.track(KindCamera)
	require.NotNil(t, track)
	for _, chunk := range chunks {
		track.push(chunk)
	}
	require.Eventually(t, func() bool {
		for _, h := range ts.controller.recorder.ActiveHandles() {
			if h.Kind == KindCamera && h.ChunkCount() >= len(chunks) {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

// driveViolations feeds n counted visibility losses straight into the
// monitor, spaced past the debounce window.
func (ts *testSession) driveViolations(n int) {
	base := time.Now()
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		ts.controller.monitor.handleEvent(events.Event{Type: events.EventVisibilityHidden, SessionID: "sess-1", Timestamp: at})
		ts.controller.monitor.handleEvent(events.Event{Type: events.EventVisibilityVisible, SessionID: "sess-1", Timestamp: at.Add(50 * time.Millisecond)})
	}
}

func TestPermissionFailureKeepsSessionRetryable(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	ts.gateway.failures[KindCamera] = &PermissionError{Kind: KindCamera, Reason: PermissionDenied}

	err := ts.controller.Begin(context.Background())
	require.Error(t, err)

	_, ok := AsPermissionError(err)
	require.True(t, ok)
	assert.Equal(t, StateAwaitingPermissions, ts.controller.State())

	// The candidate fixes the permission and retries.
	ts.gateway.mu.Lock()
	delete(ts.gateway.failures, KindCamera)
	ts.gateway.mu.Unlock()

	require.NoError(t, ts.controller.Begin(context.Background()))
	assert.Equal(t, StateActive, ts.controller.State())
}

func TestManualSubmitLifecycle(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	ts.begin(t)
	ts.pushCameraChunks(t, []byte("frame1"), []byte("frame2"))

	err := ts.controller.Submit([]Answer{
		{QuestionID: "q1", Value: "a"},
		{QuestionID: "q2", Value: "x"},
		{QuestionID: "q3", Value: "my essay"},
	})
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, ts.controller.State())
	assert.Equal(t, ReasonManualSubmit, ts.controller.Reason())

	payload := ts.submitter.lastPayload()
	require.NotNil(t, payload)
	assert.Equal(t, "cand-1", payload.CandidateID)
	assert.True(t, payload.Completed)
	assert.False(t, payload.Disqualified)
	assert.InDelta(t, 50.0, payload.Score, 0.01)

	require.Len(t, payload.Responses, 3)
	require.NotNil(t, payload.Responses[0].IsCorrect)
	assert.True(t, *payload.Responses[0].IsCorrect)
	require.NotNil(t, payload.Responses[1].IsCorrect)
	assert.False(t, *payload.Responses[1].IsCorrect)
	assert.Nil(t, payload.Responses[2].IsCorrect, "free text is not auto-graded")

	require.Len(t, payload.Recordings, 1)
	assert.Equal(t, []byte("frame1frame2"), payload.Recordings[0].Data)

	// Blob persisted locally and its upload URL recorded.
	assert.Equal(t, []byte("frame1frame2"), ts.store.stored["sess-1/camera"])
	assert.NotEmpty(t, ts.store.uploaded["sess-1/camera"])
}

func TestDisqualifyWinsOverSameTickSubmit(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	ts.begin(t)
	ts.pushCameraChunks(t, []byte("frame"))

	// Simulate the threshold signal still being in flight: the monitor
	// has flipped to disqualified but its signal has not reached the
	// controller yet when the submit request lands.
	ts.controller.monitor.OnDisqualify = nil
	ts.driveViolations(3)
	require.True(t, ts.controller.monitor.Disqualified())
	require.Equal(t, StateActive, ts.controller.State())

	require.NoError(t, ts.controller.Submit([]Answer{{QuestionID: "q1", Value: "a"}}))

	assert.Equal(t, ReasonDisqualified, ts.controller.Reason())
	assert.Equal(t, StateFinalized, ts.controller.State())

	payload := ts.submitter.lastPayload()
	require.NotNil(t, payload)
	assert.True(t, payload.Disqualified)
	assert.Zero(t, payload.Score)
}

func TestDisqualificationEndToEnd(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	ts.begin(t)
	ts.pushCameraChunks(t, []byte("frame"))

	ts.driveViolations(3)

	assert.Equal(t, StateFinalized, ts.controller.State())
	assert.Equal(t, ReasonDisqualified, ts.controller.Reason())

	result := ts.controller.Result()
	require.NotNil(t, result)
	assert.True(t, result.Disqualified)
	assert.Zero(t, result.Score)
	assert.Equal(t, 3, result.ViolationCount)

	payload := ts.submitter.lastPayload()
	require.NotNil(t, payload)
	assert.True(t, payload.Disqualified)
	assert.Zero(t, payload.Score)
	assert.Equal(t, 3, payload.ViolationCount)

	// Every capture revoked by Finalized.
	assert.True(t, ts.gateway.track(KindCamera).isStopped())
}

func TestClockExpiryTerminatesSession(t *testing.T) {
	ts := newTestSession(t, 20*time.Millisecond)
	ts.begin(t)
	ts.pushCameraChunks(t, []byte("frame"))

	require.Eventually(t, func() bool {
		return ts.controller.State() == StateFinalized
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, ReasonTimeExpired, ts.controller.Reason())

	payload := ts.submitter.lastPayload()
	require.NotNil(t, payload)
	assert.True(t, payload.Completed)
	assert.False(t, payload.Disqualified)
}

func TestAbortRunsFullCleanup(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	ts.begin(t)
	ts.pushCameraChunks(t, []byte("frame"))

	require.NoError(t, ts.controller.Abort())

	assert.Equal(t, StateFinalized, ts.controller.State())
	assert.Equal(t, ReasonUserAbort, ts.controller.Reason())
	assert.True(t, ts.gateway.track(KindCamera).isStopped())
	assert.Equal(t, 1, ts.submitter.submitCount(), "abandoning never skips the submit")
}

func TestAbortDuringPermissionPromptRevokesLateGrant(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	release := ts.gateway.block(KindCamera)

	beginErr := make(chan error, 1)
	go func() { beginErr <- ts.controller.Begin(context.Background()) }()

	require.Eventually(t, func() bool {
		return ts.gateway.waitingCount() == 1
	}, time.Second, time.Millisecond)

	// The candidate walks away mid-prompt.
	require.NoError(t, ts.controller.Abort())
	assert.Equal(t, StateFinalized, ts.controller.State())
	assert.Equal(t, ReasonUserAbort, ts.controller.Reason())

	// The prompt resolves after finalization; the granted stream must
	// not be left recording an exam that no longer exists.
	release()

	err := <-beginErr
	require.Error(t, err)
	_, ok := AsPermissionError(err)
	require.True(t, ok)

	track := ts.gateway.track(KindCamera)
	require.NotNil(t, track)
	assert.True(t, track.isStopped())
	assert.Empty(t, ts.controller.recorder.ActiveHandles())
}

func TestStatusBeforeStartReportsFullDuration(t *testing.T) {
	ts := newTestSession(t, 15*time.Minute)

	status := ts.controller.Status()
	assert.Equal(t, StateAwaitingPermissions, status.State)
	assert.Equal(t, 900, status.RemainingSeconds)
}

func TestTerminationReasonSetExactlyOnce(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	ts.begin(t)

	require.NoError(t, ts.controller.Abort())
	require.Equal(t, ReasonUserAbort, ts.controller.Reason())

	// Late triggers must not overwrite the reason or re-run finalize.
	require.NoError(t, ts.controller.Abort())
	ts.controller.terminate(ReasonTimeExpired)

	assert.Equal(t, ReasonUserAbort, ts.controller.Reason())
	assert.Equal(t, 1, ts.submitter.submitCount())
}

func TestSubmitRejectedOutsideActive(t *testing.T) {
	ts := newTestSession(t, time.Minute)

	err := ts.controller.Submit([]Answer{{QuestionID: "q1", Value: "a"}})
	require.Error(t, err)
	assert.Equal(t, StateAwaitingPermissions, ts.controller.State())
	assert.Equal(t, 0, ts.submitter.submitCount())
}

func TestFinalizeSurvivesSubmitFailure(t *testing.T) {
	ts := newTestSession(t, time.Minute)
	ts.submitter.err = context.DeadlineExceeded
	ts.begin(t)
	ts.pushCameraChunks(t, []byte("frame"))

	require.NoError(t, ts.controller.Submit(nil))

	// Finalized stands even though the upload failed; the local store
	// still holds the blob.
	assert.Equal(t, StateFinalized, ts.controller.State())
	result := ts.controller.Result()
	require.NotNil(t, result)
	assert.Error(t, result.SubmitErr)
	assert.Equal(t, []byte("frame"), ts.store.stored["sess-1/camera"])
}
