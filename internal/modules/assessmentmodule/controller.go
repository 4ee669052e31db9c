package assessmentmodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/talentvine/webdesk/internal/candidateclient"
	"github.com/talentvine/webdesk/internal/events"
	"github.com/talentvine/webdesk/internal/modules/questionmodule"
)

// BlobStore persists finalized blobs durably before upload is
// attempted, so a failed submit never loses the recording.
type BlobStore interface {
	Store(sessionID, kind, filename string, data []byte) (path string, err error)
	MarkUploaded(sessionID, kind, url string) error
}

// RecordSubmitter is the boundary toward the Candidate Record Service.
type RecordSubmitter interface {
	Submit(ctx context.Context, payload candidateclient.SubmitPayload) (*candidateclient.SubmitResult, error)
}

// SessionResult is the outcome of one finalized exam attempt.
type SessionResult struct {
	Reason           TerminationReason
	Score            float64
	Disqualified     bool
	ViolationCount   int
	TimeTakenSeconds int
	Blobs            map[CaptureKind]*FinalizedBlob
	StoredPaths      map[CaptureKind]string
	SubmitResult     *candidateclient.SubmitResult
	SubmitErr        error
}

// SessionStatus is a point-in-time snapshot for the HTTP layer.
type SessionStatus struct {
	State            SessionState
	Reason           TerminationReason
	RemainingSeconds int
	ViolationCount   int
	Score            float64
	Disqualified     bool
}

// ControllerDeps carries the collaborators one controller owns for the
// lifetime of its exam attempt. No two attempts share any of them.
type ControllerDeps struct {
	Logger      hclog.Logger
	Bus         events.EventBus
	Recorder    *SessionRecorder
	Monitor     *IntegrityMonitor
	Clock       *ExamClock
	Store       BlobStore
	Submitter   RecordSubmitter
	QuestionSet *questionmodule.QuestionSet
}

// SessionController drives one proctored exam attempt through
// NotStarted, AwaitingPermissions, Active, Terminating and Finalized.
// It is the sole owner of the session state and termination reason;
// every transition is serialized through its mutex, so no two
// transitions ever interleave.
type SessionController struct {
	logger      hclog.Logger
	id          string
	candidateID string
	duration    time.Duration
	required    map[CaptureKind]bool

	bus         events.EventBus
	recorder    *SessionRecorder
	monitor     *IntegrityMonitor
	clock       *ExamClock
	store       BlobStore
	submitter   RecordSubmitter
	questionSet *questionmodule.QuestionSet

	mu         sync.Mutex
	state      SessionState
	reason     TerminationReason
	startedAt  time.Time
	violations int
	answers    []Answer
	result     *SessionResult

	// OnViolation fires after each counted violation, outside the lock.
	OnViolation func(count int)
	// OnFinalized fires exactly once when the session reaches Finalized.
	OnFinalized func(result *SessionResult)
}

// NewSessionController wires a controller to its collaborators and
// hooks the clock and monitor signals into the state machine.
func NewSessionController(id, candidateID string, duration time.Duration, required map[CaptureKind]bool, deps ControllerDeps) *SessionController {
	c := &SessionController{
		logger:      deps.Logger.Named("controller").With("session_id", id),
		id:          id,
		candidateID: candidateID,
		duration:    duration,
		required:    required,
		bus:         deps.Bus,
		recorder:    deps.Recorder,
		monitor:     deps.Monitor,
		clock:       deps.Clock,
		store:       deps.Store,
		submitter:   deps.Submitter,
		questionSet: deps.QuestionSet,
		state:       StateNotStarted,
	}

	c.clock.OnExpired = c.expire
	c.monitor.OnDisqualify = c.disqualify
	c.monitor.OnViolation = c.recordViolation
	c.recorder.OnStreamEnded = func(kind CaptureKind) {
		c.logger.Warn("capture stream ended mid-session", "kind", kind)
		if c.bus != nil {
			event := events.NewSessionEvent(events.EventStreamEnded, c.id, string(kind)+" stream ended")
			event.Data["kind"] = string(kind)
			c.bus.PublishAsync(event)
		}
	}

	return c
}

// ID returns the session id.
func (c *SessionController) ID() string { return c.id }

// CandidateID returns the owning candidate's id.
func (c *SessionController) CandidateID() string { return c.candidateID }

// State returns the current lifecycle state.
func (c *SessionController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the termination reason, empty until Terminating.
func (c *SessionController) Reason() TerminationReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Result returns the finalized outcome, nil before Finalized.
func (c *SessionController) Result() *SessionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Status snapshots the session for the HTTP layer.
func (c *SessionController) Status() SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Before the clock starts, the full duration is the honest answer;
	// an unstarted clock reads zero and looks like an expired exam.
	remaining := c.clock.Remaining()
	if c.state == StateNotStarted || c.state == StateAwaitingPermissions {
		remaining = c.duration
	}

	status := SessionStatus{
		State:            c.state,
		Reason:           c.reason,
		RemainingSeconds: int(remaining / time.Second),
		ViolationCount:   c.violations,
	}
	if c.result != nil {
		status.Score = c.result.Score
		status.Disqualified = c.result.Disqualified
	}
	return status
}

// Open moves NotStarted to AwaitingPermissions once the candidate has
// been authenticated against the record service.
func (c *SessionController) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNotStarted {
		return fmt.Errorf("cannot open session in state %s", c.state)
	}
	c.state = StateAwaitingPermissions
	return nil
}

// Begin attempts AwaitingPermissions -> Active. The exam only starts
// if every required capture source acquired successfully; on a
// permission failure the session stays in AwaitingPermissions and the
// candidate may retry. The exam never starts partially recorded.
func (c *SessionController) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateAwaitingPermissions {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start recording in state %s", state)
	}
	c.mu.Unlock()

	// Acquisition blocks on the candidate's permission prompts, so the
	// lock is not held across it. An abort racing this call wins: the
	// recorder refuses to register handles once stopped, revoking any
	// late grants itself.
	if err := c.recorder.StartAll(ctx, c.required); err != nil {
		c.logger.Warn("permission acquisition failed", "error", err)
		return err
	}

	c.mu.Lock()
	if c.state != StateAwaitingPermissions {
		state := c.state
		c.mu.Unlock()
		c.recorder.StopAll()
		return fmt.Errorf("session moved to %s during acquisition", state)
	}
	c.state = StateActive
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.clock.Start(c.duration)
	if err := c.monitor.Start(); err != nil {
		c.logger.Error("integrity monitor failed to start", "error", err)
	}

	c.logger.Info("session active", "duration", c.duration)
	if c.bus != nil {
		c.bus.PublishAsync(events.NewSessionEvent(events.EventSessionStarted, c.id, "session active"))
	}
	return nil
}

// Submit is the candidate's manual submit. If the violation threshold
// was reached in the same tick, disqualification wins over the
// candidate's intent and the answers are kept but scored zero.
func (c *SessionController) Submit(answers []Answer) error {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot submit in state %s", state)
	}
	c.answers = answers
	disqualified := c.monitor.Disqualified()
	c.mu.Unlock()

	if disqualified {
		c.terminate(ReasonDisqualified)
		return nil
	}
	c.terminate(ReasonManualSubmit)
	return nil
}

// Abort is the explicit exit path. It shortcuts to Terminating from
// any non-final state and still runs the full stop/finalize/submit
// sequence, so the capture streams are always released.
func (c *SessionController) Abort() error {
	c.mu.Lock()
	if c.state == StateTerminating || c.state == StateFinalized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Info("session aborted by candidate")
	if c.bus != nil {
		c.bus.PublishAsync(events.NewSessionEvent(events.EventSessionAborted, c.id, "session aborted"))
	}
	c.terminate(ReasonUserAbort)
	return nil
}

// expire handles the clock reaching zero.
func (c *SessionController) expire() {
	c.logger.Info("exam time expired")
	if c.bus != nil {
		c.bus.PublishAsync(events.NewSessionEvent(events.EventSessionExpired, c.id, "exam time expired"))
	}
	c.terminate(ReasonTimeExpired)
}

// disqualify handles the monitor's threshold signal.
func (c *SessionController) disqualify() {
	c.logger.Warn("session disqualified", "violations", c.monitor.Count())
	if c.bus != nil {
		c.bus.PublishAsync(events.NewSessionEvent(events.EventSessionDisqualified, c.id, "violation threshold reached"))
	}
	c.terminate(ReasonDisqualified)
}

// recordViolation mirrors the monitor's count and notifies observers.
func (c *SessionController) recordViolation(count int) {
	c.mu.Lock()
	c.violations = count
	onViolation := c.OnViolation
	c.mu.Unlock()

	if c.bus != nil {
		event := events.NewSessionEvent(events.EventSessionViolation, c.id, "integrity violation recorded")
		event.Data["count"] = count
		c.bus.PublishAsync(event)
	}
	if onViolation != nil {
		onViolation(count)
	}
}

// terminate is the single entry into Terminating. The first caller
// sets the termination reason; every later trigger is a no-op, so the
// reason is set exactly once per session.
func (c *SessionController) terminate(reason TerminationReason) {
	c.mu.Lock()
	if c.state == StateTerminating || c.state == StateFinalized {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminating
	c.reason = reason
	answers := c.answers
	c.mu.Unlock()

	c.logger.Info("session terminating", "reason", reason)
	c.finalize(reason, answers)
}

// finalize runs the termination sequence in order: pause the clock,
// stop the monitor, stop and finalize every capture, persist the
// blobs, submit to the record service, then reach Finalized whether or
// not the submit succeeded. Recording always stops before upload, so
// no chunk is lost to a revoked stream mid-upload.
func (c *SessionController) finalize(reason TerminationReason, answers []Answer) {
	c.clock.Pause()
	c.monitor.Stop()

	blobs := c.recorder.StopAll()

	stored := make(map[CaptureKind]string, len(blobs))
	if c.store != nil {
		for kind, blob := range blobs {
			path, err := c.store.Store(c.id, string(kind), blob.Filename, blob.Data)
			if err != nil {
				c.logger.Error("failed to persist recording", "kind", kind, "error", err)
				continue
			}
			stored[kind] = path
		}
	}

	disqualified := reason == ReasonDisqualified
	score, responses := scoreAnswers(c.questionSet, answers)
	if disqualified {
		score = 0
	}

	violations := c.monitor.Count()
	timeTaken := int((c.duration - c.clock.Remaining()) / time.Second)

	result := &SessionResult{
		Reason:           reason,
		Score:            score,
		Disqualified:     disqualified,
		ViolationCount:   violations,
		TimeTakenSeconds: timeTaken,
		Blobs:            blobs,
		StoredPaths:      stored,
	}

	if c.submitter != nil {
		payload := candidateclient.SubmitPayload{
			CandidateID:      c.candidateID,
			Score:            score,
			Completed:        true,
			TimeTakenSeconds: timeTaken,
			ViolationCount:   violations,
			Disqualified:     disqualified,
			Responses:        responses,
		}
		for _, blob := range blobs {
			payload.Recordings = append(payload.Recordings, candidateclient.RecordingUpload{
				Kind:     string(blob.Kind),
				Filename: blob.Filename,
				Data:     blob.Data,
			})
		}

		// The candidate's tab may already be gone; the submit runs on
		// its own context so a dropped connection cannot cancel it.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		result.SubmitResult, result.SubmitErr = c.submitter.Submit(ctx, payload)
		cancel()

		if result.SubmitErr != nil {
			// Data loss is possible here; the local blob copies in the
			// store are the recovery path.
			c.logger.Error("final submit failed after retries", "error", result.SubmitErr)
		} else {
			c.logger.Info("final submit acknowledged", "score", score, "disqualified", disqualified)
			if c.bus != nil {
				c.bus.PublishAsync(events.NewSessionEvent(events.EventSessionSubmitted, c.id, "attempt submitted"))
			}
			if c.store != nil && result.SubmitResult != nil {
				for _, rec := range result.SubmitResult.Recordings {
					if err := c.store.MarkUploaded(c.id, rec.Kind, rec.URL); err != nil {
						c.logger.Warn("failed to record upload url", "kind", rec.Kind, "error", err)
					}
				}
			}
		}
	}

	c.mu.Lock()
	c.state = StateFinalized
	c.result = result
	onFinalized := c.OnFinalized
	c.mu.Unlock()

	c.logger.Info("session finalized", "reason", reason, "violations", violations, "score", score)
	if c.bus != nil {
		c.bus.PublishAsync(events.NewSessionEvent(events.EventSessionFinalized, c.id, "session finalized"))
	}
	if onFinalized != nil {
		onFinalized(result)
	}
}
