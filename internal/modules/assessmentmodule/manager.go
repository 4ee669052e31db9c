package assessmentmodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/talentvine/webdesk/internal/candidateclient"
	"github.com/talentvine/webdesk/internal/config"
	"github.com/talentvine/webdesk/internal/database"
	"github.com/talentvine/webdesk/internal/events"
	"github.com/talentvine/webdesk/internal/modules/questionmodule"
)

// CandidateAuthenticator gates entry into a session: no lookup, no
// exam.
type CandidateAuthenticator interface {
	Lookup(ctx context.Context, username, password string) (*candidateclient.Candidate, error)
}

// Session bundles one live exam attempt with its relay gateway.
type Session struct {
	Controller  *SessionController
	Gateway     *BrowserGateway
	QuestionSet *questionmodule.QuestionSet
}

// Manager owns every live session: construction of the per-attempt
// collaborators, the registry keyed by session id, and the persisted
// journal rows. Exactly one controller exists per attempt and no two
// attempts share a capture handle.
type Manager struct {
	logger    hclog.Logger
	bus       events.EventBus
	db        *gorm.DB
	cfg       config.AssessmentConfig
	bank      *questionmodule.Bank
	auth      CandidateAuthenticator
	submitter RecordSubmitter
	store     BlobStore

	// clockInterval is one second in production; tests shrink it.
	clockInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	noticeSub *events.Subscription
}

// NewManager wires a session manager. db, store and submitter may be
// nil in tests; persistence and upload are then skipped.
func NewManager(logger hclog.Logger, bus events.EventBus, db *gorm.DB, cfg config.AssessmentConfig, bank *questionmodule.Bank, auth CandidateAuthenticator, submitter RecordSubmitter, store BlobStore) *Manager {
	m := &Manager{
		logger:        logger.Named("session-manager"),
		bus:           bus,
		db:            db,
		cfg:           cfg,
		bank:          bank,
		auth:          auth,
		submitter:     submitter,
		store:         store,
		clockInterval: time.Second,
		sessions:      make(map[string]*Session),
	}

	if bus != nil {
		sub, err := bus.Subscribe(events.EventFilter{
			Types: []events.EventType{events.EventShortcutBlocked, events.EventStreamEnded},
		}, m.journalNotice)
		if err != nil {
			m.logger.Error("failed to subscribe for advisory notices", "error", err)
		} else {
			m.noticeSub = sub
		}
	}

	return m
}

// SetClockInterval overrides the countdown granularity, for tests.
func (m *Manager) SetClockInterval(interval time.Duration) {
	m.clockInterval = interval
}

// Create authenticates the candidate and builds a new session in the
// AwaitingPermissions state.
func (m *Manager) Create(ctx context.Context, username, password, questionSetID string) (*Session, error) {
	if m.auth == nil {
		return nil, fmt.Errorf("no candidate authenticator configured")
	}

	candidate, err := m.auth.Lookup(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("candidate authentication failed: %w", err)
	}

	if questionSetID == "" {
		questionSetID = candidate.QuestionSetID
	}
	set, ok := m.bank.Set(questionSetID)
	if !ok {
		return nil, fmt.Errorf("unknown question set: %s", questionSetID)
	}

	duration := m.cfg.DefaultDuration
	if set.DurationSeconds > 0 {
		duration = time.Duration(set.DurationSeconds) * time.Second
	}

	required := map[CaptureKind]bool{KindCamera: true}
	for _, capability := range set.Capabilities {
		switch CaptureKind(capability) {
		case KindCamera, KindScreen:
			required[CaptureKind(capability)] = true
		}
	}

	id := uuid.New().String()

	gateway := NewBrowserGateway(m.logger, m.bus, id, m.cfg.ViolationThreshold)
	source := NewCaptureSource(m.logger, gateway)
	chunkMS := int(m.cfg.ChunkInterval / time.Millisecond)
	recorder := NewSessionRecorder(m.logger, source, candidate.ID, map[CaptureKind]MediaConstraints{
		KindCamera: {Width: m.cfg.CameraWidth, Height: m.cfg.CameraHeight, Audio: true, ChunkIntervalMS: chunkMS},
		KindScreen: {ChunkIntervalMS: chunkMS},
	})
	monitor := NewIntegrityMonitor(m.logger, m.bus, id, m.cfg.ViolationThreshold, m.cfg.ViolationDebounce)
	clock := NewExamClock(m.logger, m.clockInterval)

	controller := NewSessionController(id, candidate.ID, duration, required, ControllerDeps{
		Logger:      m.logger,
		Bus:         m.bus,
		Recorder:    recorder,
		Monitor:     monitor,
		Clock:       clock,
		Store:       m.store,
		Submitter:   m.submitter,
		QuestionSet: set,
	})
	gateway.SetStatusFunc(controller.Status)

	controller.OnViolation = func(count int) {
		m.persistViolation(id, count)
	}
	controller.OnFinalized = func(result *SessionResult) {
		m.persistFinal(controller, result)
	}

	if err := controller.Open(); err != nil {
		gateway.Close()
		return nil, err
	}

	session := &Session{
		Controller:  controller,
		Gateway:     gateway,
		QuestionSet: set,
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	m.persistCreate(controller, questionSetID, duration)

	m.logger.Info("session created", "session_id", id, "candidate_id", candidate.ID, "question_set", questionSetID)
	if m.bus != nil {
		m.bus.PublishAsync(events.NewSessionEvent(events.EventSessionCreated, id, "session created"))
	}

	return session, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// List returns every session in the registry.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Begin runs the permission acquisition for a session and, on success,
// persists the Active transition.
func (m *Manager) Begin(ctx context.Context, id string) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}

	acquireCtx := ctx
	if m.cfg.GrantTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, m.cfg.GrantTimeout)
		defer cancel()
	}

	if err := session.Controller.Begin(acquireCtx); err != nil {
		return err
	}

	m.persistActive(session.Controller)
	return nil
}

// Submit runs the candidate's manual submit.
func (m *Manager) Submit(id string, answers []Answer) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	return session.Controller.Submit(answers)
}

// Abort runs the explicit exit path.
func (m *Manager) Abort(id string) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	return session.Controller.Abort()
}

// Attach binds a relay WebSocket connection to a session's gateway.
func (m *Manager) Attach(id string, conn *websocket.Conn) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	return session.Gateway.Attach(conn)
}

// Shutdown aborts every unfinished session so no capture stream is
// left live, then releases every gateway.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.Controller.State() != StateFinalized {
			s.Controller.Abort()
		}
		s.Gateway.Close()
	}

	if m.noticeSub != nil && m.bus != nil {
		m.bus.Unsubscribe(m.noticeSub.ID)
	}
}

// journalNotice persists advisory proctor signals. They are never
// counted toward disqualification.
func (m *Manager) journalNotice(event events.Event) error {
	if m.db == nil || event.SessionID == "" {
		return nil
	}

	detail := event.Message
	if action, ok := event.Data["action"].(string); ok && action != "" {
		detail = action
	}

	notice := database.ProctorNotice{
		SessionID:  event.SessionID,
		Kind:       string(event.Type),
		Detail:     detail,
		Counted:    false,
		DetectedAt: event.Timestamp,
	}
	if err := m.db.Create(&notice).Error; err != nil {
		m.logger.Warn("failed to journal notice", "session_id", event.SessionID, "error", err)
	}
	return nil
}

func (m *Manager) persistCreate(controller *SessionController, questionSetID string, duration time.Duration) {
	if m.db == nil {
		return
	}

	row := database.AssessmentSession{
		ID:               controller.ID(),
		CandidateID:      controller.CandidateID(),
		QuestionSetID:    questionSetID,
		State:            controller.State().String(),
		DurationSeconds:  int(duration / time.Second),
		RemainingSeconds: int(duration / time.Second),
	}
	if err := m.db.Create(&row).Error; err != nil {
		m.logger.Error("failed to persist session", "session_id", controller.ID(), "error", err)
	}
}

func (m *Manager) persistActive(controller *SessionController) {
	if m.db == nil {
		return
	}

	now := time.Now()
	err := m.db.Model(&database.AssessmentSession{}).
		Where("id = ?", controller.ID()).
		Updates(map[string]interface{}{
			"state":      controller.State().String(),
			"started_at": &now,
		}).Error
	if err != nil {
		m.logger.Error("failed to persist active transition", "session_id", controller.ID(), "error", err)
	}
}

func (m *Manager) persistViolation(id string, count int) {
	if m.db == nil {
		return
	}

	err := m.db.Model(&database.AssessmentSession{}).
		Where("id = ?", id).
		Update("violation_count", count).Error
	if err != nil {
		m.logger.Error("failed to persist violation count", "session_id", id, "error", err)
	}

	notice := database.ProctorNotice{
		SessionID:  id,
		Kind:       string(events.EventVisibilityHidden),
		Detail:     "tab visibility lost",
		Counted:    true,
		DetectedAt: time.Now(),
	}
	if err := m.db.Create(&notice).Error; err != nil {
		m.logger.Warn("failed to journal violation", "session_id", id, "error", err)
	}
}

func (m *Manager) persistFinal(controller *SessionController, result *SessionResult) {
	if m.db == nil {
		return
	}

	now := time.Now()
	updates := map[string]interface{}{
		"state":              controller.State().String(),
		"termination_reason": string(result.Reason),
		"remaining_seconds":  0,
		"violation_count":    result.ViolationCount,
		"score":              result.Score,
		"disqualified":       result.Disqualified,
		"time_taken_seconds": result.TimeTakenSeconds,
		"finalized_at":       &now,
	}
	if result.SubmitErr != nil {
		updates["submit_attempts"] = 1
		updates["submit_error"] = result.SubmitErr.Error()
	} else if m.submitter != nil {
		updates["submit_attempts"] = 1
	}
	if result.Reason != ReasonTimeExpired {
		updates["remaining_seconds"] = int(controller.clock.Remaining() / time.Second)
	}

	err := m.db.Model(&database.AssessmentSession{}).
		Where("id = ?", controller.ID()).
		Updates(updates).Error
	if err != nil {
		m.logger.Error("failed to persist final state", "session_id", controller.ID(), "error", err)
	}
}
