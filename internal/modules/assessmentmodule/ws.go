package assessmentmodule

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/talentvine/webdesk/internal/events"
)

// Binary chunk frames are prefixed with one byte identifying the
// capture kind; the rest of the frame is raw container data.
const (
	frameCamera byte = 0x01
	frameScreen byte = 0x02
)

const syncInterval = 5 * time.Second

// controlMessage is the JSON control frame exchanged with the
// candidate's browser tab over the session WebSocket.
type controlMessage struct {
	Type        string                 `json:"type"`
	Kind        string                 `json:"kind,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	State       string                 `json:"state,omitempty"`
	Action      string                 `json:"action,omitempty"`
	Constraints *MediaConstraints      `json:"constraints,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

type grantReply struct {
	granted bool
	reason  PermissionReason
}

// browserTrack is a MediaTrack fed by binary frames relayed from the
// browser. The chunk channel closes exactly once, on Stop, on a
// stream-ended notice, or when the relay connection drops.
type browserTrack struct {
	kind   CaptureKind
	onStop func(kind CaptureKind)

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newBrowserTrack(kind CaptureKind, onStop func(kind CaptureKind)) *browserTrack {
	return &browserTrack{
		kind:   kind,
		onStop: onStop,
		ch:     make(chan []byte, 256),
	}
}

func (t *browserTrack) Chunks() <-chan []byte { return t.ch }

// Stop tells the browser to release the stream and closes the chunk
// channel. Safe to call repeatedly.
func (t *browserTrack) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()

	if t.onStop != nil {
		t.onStop(t.kind)
	}
}

// closeNatural closes the chunk channel without signalling the browser,
// used when the stream ended on its own or the relay dropped.
func (t *browserTrack) closeNatural() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}

func (t *browserTrack) deliver(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- data:
	default:
		// The pump has stalled; dropping beats blocking the relay read
		// loop for every other signal on the connection.
	}
}

// BrowserGateway is the production MediaGateway: it relays permission
// requests, media chunks and proctoring signals over one WebSocket to
// the candidate's locked-down tab. One gateway per session; the
// connection attaches after the session is created.
type BrowserGateway struct {
	logger    hclog.Logger
	sessionID string
	bus       events.EventBus
	threshold int

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[CaptureKind]chan grantReply
	tracks   map[CaptureKind]*browserTrack
	statusFn func() SessionStatus
	sub      *events.Subscription
	done     chan struct{}
	closed   bool

	writeMu sync.Mutex
}

// NewBrowserGateway creates a gateway awaiting its relay connection.
func NewBrowserGateway(logger hclog.Logger, bus events.EventBus, sessionID string, threshold int) *BrowserGateway {
	return &BrowserGateway{
		logger:    logger.Named("gateway").With("session_id", sessionID),
		sessionID: sessionID,
		bus:       bus,
		threshold: threshold,
		pending:   make(map[CaptureKind]chan grantReply),
		tracks:    make(map[CaptureKind]*browserTrack),
		done:      make(chan struct{}),
	}
}

// SetStatusFunc installs the snapshot source used for periodic time
// sync frames.
func (g *BrowserGateway) SetStatusFunc(fn func() SessionStatus) {
	g.mu.Lock()
	g.statusFn = fn
	g.mu.Unlock()
}

// Attach binds the relay connection and starts the read and sync
// loops. The previous connection, if any, is replaced.
func (g *BrowserGateway) Attach(conn *websocket.Conn) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		conn.Close()
		return &PermissionError{Reason: PermissionNotAvailable}
	}
	old := g.conn
	g.conn = conn

	if g.sub == nil && g.bus != nil {
		sub, err := g.bus.Subscribe(events.EventFilter{
			Types: []events.EventType{
				events.EventSessionViolation,
				events.EventSessionDisqualified,
				events.EventSessionExpired,
				events.EventSessionFinalized,
				events.EventStreamEnded,
			},
			SessionID: g.sessionID,
		}, g.forwardEvent)
		if err != nil {
			g.mu.Unlock()
			return err
		}
		g.sub = sub
		go g.syncLoop()
	}
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go g.readLoop(conn)

	g.logger.Info("relay attached")
	return nil
}

// RequestTrack asks the browser to acquire a media stream. It blocks
// until the candidate answers the permission prompt or ctx expires.
func (g *BrowserGateway) RequestTrack(ctx context.Context, kind CaptureKind, constraints MediaConstraints) (MediaTrack, error) {
	g.mu.Lock()
	if g.conn == nil || g.closed {
		g.mu.Unlock()
		return nil, &PermissionError{Kind: kind, Reason: PermissionNotAvailable}
	}
	reply := make(chan grantReply, 1)
	g.pending[kind] = reply
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, kind)
		g.mu.Unlock()
	}()

	if err := g.send(controlMessage{
		Type:        "acquire",
		Kind:        string(kind),
		Constraints: &constraints,
	}); err != nil {
		return nil, &PermissionError{Kind: kind, Reason: PermissionNotAvailable, Err: err}
	}

	select {
	case r := <-reply:
		if !r.granted {
			return nil, &PermissionError{Kind: kind, Reason: r.reason}
		}
	case <-ctx.Done():
		// The prompt may resolve arbitrarily late or never.
		return nil, &PermissionError{Kind: kind, Reason: PermissionUserCancelled, Err: ctx.Err()}
	case <-g.done:
		return nil, &PermissionError{Kind: kind, Reason: PermissionNotAvailable}
	}

	track := newBrowserTrack(kind, func(k CaptureKind) {
		g.send(controlMessage{Type: "stop", Kind: string(k)})
	})

	g.mu.Lock()
	g.tracks[kind] = track
	g.mu.Unlock()

	return track, nil
}

// readLoop consumes frames from one relay connection until it drops.
func (g *BrowserGateway) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			g.logger.Debug("relay read loop ended", "error", err)
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			g.handleChunk(data)
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				g.logger.Warn("malformed control frame", "error", err)
				continue
			}
			g.handleControl(msg)
		}
	}

	g.mu.Lock()
	current := g.conn == conn
	if current {
		g.conn = nil
	}
	tracks := make([]*browserTrack, 0, len(g.tracks))
	for _, t := range g.tracks {
		tracks = append(tracks, t)
	}
	g.mu.Unlock()

	// A dropped relay ends every live stream. The recorder sees a
	// natural close and raises its soft warning.
	if current {
		for _, t := range tracks {
			t.closeNatural()
		}
	}
}

func (g *BrowserGateway) handleChunk(data []byte) {
	if len(data) < 2 {
		return
	}

	var kind CaptureKind
	switch data[0] {
	case frameCamera:
		kind = KindCamera
	case frameScreen:
		kind = KindScreen
	default:
		g.logger.Warn("unknown chunk frame prefix", "prefix", data[0])
		return
	}

	g.mu.Lock()
	track := g.tracks[kind]
	g.mu.Unlock()

	if track != nil {
		chunk := make([]byte, len(data)-1)
		copy(chunk, data[1:])
		track.deliver(chunk)
	}
}

func (g *BrowserGateway) handleControl(msg controlMessage) {
	switch msg.Type {
	case "grant", "deny":
		g.resolveGrant(msg)
	case "visibility":
		g.publishVisibility(msg.State)
	case "shortcut":
		event := events.NewSessionEvent(events.EventShortcutBlocked, g.sessionID, "blocked shortcut attempt")
		event.Data["action"] = msg.Action
		g.publish(event)
	case "stream-ended":
		g.mu.Lock()
		track := g.tracks[CaptureKind(msg.Kind)]
		g.mu.Unlock()
		if track != nil {
			track.closeNatural()
		}
	default:
		g.logger.Debug("ignoring control frame", "type", msg.Type)
	}
}

func (g *BrowserGateway) resolveGrant(msg controlMessage) {
	kind := CaptureKind(msg.Kind)

	g.mu.Lock()
	reply := g.pending[kind]
	g.mu.Unlock()

	if reply == nil {
		g.logger.Warn("grant reply without pending request", "kind", msg.Kind)
		return
	}

	if msg.Type == "grant" {
		reply <- grantReply{granted: true}
		return
	}

	reason := PermissionReason(msg.Reason)
	switch reason {
	case PermissionDenied, PermissionNotAvailable, PermissionUserCancelled:
	default:
		reason = PermissionDenied
	}
	reply <- grantReply{reason: reason}
}

func (g *BrowserGateway) publishVisibility(state string) {
	switch state {
	case "hidden":
		g.publish(events.NewSessionEvent(events.EventVisibilityHidden, g.sessionID, "tab hidden"))
	case "visible":
		g.publish(events.NewSessionEvent(events.EventVisibilityVisible, g.sessionID, "tab visible"))
	default:
		g.logger.Warn("unknown visibility state", "state", state)
	}
}

func (g *BrowserGateway) publish(event events.Event) {
	if g.bus == nil {
		return
	}
	if err := g.bus.PublishAsync(event); err != nil {
		g.logger.Warn("failed to publish proctor signal", "type", event.Type, "error", err)
	}
}

// forwardEvent pushes session notices down to the browser: violation
// counts, disqualification, expiry, finalization, stream warnings.
func (g *BrowserGateway) forwardEvent(event events.Event) error {
	msg := controlMessage{Data: map[string]interface{}{}}

	switch event.Type {
	case events.EventSessionViolation:
		msg.Type = "violation"
		msg.Data["count"] = event.Data["count"]
		msg.Data["threshold"] = g.threshold
	case events.EventSessionDisqualified:
		msg.Type = "disqualified"
	case events.EventSessionExpired:
		msg.Type = "expired"
	case events.EventSessionFinalized:
		msg.Type = "finalized"
	case events.EventStreamEnded:
		msg.Type = "stream-warning"
		msg.Kind, _ = event.Data["kind"].(string)
	default:
		return nil
	}

	return g.send(msg)
}

// syncLoop pushes a periodic countdown snapshot so the browser's
// displayed timer cannot drift from the authoritative clock.
func (g *BrowserGateway) syncLoop() {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.mu.Lock()
			fn := g.statusFn
			g.mu.Unlock()
			if fn == nil {
				continue
			}
			status := fn()
			g.send(controlMessage{
				Type:  "sync",
				State: status.State.String(),
				Data: map[string]interface{}{
					"remainingSeconds": status.RemainingSeconds,
					"violationCount":   status.ViolationCount,
				},
			})
			if status.State == StateFinalized {
				return
			}
		}
	}
}

func (g *BrowserGateway) send(msg controlMessage) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()

	if conn == nil {
		return &PermissionError{Reason: PermissionNotAvailable}
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Close tears the gateway down: the relay connection, every live
// track, pending grant waits and the bus subscription.
func (g *BrowserGateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.done)
	conn := g.conn
	g.conn = nil
	sub := g.sub
	g.sub = nil
	tracks := make([]*browserTrack, 0, len(g.tracks))
	for _, t := range g.tracks {
		tracks = append(tracks, t)
	}
	g.mu.Unlock()

	if sub != nil && g.bus != nil {
		g.bus.Unsubscribe(sub.ID)
	}
	if conn != nil {
		conn.Close()
	}
	for _, t := range tracks {
		t.closeNatural()
	}
}
