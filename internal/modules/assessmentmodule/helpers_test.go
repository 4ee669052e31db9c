package assessmentmodule

import (
	"context"
	"sync"

	"github.com/talentvine/webdesk/internal/candidateclient"
)

// fakeTrack is a MediaTrack driven by the test.
type fakeTrack struct {
	mu      sync.Mutex
	ch      chan []byte
	stopped bool
}

func newFakeTrack() *fakeTrack {
	return &fakeTrack{ch: make(chan []byte, 64)}
}

func (t *fakeTrack) Chunks() <-chan []byte { return t.ch }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.ch)
}

// end simulates the stream ending on its own, outside an explicit
// revoke (the OS "stop sharing" case).
func (t *fakeTrack) end() {
	t.Stop()
}

func (t *fakeTrack) push(data []byte) {
	t.ch <- data
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeGateway hands out fakeTracks and can be programmed to fail or
// hang per capture kind.
type fakeGateway struct {
	mu       sync.Mutex
	tracks   map[CaptureKind]*fakeTrack
	failures map[CaptureKind]*PermissionError
	hang     map[CaptureKind]bool
	blockers map[CaptureKind]chan struct{}
	waiting  int
	acquired []CaptureKind
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		tracks:   make(map[CaptureKind]*fakeTrack),
		failures: make(map[CaptureKind]*PermissionError),
		hang:     make(map[CaptureKind]bool),
		blockers: make(map[CaptureKind]chan struct{}),
	}
}

// block holds the next RequestTrack for kind at the prompt until the
// returned release func is called, after which the grant proceeds.
func (g *fakeGateway) block(kind CaptureKind) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.blockers[kind] = ch
	return func() { close(ch) }
}

func (g *fakeGateway) waitingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

func (g *fakeGateway) RequestTrack(ctx context.Context, kind CaptureKind, constraints MediaConstraints) (MediaTrack, error) {
	g.mu.Lock()
	hang := g.hang[kind]
	failure := g.failures[kind]
	blocker := g.blockers[kind]
	g.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if blocker != nil {
		g.mu.Lock()
		g.waiting++
		g.mu.Unlock()
		select {
		case <-blocker:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	track := newFakeTrack()
	g.mu.Lock()
	g.tracks[kind] = track
	g.acquired = append(g.acquired, kind)
	g.mu.Unlock()
	return track, nil
}

func (g *fakeGateway) track(kind CaptureKind) *fakeTrack {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tracks[kind]
}

func (g *fakeGateway) acquiredKinds() []CaptureKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]CaptureKind(nil), g.acquired...)
}

// fakeStore records stored blobs and upload URLs in memory.
type fakeStore struct {
	mu       sync.Mutex
	stored   map[string][]byte
	uploaded map[string]string
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stored:   make(map[string][]byte),
		uploaded: make(map[string]string),
	}
}

func (s *fakeStore) Store(sessionID, kind, filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return "", s.failWith
	}
	path := sessionID + "/" + kind
	s.stored[path] = append([]byte(nil), data...)
	return path, nil
}

func (s *fakeStore) MarkUploaded(sessionID, kind, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[sessionID+"/"+kind] = url
	return nil
}

// fakeSubmitter captures submit payloads and can be programmed to
// fail.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []candidateclient.SubmitPayload
	err      error
}

func (f *fakeSubmitter) Submit(ctx context.Context, payload candidateclient.SubmitPayload) (*candidateclient.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}

	result := &candidateclient.SubmitResult{}
	for _, rec := range payload.Recordings {
		result.Recordings = append(result.Recordings, candidateclient.StoredRecording{
			Kind: rec.Kind,
			URL:  "https://records.example/" + payload.CandidateID + "/" + rec.Filename,
		})
	}
	return result, nil
}

func (f *fakeSubmitter) lastPayload() *candidateclient.SubmitPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	p := f.payloads[len(f.payloads)-1]
	return &p
}

func (f *fakeSubmitter) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}
