package engine

import (
	"context"
	"sync"
	"time"
)

// MockOptions configures the mock engine. Zero values give a healthy engine
// that answers "hello world" immediately.
type MockOptions struct {
	Text string
	// NoSpeech makes every pass decode to empty text.
	NoSpeech     bool
	Confidence   float64
	Latency      time.Duration
	InitErr      error
	RecognizeErr error
	DestroyErr   error
}

// Mock is an in-memory engine that tracks live sessions and outstanding
// result buffers.
type Mock struct {
	opts MockOptions

	mu          sync.Mutex
	nextID      uint64
	sessions    map[Session]Models
	outstanding map[uint64]struct{}
	created     int
	destroyed   int
	passes      int
}

func NewMock(opts MockOptions) *Mock {
	switch {
	case opts.NoSpeech:
		opts.Text = ""
	case opts.Text == "":
		opts.Text = "hello world"
	}
	return &Mock{
		opts:        opts,
		sessions:    make(map[Session]Models),
		outstanding: make(map[uint64]struct{}),
	}
}

func (m *Mock) CreateSession(ctx context.Context, models Models) (Session, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.opts.InitErr != nil {
		return 0, m.opts.InitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s := Session(m.nextID)
	m.sessions[s] = models
	m.created++
	return s, nil
}

func (m *Mock) DestroySession(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s]; !ok {
		return Errorf(KindNotInitialized, "mock session %d not found", s)
	}
	delete(m.sessions, s)
	m.destroyed++
	return m.opts.DestroyErr
}

func (m *Mock) Recognize(ctx context.Context, s Session) (*Buffer, error) {
	m.mu.Lock()
	_, ok := m.sessions[s]
	m.passes++
	m.mu.Unlock()
	if !ok {
		return nil, Errorf(KindNotInitialized, "mock session %d not found", s)
	}

	if m.opts.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.opts.Latency):
		}
	}
	if m.opts.RecognizeErr != nil {
		return nil, m.opts.RecognizeErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b := &Buffer{Text: m.opts.Text, Confidence: m.opts.Confidence, id: m.nextID}
	m.outstanding[b.id] = struct{}{}
	return b, nil
}

func (m *Mock) ReleaseResult(b *Buffer) {
	if b == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outstanding, b.id)
}

// LiveSessions reports sessions created and not yet destroyed.
func (m *Mock) LiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// OutstandingBuffers reports result buffers not yet released.
func (m *Mock) OutstandingBuffers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outstanding)
}

// Stats returns lifetime session and pass counts.
func (m *Mock) Stats() (created, destroyed, passes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.destroyed, m.passes
}
