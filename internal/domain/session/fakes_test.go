package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var errFakeExited = errors.New("fake process exited")

// fakeProcess stands in for a supervised child
type fakeProcess struct {
	pid  int
	outR *io.PipeReader
	outW *io.PipeWriter

	mu    sync.Mutex
	input bytes.Buffer

	done       chan struct{}
	exitOnce   sync.Once
	terminated atomic.Int32
}

func newFakeProcess(pid int) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, outR: r, outW: w, done: make(chan struct{})}
}

func (p *fakeProcess) Output() io.Reader { return p.outR }

func (p *fakeProcess) WriteInput(ctx context.Context, b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errFakeExited
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.Write(b)
}

func (p *fakeProcess) Terminate() {
	p.terminated.Add(1)
	p.exit()
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Pid() int { return p.pid }

// emit blocks until the session's pump has read b
func (p *fakeProcess) emit(b string) {
	_, _ = p.outW.Write([]byte(b))
}

func (p *fakeProcess) exit() {
	p.exitOnce.Do(func() {
		_ = p.outW.Close()
		close(p.done)
	})
}

func (p *fakeProcess) inputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

func factoryFor(p *fakeProcess) Factory {
	return func(context.Context) (Process, error) {
		return p, nil
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMetrics struct {
	mu          sync.Mutex
	created     map[string]int
	closed      map[string]int
	spawnErrors map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		created:     map[string]int{},
		closed:      map[string]int{},
		spawnErrors: map[string]int{},
	}
}

func (m *recordingMetrics) SessionCreated(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[kind]++
}

func (m *recordingMetrics) SessionClosed(kind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[kind+"/"+reason]++
}

func (m *recordingMetrics) RecordSpawnError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawnErrors[kind]++
}

func (m *recordingMetrics) closedCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed[key]
}
