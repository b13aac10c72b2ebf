package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(opts ...RegistryOption) *Registry {
	return NewRegistry(zap.NewNop(), opts...)
}

func TestGetOrCreateSpawnsOncePerID(t *testing.T) {
	reg := newTestRegistry()
	proc := newFakeProcess(42)
	defer proc.exit()

	var spawns atomic.Int32
	factory := func(context.Context) (Process, error) {
		spawns.Add(1)
		time.Sleep(50 * time.Millisecond)
		return proc, nil
	}

	const callers = 20
	var (
		wg       sync.WaitGroup
		created  atomic.Int32
		sessions = make([]*Session, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, wasCreated, err := reg.GetOrCreate(context.Background(), "shared", KindPersistent, factory)
			assert.NoError(t, err)
			if wasCreated {
				created.Add(1)
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), spawns.Load())
	assert.Equal(t, int32(1), created.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestGetOrCreateIDs(t *testing.T) {
	reg := newTestRegistry()

	t.Run("generated when empty", func(t *testing.T) {
		proc := newFakeProcess(1)
		defer proc.exit()

		s, created, err := reg.GetOrCreate(context.Background(), "", KindPersistent, factoryFor(proc))
		require.NoError(t, err)
		assert.True(t, created)

		parsed, err := uuid.Parse(s.ID())
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
	})

	t.Run("existing id is reused", func(t *testing.T) {
		proc := newFakeProcess(2)
		defer proc.exit()

		first, created, err := reg.GetOrCreate(context.Background(), "term-1", KindPersistent, factoryFor(proc))
		require.NoError(t, err)
		require.True(t, created)

		again, created, err := reg.GetOrCreate(context.Background(), "term-1", KindPersistent, func(context.Context) (Process, error) {
			t.Fatal("factory called for existing session")
			return nil, nil
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Same(t, first, again)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		proc := newFakeProcess(3)
		t.Cleanup(proc.exit)
		_, created, err := reg.GetOrCreate(context.Background(), "term-2", KindPersistent, factoryFor(proc))
		require.NoError(t, err)
		require.True(t, created)

		other := newFakeProcess(4)
		t.Cleanup(other.exit)
		_, created, err = reg.GetOrCreate(context.Background(), "term-2", KindEphemeral, factoryFor(other))
		assert.ErrorIs(t, err, ErrKindMismatch)
		assert.False(t, created)
		assert.Zero(t, other.terminated.Load())
	})

	t.Run("invalid id", func(t *testing.T) {
		proc := newFakeProcess(5)
		t.Cleanup(proc.exit)
		_, _, err := reg.GetOrCreate(context.Background(), "../etc/passwd", KindPersistent, factoryFor(proc))
		assert.ErrorIs(t, err, ErrInvalidID)
	})
}

func TestGetOrCreateSpawnFailure(t *testing.T) {
	metrics := newRecordingMetrics()
	reg := newTestRegistry(WithMetrics(metrics))
	errBoom := errors.New("boom")

	_, created, err := reg.GetOrCreate(context.Background(), "x", KindEphemeral, func(context.Context) (Process, error) {
		return nil, errBoom
	}, WithName("python"))
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, created)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 1, metrics.spawnErrors["python"])

	// A failed spawn leaves the id free
	proc := newFakeProcess(1)
	defer proc.exit()
	_, created, err = reg.GetOrCreate(context.Background(), "x", KindEphemeral, factoryFor(proc))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestProcessExitRemovesSession(t *testing.T) {
	metrics := newRecordingMetrics()
	reg := newTestRegistry(WithMetrics(metrics))
	proc := newFakeProcess(1)

	s, _, err := reg.GetOrCreate(context.Background(), "s1", KindPersistent, factoryFor(proc), WithName("shell"))
	require.NoError(t, err)

	proc.exit()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := reg.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, 1, metrics.closedCount("shell/"+ReasonExited))
	require.Eventually(t, func() bool { return proc.terminated.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// A new session under the same id gets a new process
	next := newFakeProcess(2)
	defer next.exit()
	again, created, err := reg.GetOrCreate(context.Background(), "s1", KindPersistent, factoryFor(next))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, s, again)
	assert.Equal(t, 2, again.Pid())
}

func TestTerminate(t *testing.T) {
	reg := newTestRegistry()
	proc := newFakeProcess(1)

	_, _, err := reg.GetOrCreate(context.Background(), "s1", KindPersistent, factoryFor(proc))
	require.NoError(t, err)

	require.NoError(t, reg.Terminate("s1"))
	assert.Equal(t, int32(1), proc.terminated.Load())
	assert.Equal(t, 0, reg.Len())

	assert.ErrorIs(t, reg.Terminate("s1"), ErrNotFound)
	assert.ErrorIs(t, reg.Terminate("never-existed"), ErrNotFound)

	// the exit watcher lost the race and must not terminate again
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), proc.terminated.Load())
}

func TestRelease(t *testing.T) {
	reg := newTestRegistry()
	proc := newFakeProcess(1)

	s, _, err := reg.GetOrCreate(context.Background(), "", KindEphemeral, factoryFor(proc))
	require.NoError(t, err)

	reg.Release(s)
	reg.Release(s)
	assert.Equal(t, int32(1), proc.terminated.Load())
	assert.Equal(t, 0, reg.Len())
}

func TestRemoveDoesNotTerminate(t *testing.T) {
	reg := newTestRegistry()
	proc := newFakeProcess(1)
	defer proc.exit()

	created, _, err := reg.GetOrCreate(context.Background(), "s1", KindPersistent, factoryFor(proc))
	require.NoError(t, err)

	removed, ok := reg.Remove("s1")
	require.True(t, ok)
	assert.Same(t, created, removed)
	assert.Equal(t, int32(0), proc.terminated.Load())

	_, ok = reg.Remove("s1")
	assert.False(t, ok)
}

func TestSnapshotAndForEach(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(WithSessionDefaults(WithClock(clock.Now)))

	ids := []string{"c", "a", "b"}
	for i, sid := range ids {
		proc := newFakeProcess(i + 1)
		defer proc.exit()
		_, _, err := reg.GetOrCreate(context.Background(), sid, KindPersistent, factoryFor(proc))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 3)
	for i, info := range snapshot {
		assert.Equal(t, ids[i], info.ID)
		assert.Equal(t, i+1, info.Pid)
		assert.False(t, info.Attached)
	}

	visited := 0
	reg.ForEach(func(*Session) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestShutdown(t *testing.T) {
	reg := newTestRegistry()
	procs := []*fakeProcess{newFakeProcess(1), newFakeProcess(2)}
	for i, proc := range procs {
		_, _, err := reg.GetOrCreate(context.Background(), "", []Kind{KindPersistent, KindEphemeral}[i], factoryFor(proc))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	for _, proc := range procs {
		assert.Equal(t, int32(1), proc.terminated.Load())
	}
	assert.Equal(t, 0, reg.Len())

	_, _, err := reg.GetOrCreate(context.Background(), "late", KindPersistent, factoryFor(newFakeProcess(3)))
	assert.ErrorIs(t, err, ErrClosed)
}
