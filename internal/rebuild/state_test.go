package rebuild

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func TestTransitions(t *testing.T) {
	s := Begin(8, "abc", 5000, t0)
	assert.False(t, s.Done())
	assert.Equal(t, 0, s.PercentComplete())
	_, ok := s.ETA()
	assert.False(t, ok)

	s = SetExpected(s, 200)
	s = Update(s, 50, event.Watermark{LastSeen: 10, UUID: "u50"}, t0.Add(10*time.Second))
	assert.Equal(t, int64(50), s.Indexed)
	assert.Equal(t, 25, s.PercentComplete())

	eta, ok := s.ETA()
	require.True(t, ok)
	assert.Equal(t, t0.Add(40*time.Second), eta)

	s = End(s, 0, t0.Add(time.Minute))
	assert.True(t, s.Done())
	assert.Equal(t, 100, s.PercentComplete())
}

func TestPercentComplete_Capped(t *testing.T) {
	s := SetExpected(Update(Begin(8, "h", 1, t0), 150, event.Watermark{}, t0), 100)
	assert.Equal(t, 100, s.PercentComplete())
}

func newStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "rebuild"))
	require.NoError(t, err)
	return fs
}

// TS01: every persisted field survives a save and load
func TestFileStore_RoundTrip(t *testing.T) {
	// Given: a state with every optional field set
	fs := newStore(t)
	s := Begin(8, "3f2a", 1234, t0)
	s = SetExpected(s, 999)
	s = Update(s, 7, event.Watermark{LastSeen: 42, UUID: "u7"}, t0.Add(time.Second))
	s = End(s, 3, t0.Add(2*time.Second))

	// When: saved and loaded
	require.NoError(t, fs.Save("b1", s))
	got, err := fs.Load("b1")

	// Then: nothing is lost
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, s.Began.Equal(got.Began))
	assert.True(t, s.Updated.Equal(got.Updated))
	require.NotNil(t, got.Ended)
	assert.True(t, s.Ended.Equal(*got.Ended))
	assert.Equal(t, s.Indexed, got.Indexed)
	assert.Equal(t, *s.Expected, *got.Expected)
	assert.Equal(t, s.IndexVersion, got.IndexVersion)
	assert.Equal(t, s.ConfigHash, got.ConfigHash)
	assert.Equal(t, s.ThroughTime, got.ThroughTime)
	assert.Equal(t, s.Next, got.Next)
}

func TestFileStore_MissingAndGarbled(t *testing.T) {
	fs := newStore(t)
	got, err := fs.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir(), "bad.rebuild"), []byte("began=soon\n"), 0o644))
	got, err = fs.Load("bad")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir(), "partial.rebuild"), []byte("began=1\n"), 0o644))
	got, err = fs.Load("partial")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TS02: a newer run supersedes an older one
func TestFileStore_ReplaceDetectsSupersede(t *testing.T) {
	fs := newStore(t)
	old := Begin(8, "h", 100, t0)
	require.NoError(t, fs.Save("b1", old))

	require.NoError(t, fs.Replace("b1", old, Update(old, 1, event.Watermark{LastSeen: 1, UUID: "a"}, t0)))

	newer := Begin(8, "h", 200, t0)
	require.NoError(t, fs.Save("b1", newer))
	err := fs.Replace("b1", old, Update(old, 1, event.Watermark{}, t0))
	assert.ErrorIs(t, err, ErrStateSuperseded)

	require.NoError(t, fs.Delete("b1"))
	assert.ErrorIs(t, fs.Replace("b1", newer, newer), ErrStateSuperseded)
	require.NoError(t, fs.Delete("b1"))
}

func TestFileStore_ConcurrentReplace(t *testing.T) {
	fs := newStore(t)
	s := Begin(8, "h", 100, t0)
	require.NoError(t, fs.Save("b1", s))

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := Update(s, int64(i), event.Watermark{LastSeen: int64(i)}, t0)
			assert.NoError(t, fs.Replace("b1", s, next))
		}()
	}
	wg.Wait()

	got, err := fs.Load("b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.ThroughTime)
}
