package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	files []string
}

func (r *recorder) record(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, file)
}

func (r *recorder) seen(file string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f == file {
			return true
		}
	}
	return false
}

func TestWatcher_ReportsTrackedFileChange(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "a.pro")
	other := filepath.Join(dir, "b.pro")
	require.NoError(t, os.WriteFile(tracked, []byte("pro a\nend\n"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("pro b\nend\n"), 0o644))

	rec := &recorder{}
	w, err := New(rec.record)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(tracked))

	require.NoError(t, os.WriteFile(tracked, []byte("pro a\nx = 1\nend\n"), 0o644))
	require.Eventually(t, func() bool { return rec.seen(tracked) },
		3*time.Second, 10*time.Millisecond)

	// Changes to untracked files in the same directory stay quiet.
	require.NoError(t, os.WriteFile(other, []byte("pro b\nx = 1\nend\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.False(t, rec.seen(other))
}

func TestWatcher_SetFilesSwapsTrackedSet(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pro")
	b := filepath.Join(dir, "b.pro")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o644))

	rec := &recorder{}
	w, err := New(rec.record)
	require.NoError(t, err)
	defer w.Close()

	w.SetFiles([]string{a})
	w.SetFiles([]string{b})

	require.NoError(t, os.WriteFile(b, []byte("b2"), 0o644))
	require.Eventually(t, func() bool { return rec.seen(b) },
		3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(a, []byte("a2"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.False(t, rec.seen(a))
}

func TestWatcher_UnwatchStopsReports(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pro")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))

	rec := &recorder{}
	w, err := New(rec.record)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(a))
	w.Unwatch(a)

	require.NoError(t, os.WriteFile(a, []byte("a2"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.False(t, rec.seen(a))
}
