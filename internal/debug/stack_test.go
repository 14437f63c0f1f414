package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replbridge/internal/scrape"
)

func depth3() []scrape.Frame {
	return []scrape.Frame{
		{File: "/tmp/inner.pro", Line: 5, Routine: "INNER"},
		{File: "/tmp/mid.pro", Line: 12, Routine: "MID"},
		{File: "/tmp/outer.pro", Line: 30, Routine: "OUTER"},
	}
}

func TestStack_EmptyNavigationFails(t *testing.T) {
	s := NewStackTracker()

	_, _, err := s.Up()
	assert.ErrorIs(t, err, ErrEmptyStack)
	_, _, err = s.Down()
	assert.ErrorIs(t, err, ErrEmptyStack)
	_, err = s.Current()
	assert.ErrorIs(t, err, ErrEmptyStack)
}

func TestStack_UpDownClamping(t *testing.T) {
	s := NewStackTracker()
	s.SetFrames(depth3())

	f, clamped, err := s.Up()
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.Equal(t, "MID", f.Routine)

	f, clamped, err = s.Up()
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.Equal(t, "OUTER", f.Routine)

	// At the outermost frame: stays put and reports the clamp.
	f, clamped, err = s.Up()
	require.NoError(t, err)
	assert.True(t, clamped)
	assert.Equal(t, 2, s.Index())
	assert.Equal(t, "OUTER", f.Routine)

	s.ResetIndex()
	f, clamped, err = s.Down()
	require.NoError(t, err)
	assert.True(t, clamped)
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, "INNER", f.Routine)
}

func TestStack_SetFramesClampsIndex(t *testing.T) {
	s := NewStackTracker()
	s.SetFrames(depth3())
	s.index = 2

	s.SetFrames(depth3()[:1])
	assert.Equal(t, 0, s.Index())

	s.SetFrames(nil)
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, 0, s.Depth())
}

func TestStack_Reset(t *testing.T) {
	s := NewStackTracker()
	s.SetFrames(depth3())
	s.index = 1

	s.Reset()
	assert.Equal(t, 0, s.Depth())
	assert.Equal(t, 0, s.Index())
}
