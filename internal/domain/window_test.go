package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func hw(h1, h2 int) TimeWindow {
	return TimeWindow{Start: base.Add(time.Duration(h1) * time.Hour), End: base.Add(time.Duration(h2) * time.Hour)}
}

func TestNewWindow(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	w, err := NewWindow(time.Date(2026, 3, 2, 15, 0, 0, 0, loc), time.Date(2026, 3, 2, 16, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, w.Start.Location())
	assert.Equal(t, hw(10, 11), w)

	_, err = NewWindow(base, base)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestOverlaps_HalfOpen(t *testing.T) {
	assert.True(t, hw(10, 12).Overlaps(hw(11, 13)))
	assert.True(t, hw(10, 12).Overlaps(hw(9, 14)))
	assert.False(t, hw(10, 12).Overlaps(hw(12, 13)))
	assert.False(t, hw(12, 13).Overlaps(hw(10, 12)))
}

func TestContainsAndIncludes(t *testing.T) {
	assert.True(t, hw(10, 14).Contains(hw(11, 13)))
	assert.True(t, hw(10, 14).Contains(hw(10, 14)))
	assert.False(t, hw(10, 14).Contains(hw(13, 15)))

	assert.True(t, hw(10, 12).Includes(base.Add(10*time.Hour)))
	assert.False(t, hw(10, 12).Includes(base.Add(12*time.Hour)))
}

func TestFrom(t *testing.T) {
	rest, ok := hw(10, 12).From(base.Add(10*time.Hour + 30*time.Minute))
	require.True(t, ok)
	assert.Equal(t, base.Add(10*time.Hour+30*time.Minute), rest.Start)

	rest, ok = hw(10, 12).From(base)
	require.True(t, ok)
	assert.Equal(t, hw(10, 12), rest)

	_, ok = hw(10, 12).From(base.Add(12 * time.Hour))
	assert.False(t, ok)
}

func TestHours(t *testing.T) {
	assert.Equal(t, "1.5", HoursOf(90*time.Minute).String())
	assert.Equal(t, "2", hw(10, 12).Hours().String())
}
