package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	c := NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	select {
	case <-tk.C:
		t.Fatal("ticker fired before the clock moved")
	default:
	}

	c.Advance(3 * time.Minute)
	select {
	case <-tk.C:
	default:
		t.Fatal("expected a tick after advancing past the interval")
	}

	// Capacity 1: the extra ticks crossed in one Advance were dropped.
	select {
	case <-tk.C:
		t.Fatal("expected dropped ticks, got a second one")
	default:
	}
}

func TestFakeStoppedTickerIsSilent(t *testing.T) {
	c := NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	tk := c.NewTicker(time.Minute)
	tk.Stop()

	c.Advance(5 * time.Minute)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}
