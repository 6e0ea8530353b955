package clock

import (
	"sync"
	"time"
)

// Fake is a Clock whose time moves only through Set and Advance.
// Tickers fire during Advance for every deadline crossed.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	ch       chan time.Time
	next     time.Time
	interval time.Duration
	stopped  bool
}

func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Set moves the clock to t. Moving backwards is allowed and fires nothing.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveLocked(t.UTC())
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveLocked(f.current.Add(d))
}

func (f *Fake) moveLocked(t time.Time) {
	f.current = t
	live := f.tickers[:0]
	for _, tk := range f.tickers {
		if tk.stopped {
			continue
		}
		for !tk.next.After(t) {
			select {
			case tk.ch <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.interval)
		}
		live = append(live, tk)
	}
	f.tickers = live
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tk := &fakeTicker{
		ch:       make(chan time.Time, 1),
		next:     f.current.Add(d),
		interval: d,
	}
	f.tickers = append(f.tickers, tk)
	return &Ticker{
		C: tk.ch,
		stopFunc: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			tk.stopped = true
		},
	}
}
