package utils

import (
	"fmt"
	"strings"
	"time"
)

// WallClockTimer records wall clock time spent in named phases of a run
type WallClockTimer struct {
	start  time.Time
	last   time.Time
	phases []Phase
	now    func() time.Time
}

// Phase is one completed lap of a WallClockTimer
type Phase struct {
	Name    string
	Elapsed time.Duration
}

// NewWallClockTimer returns a timer that starts counting immediately
func NewWallClockTimer() *WallClockTimer {
	t := &WallClockTimer{now: time.Now}
	t.Start()
	return t
}

// Start resets the timer and forgets recorded phases
func (t *WallClockTimer) Start() {
	if t.now == nil {
		t.now = time.Now
	}
	t.start = t.now()
	t.last = t.start
	t.phases = t.phases[:0]
}

// Elapsed returns the time since Start
func (t *WallClockTimer) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// Lap closes the current phase under name and returns its duration
func (t *WallClockTimer) Lap(name string) time.Duration {
	now := t.now()
	d := now.Sub(t.last)
	t.last = now
	t.phases = append(t.phases, Phase{Name: name, Elapsed: d})
	return d
}

// Phases returns the completed phases in order
func (t *WallClockTimer) Phases() []Phase {
	out := make([]Phase, len(t.phases))
	copy(out, t.phases)
	return out
}

// String formats the recorded phases one per line
func (t *WallClockTimer) String() string {
	var sb strings.Builder
	for _, p := range t.phases {
		sb.WriteString(fmt.Sprintf("  %-12s %v\n", p.Name, p.Elapsed))
	}
	sb.WriteString(fmt.Sprintf("  %-12s %v\n", "total", t.last.Sub(t.start)))
	return sb.String()
}
