package watch

import (
	"strings"
	"time"
)

// Ticker advances one frame per scheduler.tick event; a frozen frame means
// the dispatcher has stopped ticking.
type Ticker struct {
	frames   []string
	index    int
	lastTick time.Time
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"◐", "◓", "◑", "◒"}}
}

func (t *Ticker) Tick(at time.Time) {
	t.index = (t.index + 1) % len(t.frames)
	t.lastTick = at
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Stale reports whether no tick arrived within d of now.
func (t Ticker) Stale(now time.Time, d time.Duration) bool {
	return t.lastTick.IsZero() || now.Sub(t.lastTick) > d
}

// Spinner lights up on task events and fades over ten seconds.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(at time.Time) {
	s.dots = 5
	s.lastEvent = at
}

// Decay drops one dot per two seconds of quiet.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	left := 5 - int(now.Sub(s.lastEvent)/(2*time.Second))
	if left < 0 {
		left = 0
	}
	if left < s.dots {
		s.dots = left
	}
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < s.dots {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
