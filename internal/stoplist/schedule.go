package stoplist

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

const DefaultIntervalMin = 30

// Window: суточное окно [Start, End] в минутах от полуночи, границы включаются.
// Start > End означает окно через полночь (22:00–06:00).
type Window struct {
	Start int
	End   int
}

func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	m := 0
	if len(parts) == 2 {
		m, err = strconv.Atoi(parts[1])
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid time %q", v)
		}
	}
	return h*60 + m, nil
}

func (w Window) Contains(t time.Time) bool {
	minutes := t.Hour()*60 + t.Minute()
	if w.Start <= w.End {
		return w.Start <= minutes && minutes <= w.End
	}
	return minutes >= w.Start || minutes <= w.End
}

// Policy решает, пора ли обновлять стоп-лист терминала.
type Policy struct {
	Global          *Window
	DefaultInterval time.Duration
	Location        *time.Location
}

func (p Policy) local(now time.Time) time.Time {
	if p.Location != nil {
		return now.In(p.Location)
	}
	return now
}

// GlobalAllowed: вне глобального окна запросы в iiko не отправляются вообще.
func (p Policy) GlobalAllowed(now time.Time) bool {
	return p.Global == nil || p.Global.Contains(p.local(now))
}

// WorkingTime проверяет часы терминала; без своих часов (или с битыми) действует глобальное окно.
func (p Policy) WorkingTime(t organization.Terminal, now time.Time) bool {
	if t.WorkingHours != nil {
		if w, err := ParseWindow(t.WorkingHours.Start, t.WorkingHours.End); err == nil {
			return w.Contains(p.local(now))
		}
	}
	return p.GlobalAllowed(now)
}

func (p Policy) interval(t organization.Terminal) time.Duration {
	if t.StopListIntervalMin != nil && *t.StopListIntervalMin > 0 {
		return time.Duration(*t.StopListIntervalMin) * time.Minute
	}
	if p.DefaultInterval > 0 {
		return p.DefaultInterval
	}
	return DefaultIntervalMin * time.Minute
}

func (p Policy) Due(t organization.Terminal, now time.Time) bool {
	if !t.IsActive || !p.WorkingTime(t, now) {
		return false
	}
	if t.StopListSyncedAt == nil {
		return true
	}
	return now.Sub(*t.StopListSyncedAt) >= p.interval(t)
}
