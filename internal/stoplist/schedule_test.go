package stoplist_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
	"github.com/vasiliy-maslov/food-delivery/internal/stoplist"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 14, hh, mm, 0, 0, time.UTC)
}

func TestWindow_Contains(t *testing.T) {
	testCases := []struct {
		name       string
		start, end string
		now        time.Time
		want       bool
	}{
		{name: "inside day window", start: "08:00", end: "23:59", now: at(12, 0), want: true},
		{name: "start is inclusive", start: "08:00", end: "23:59", now: at(8, 0), want: true},
		{name: "end is inclusive", start: "08:00", end: "23:59", now: at(23, 59), want: true},
		{name: "before day window", start: "08:00", end: "23:59", now: at(7, 59), want: false},
		{name: "overnight late evening", start: "22:00", end: "06:00", now: at(23, 30), want: true},
		{name: "overnight early morning", start: "22:00", end: "06:00", now: at(5, 0), want: true},
		{name: "overnight daytime", start: "22:00", end: "06:00", now: at(12, 0), want: false},
		{name: "hour only", start: "9", end: "18", now: at(18, 0), want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := stoplist.ParseWindow(tc.start, tc.end)
			require.NoError(t, err)
			assert.Equal(t, tc.want, w.Contains(tc.now))
		})
	}
}

func TestParseWindow_Invalid(t *testing.T) {
	for _, v := range []string{"", "25:00", "10:61", "ab:cd"} {
		_, err := stoplist.ParseWindow(v, "12:00")
		assert.Error(t, err, "input %q", v)
	}
}

func TestPolicy_Due(t *testing.T) {
	global, err := stoplist.ParseWindow("08:00", "23:59")
	require.NoError(t, err)
	policy := stoplist.Policy{Global: &global, DefaultInterval: 30 * time.Minute, Location: time.UTC}

	now := at(12, 0)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-45 * time.Minute)
	five := 5

	testCases := []struct {
		name     string
		terminal organization.Terminal
		now      time.Time
		want     bool
	}{
		{name: "never synced", terminal: organization.Terminal{IsActive: true}, now: now, want: true},
		{name: "inactive", terminal: organization.Terminal{IsActive: false}, now: now, want: false},
		{name: "synced recently", terminal: organization.Terminal{IsActive: true, StopListSyncedAt: &recent}, now: now, want: false},
		{name: "interval elapsed", terminal: organization.Terminal{IsActive: true, StopListSyncedAt: &old}, now: now, want: true},
		{
			name:     "own short interval",
			terminal: organization.Terminal{IsActive: true, StopListSyncedAt: &recent, StopListIntervalMin: &five},
			now:      now,
			want:     true,
		},
		{
			name:     "outside terminal hours",
			terminal: organization.Terminal{IsActive: true, WorkingHours: &organization.WorkingHours{Start: "14:00", End: "22:00"}},
			now:      now,
			want:     false,
		},
		{
			name:     "overnight terminal at night",
			terminal: organization.Terminal{IsActive: true, WorkingHours: &organization.WorkingHours{Start: "20:00", End: "04:00"}},
			now:      at(2, 0),
			want:     true,
		},
		{
			name:     "no own hours falls back to global window",
			terminal: organization.Terminal{IsActive: true},
			now:      at(3, 0),
			want:     false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.Due(tc.terminal, tc.now))
		})
	}
}

func TestPolicy_UsesLocation(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*60*60)
	global, err := stoplist.ParseWindow("08:00", "23:59")
	require.NoError(t, err)

	policy := stoplist.Policy{Global: &global, Location: almaty}

	// 04:00 UTC это 09:00 по местному времени.
	assert.True(t, policy.GlobalAllowed(at(4, 0)))
	// 20:00 UTC уже 01:00 следующего дня.
	assert.False(t, policy.GlobalAllowed(at(20, 0)))
}
