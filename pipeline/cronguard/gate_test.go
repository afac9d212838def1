package cronguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateFiresOnceThenWaitsForNextBoundary(t *testing.T) {
	s, err := Parse(`*/5 * * * *`)
	require.NoError(t, err)
	g := NewGate(s)

	t1 := time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC)
	require.True(t, g.ShouldFire(t1))
	require.True(t, g.LastFire().Equal(t1))

	t2 := t1.Add(2 * time.Minute)
	require.False(t, g.ShouldFire(t2))

	t3 := t1.Add(5 * time.Minute)
	require.True(t, g.ShouldFire(t3))
}

func TestGateNeverFiredFloorsOnFirstSeenNotEpoch(t *testing.T) {
	s, err := Parse(`*/5 * * * *`)
	require.NoError(t, err)
	g := NewGate(s)
	require.True(t, g.LastFire().IsZero())

	// A never-fired gate waits for the next boundary from the instant it
	// first saw a message; it does not fire immediately just because the
	// epoch floor would already be overdue.
	first := time.Date(2026, 8, 1, 12, 3, 0, 0, time.UTC)
	require.False(t, g.ShouldFire(first))
	require.True(t, g.LastFire().IsZero())
}

func TestGateMatchesLiteralScheduleScenario(t *testing.T) {
	s, err := Parse(`0 */5 * * * *`)
	require.NoError(t, err)
	g := NewGate(s)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.False(t, g.ShouldFire(base.Add(3*time.Minute)))                // 12:03:00 skip
	require.True(t, g.ShouldFire(base.Add(5*time.Minute)))                 // 12:05:00 fire
	require.False(t, g.ShouldFire(base.Add(5*time.Minute+30*time.Second))) // 12:05:30 skip
	require.True(t, g.ShouldFire(base.Add(10*time.Minute)))                // 12:10:00 fire
}
