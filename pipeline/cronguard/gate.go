package cronguard

import "time"

// Gate is the per-rule cron-gated firing filter: it is evaluated lazily
// on message arrival, never a timer, so a quiet topic can miss scheduled
// boundaries entirely — that is documented, intended behaviour, not a
// bug to paper over with a ticker goroutine.
type Gate struct {
	sched     Schedule
	lastFire  time.Time // zero value means "never fired"
	firstSeen time.Time // instant of the first ShouldFire call, zero until then
}

func NewGate(sched Schedule) *Gate {
	return &Gate{sched: sched}
}

// ShouldFire implements the single operation the gate exposes. It is not
// safe for concurrent use; the rule engine's single-threaded dispatch
// loop is the only caller.
//
// A gate that has never fired floors on the instant it first observed a
// message, not the epoch, so the first message on a quiet topic waits
// for the next boundary instead of firing immediately.
func (g *Gate) ShouldFire(now time.Time) bool {
	if g.firstSeen.IsZero() {
		g.firstSeen = now
	}
	// Next is inclusive of its floor. Once the gate has fired, the floor
	// must move a second past that fire so the same boundary isn't
	// matched again on the very next call.
	floor := g.firstSeen
	if !g.lastFire.IsZero() {
		floor = g.lastFire.Add(time.Second)
	}
	next, ok := Next(g.sched, floor)
	if !ok {
		return false
	}
	if now.Before(next) {
		return false
	}
	g.lastFire = now
	return true
}

// LastFire reports the last instant this gate fired, the zero Time if it
// never has.
func (g *Gate) LastFire() time.Time {
	return g.lastFire
}
