package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onionlab/relaysim/protocol"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func guardEvent(circuit string, egress time.Duration) protocol.HopEvent {
	return protocol.HopEvent{
		CircuitID:    circuit,
		Role:         protocol.RoleGuard,
		Timestamp:    epoch.Add(egress - 10*time.Millisecond),
		TimestampOut: epoch.Add(egress),
	}
}

func exitEvent(circuit string, ingress time.Duration) protocol.HopEvent {
	return protocol.HopEvent{
		CircuitID:    circuit,
		Role:         protocol.RoleExit,
		Timestamp:    epoch.Add(ingress),
		TimestampOut: epoch.Add(ingress),
	}
}

func TestEmptyLogYieldsEmptyReport(t *testing.T) {
	engine := NewEngine(5 * time.Second)

	report := engine.Analyze(nil)
	require.NotNil(t, report)
	require.Empty(t, report.Candidates)
	require.Empty(t, report.Pairs)

	// Guard-only traffic is equally valid input.
	report = engine.Analyze([]protocol.HopEvent{guardEvent("C1", 0)})
	require.Empty(t, report.Candidates)
}

// A guard at t=0 pairs with an exit at t=2 under a 5s window, yielding one
// candidate with delta 2; a second exit at t=50 falls outside the window.
func TestWindowExcludesImplausibleTransits(t *testing.T) {
	engine := NewEngine(5 * time.Second)

	report := engine.Analyze([]protocol.HopEvent{
		guardEvent("C1", 0),
		exitEvent("C1", 2*time.Second),
		exitEvent("C2", 50*time.Second),
	})

	require.Len(t, report.Candidates, 1)
	require.Equal(t, 2*time.Second, report.Candidates[0].DeltaT)
	require.Len(t, report.Pairs, 1)
	require.Equal(t, "C1", report.Pairs[0].Exit.CircuitID)
	require.True(t, report.Pairs[0].Matched())
}

func TestNegativeDeltaIsNeverACandidate(t *testing.T) {
	engine := NewEngine(5 * time.Second)

	report := engine.Analyze([]protocol.HopEvent{
		guardEvent("C1", 3*time.Second),
		exitEvent("C1", 1*time.Second),
	})
	require.Empty(t, report.Candidates)
}

func TestConfidenceMonotoneInDistanceFromMode(t *testing.T) {
	engine := NewEngine(10 * time.Second)

	// A tight cluster at ~1s establishes the mode; stragglers trail off.
	events := []protocol.HopEvent{
		guardEvent("C1", 0), exitEvent("C1", 1000*time.Millisecond),
		guardEvent("C2", 0), exitEvent("C2", 1050*time.Millisecond),
		guardEvent("C3", 0), exitEvent("C3", 1100*time.Millisecond),
		guardEvent("C4", 0), exitEvent("C4", 4*time.Second),
		guardEvent("C5", 0), exitEvent("C5", 8*time.Second),
	}

	report := engine.Analyze(events)
	require.NotEmpty(t, report.Candidates)

	dist := func(c Candidate) time.Duration {
		d := c.DeltaT - report.ModalDelta
		if d < 0 {
			return -d
		}
		return d
	}

	for _, a := range report.Candidates {
		for _, b := range report.Candidates {
			if dist(a) <= dist(b) {
				require.GreaterOrEqual(t, a.Confidence, b.Confidence,
					"confidence must be non-increasing in |delta - modal|")
			}
		}
	}
}

func TestBestPairPrefersSmallestDeltaThenEarliestExit(t *testing.T) {
	engine := NewEngine(10 * time.Second)

	report := engine.Analyze([]protocol.HopEvent{
		guardEvent("C1", 0),
		exitEvent("X-late", 3*time.Second),
		exitEvent("X-close", 1*time.Second),
		exitEvent("X-tied", 1*time.Second),
	})

	require.Len(t, report.Candidates, 3)
	require.Len(t, report.Pairs, 1)
	require.Equal(t, 1*time.Second, report.Pairs[0].DeltaT)

	// Both 1s exits tie on delta; identical timestamps make either exit an
	// acceptable deterministic winner, but the pick must be one of them.
	got := report.Pairs[0].Exit.CircuitID
	require.Contains(t, []string{"X-close", "X-tied"}, got)
}

func TestJitterSuppressesAccuracy(t *testing.T) {
	engine := NewEngine(2 * time.Second)

	// Low jitter: three circuits with near-identical transit times pair up
	// correctly and confidently.
	tight := engine.Analyze([]protocol.HopEvent{
		guardEvent("A", 0), exitEvent("A", 200*time.Millisecond),
		guardEvent("B", 500*time.Millisecond), exitEvent("B", 710*time.Millisecond),
		guardEvent("C", 1000*time.Millisecond), exitEvent("C", 1205*time.Millisecond),
	})

	matchedTight := 0
	for _, p := range tight.Pairs {
		if p.Matched() {
			matchedTight++
		}
	}
	require.Equal(t, 3, matchedTight)

	// Heavy jitter: overlapping windows create cross-circuit guesses.
	noisy := engine.Analyze([]protocol.HopEvent{
		guardEvent("A", 0), exitEvent("A", 1900*time.Millisecond),
		guardEvent("B", 100*time.Millisecond), exitEvent("B", 300*time.Millisecond),
		guardEvent("C", 200*time.Millisecond), exitEvent("C", 1500*time.Millisecond),
	})

	matchedNoisy := 0
	for _, p := range noisy.Pairs {
		if p.Matched() {
			matchedNoisy++
		}
	}
	require.Less(t, matchedNoisy, 3, "jittered traffic must degrade accuracy")
}

func TestRankingIsByConfidence(t *testing.T) {
	engine := NewEngine(10 * time.Second)

	report := engine.Analyze([]protocol.HopEvent{
		guardEvent("C1", 0), exitEvent("C1", 1*time.Second),
		guardEvent("C2", 0), exitEvent("C2", 1*time.Second),
		guardEvent("C3", 0), exitEvent("C3", 9*time.Second),
	})

	for i := 1; i < len(report.Pairs); i++ {
		require.LessOrEqual(t, report.Pairs[i].Confidence, report.Pairs[i-1].Confidence)
	}
}
