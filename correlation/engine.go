package correlation

import (
	"sort"
	"time"

	"github.com/onionlab/relaysim/protocol"
)

// Candidate pairs one guard event with one exit event that falls inside the
// transit window. Candidates are derived per analysis pass and replaced, never
// mutated.
type Candidate struct {
	Guard protocol.HopEvent `json:"guard" msgpack:"guard"`
	Exit  protocol.HopEvent `json:"exit" msgpack:"exit"`

	// DeltaT is exit ingress time minus guard egress time.
	DeltaT time.Duration `json:"delta_t" msgpack:"delta_t"`

	// Confidence is in (0, 1]; higher means the pair's delta sits closer
	// to the modal delta of the current window.
	Confidence float64 `json:"confidence" msgpack:"confidence"`
}

// Matched reports whether the adversary's guess is actually correct. The
// simulation knows ground truth because circuit ids are visible in both
// events; a real adversary would not.
func (c Candidate) Matched() bool {
	return c.Guard.CircuitID == c.Exit.CircuitID
}

// Report is the result of one correlation pass. An empty report is a valid,
// expected outcome under strong jitter or sparse traffic.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at" msgpack:"generated_at"`
	MaxWindow   time.Duration `json:"max_window" msgpack:"max_window"`
	ModalDelta  time.Duration `json:"modal_delta" msgpack:"modal_delta"`

	// Candidates holds every in-window pair, ranked by confidence.
	Candidates []Candidate `json:"candidates" msgpack:"candidates"`

	// Pairs holds the adversary's best guess per guard event (smallest
	// delta, ties by earliest exit), ranked by confidence.
	Pairs []Candidate `json:"pairs" msgpack:"pairs"`
}

// Engine computes correlation reports over hop-event snapshots. It only reads
// its input and is safe to run concurrently with ongoing routing.
type Engine struct {
	maxWindow time.Duration
	binWidth  time.Duration
}

// histogramBins controls the delta histogram resolution used to locate the
// modal delta.
const histogramBins = 20

// NewEngine creates an engine with the given transit-time upper bound.
func NewEngine(maxWindow time.Duration) *Engine {
	bin := maxWindow / histogramBins
	if bin < time.Millisecond {
		bin = time.Millisecond
	}
	return &Engine{maxWindow: maxWindow, binWidth: bin}
}

// Analyze consumes an event-log snapshot, restricted internally to the
// adversary's view: guard egress timestamps and exit ingress timestamps.
func (e *Engine) Analyze(events []protocol.HopEvent) *Report {
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		MaxWindow:   e.maxWindow,
		Candidates:  []Candidate{},
		Pairs:       []Candidate{},
	}

	var guards, exits []protocol.HopEvent
	for _, ev := range events {
		switch ev.Role {
		case protocol.RoleGuard:
			guards = append(guards, ev)
		case protocol.RoleExit:
			exits = append(exits, ev)
		}
	}
	if len(guards) == 0 || len(exits) == 0 {
		return report
	}

	for _, g := range guards {
		for _, x := range exits {
			delta := x.Timestamp.Sub(g.TimestampOut)
			if delta < 0 || delta > e.maxWindow {
				continue
			}
			report.Candidates = append(report.Candidates, Candidate{Guard: g, Exit: x, DeltaT: delta})
		}
	}
	if len(report.Candidates) == 0 {
		return report
	}

	report.ModalDelta = e.modalDelta(report.Candidates)
	for i := range report.Candidates {
		report.Candidates[i].Confidence = e.confidence(report.Candidates[i].DeltaT, report.ModalDelta)
	}

	report.Pairs = bestPerGuard(report.Candidates)

	rank(report.Candidates)
	rank(report.Pairs)
	return report
}

// modalDelta buckets candidate deltas into fixed-width bins and returns the
// center of the most populated one. Ties resolve to the smaller delta so the
// result is deterministic.
func (e *Engine) modalDelta(candidates []Candidate) time.Duration {
	counts := make(map[int64]int)
	for _, c := range candidates {
		counts[int64(c.DeltaT/e.binWidth)]++
	}

	var modalBin int64
	best := -1
	bins := make([]int64, 0, len(counts))
	for bin := range counts {
		bins = append(bins, bin)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i] < bins[j] })
	for _, bin := range bins {
		if counts[bin] > best {
			best = counts[bin]
			modalBin = bin
		}
	}

	return time.Duration(modalBin)*e.binWidth + e.binWidth/2
}

// confidence decreases monotonically in the distance between a candidate's
// delta and the modal delta, scaled by one histogram bin.
func (e *Engine) confidence(delta, modal time.Duration) float64 {
	dist := delta - modal
	if dist < 0 {
		dist = -dist
	}
	return 1.0 / (1.0 + float64(dist)/float64(e.binWidth))
}

// bestPerGuard reduces candidates to one guess per guard event: smallest
// delta wins, ties broken by earliest exit timestamp.
func bestPerGuard(candidates []Candidate) []Candidate {
	type guardKey struct {
		circuit string
		seq     uint64
	}
	best := make(map[guardKey]Candidate)
	order := []guardKey{}

	for _, c := range candidates {
		key := guardKey{c.Guard.CircuitID, c.Guard.SequenceNo}
		cur, seen := best[key]
		if !seen {
			best[key] = c
			order = append(order, key)
			continue
		}
		if c.DeltaT < cur.DeltaT ||
			(c.DeltaT == cur.DeltaT && c.Exit.Timestamp.Before(cur.Exit.Timestamp)) {
			best[key] = c
		}
	}

	pairs := make([]Candidate, 0, len(order))
	for _, key := range order {
		pairs = append(pairs, best[key])
	}
	return pairs
}

// rank orders candidates by descending confidence, with deterministic
// tie-breaks on smaller delta and earlier exit time.
func rank(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		if cs[i].DeltaT != cs[j].DeltaT {
			return cs[i].DeltaT < cs[j].DeltaT
		}
		return cs[i].Exit.Timestamp.Before(cs[j].Exit.Timestamp)
	})
}
