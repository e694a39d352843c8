// Package correlation implements the timing-correlation attack of a global
// passive adversary: an observer that sees packet timing at both the guard
// and the exit simultaneously.
//
// The engine pairs guard-egress and exit-ingress hop events whose time delta
// falls inside a configured transit window and scores each pair by how close
// its delta sits to the modal delta of the window's candidate population.
// Consistent low-jitter circuits cluster around the mode and score high;
// injected jitter widens the delta distribution and suppresses confidence.
//
// The output is a heuristic guess, deliberately not guaranteed correct: its
// accuracy degrading under jitter is the pedagogical point of the exercise.
package correlation
