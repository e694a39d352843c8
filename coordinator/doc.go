// Package coordinator implements the relay hub at the center of the
// simulation.
//
// The hub accepts websocket connections from relay agents (one per role,
// newest registration wins) and from any number of viewers. Injected packets
// are walked through the circuit guard → middle → exit, one in-flight hop at
// a time per circuit; packets on different circuits route concurrently. Every
// hop event an agent reports is appended to a single append-only event log
// and immediately fanned out to all viewers. The hub's record path is the
// log's only writer.
//
// A scheduled task recomputes the timing-correlation report over a log
// snapshot on a fixed interval and on viewer request, broadcasts it, and
// optionally asks the analysis narrator for presentation text.
//
// No failure in this package is fatal to the coordinator process: routing
// errors, queue overflows and agent disconnects degrade to viewer-visible
// notices while unaffected circuits continue.
package coordinator
