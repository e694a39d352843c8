package protocol

import "errors"

// Simulation error taxonomy. None of these is fatal to the coordinator; all
// of them degrade to a viewer-visible notice and continued operation for
// unaffected circuits.
var (
	// ErrInvalidCircuit rejects bad injection parameters at the boundary.
	// Packets failing this way never enter the event log.
	ErrInvalidCircuit = errors.New("invalid circuit parameters")

	// ErrLayersExhausted signals a peel on a packet with no remaining
	// layers. In a correctly routed circuit this never happens; seeing it
	// means a coordinator routing bug or out-of-order delivery.
	ErrLayersExhausted = errors.New("no remaining layers to peel")

	// ErrNoRouteAvailable is returned when a packet's target role has no
	// registered agent and the wait bound or queue depth was exceeded.
	ErrNoRouteAvailable = errors.New("no route available for role")

	// ErrAgentDisconnected is surfaced when an agent connection is lost,
	// by explicit close or heartbeat timeout. The role becomes unroutable
	// until an agent re-registers.
	ErrAgentDisconnected = errors.New("agent disconnected")
)

// ErrorCode maps a simulation error to the short code carried in wire-level
// Error notices. Unknown errors map to "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCircuit):
		return "invalid_circuit"
	case errors.Is(err, ErrLayersExhausted):
		return "layers_exhausted"
	case errors.Is(err, ErrNoRouteAvailable):
		return "no_route_available"
	case errors.Is(err, ErrAgentDisconnected):
		return "agent_disconnected"
	default:
		return "internal"
	}
}
