package protocol

import "time"

// Redacted is the placeholder recorded for any field outside a role's
// visibility set.
const Redacted = "???"

// ObservedFields is the role-restricted projection of a packet recorded in a
// hop event. Construction goes through ObservedView only; the zero value of
// Destination/Content means "not visible to this role", never "empty".
type ObservedFields struct {
	FromAddr  string `json:"from_addr" msgpack:"from_addr"`
	ToAddr    string `json:"to_addr" msgpack:"to_addr"`
	FromKnown bool   `json:"from_known" msgpack:"from_known"`
	ToKnown   bool   `json:"to_known" msgpack:"to_known"`

	// Destination and Content are populated for the exit role only.
	Destination string `json:"destination,omitempty" msgpack:"destination,omitempty"`
	Content     string `json:"content,omitempty" msgpack:"content,omitempty"`

	LayersRemaining int `json:"layers_remaining" msgpack:"layers_remaining"`
	SizeBytes       int `json:"size_bytes" msgpack:"size_bytes"`
}

// HopEvent records one role's processing of one packet. It carries only the
// role's permitted visibility and is appended to the coordinator's event log
// in arrival order.
type HopEvent struct {
	CircuitID  string         `json:"circuit_id" msgpack:"circuit_id"`
	Role       Role           `json:"role" msgpack:"role"`
	RelayAddr  string         `json:"relay_addr" msgpack:"relay_addr"`
	SequenceNo uint64         `json:"sequence_no" msgpack:"sequence_no"`
	Observed   ObservedFields `json:"observed" msgpack:"observed"`

	// Timestamp is packet ingress at the relay, TimestampOut its egress.
	// They differ by the relay's simulated processing delay (jitter).
	Timestamp    time.Time `json:"timestamp" msgpack:"timestamp"`
	TimestampOut time.Time `json:"timestamp_out" msgpack:"timestamp_out"`
}

// ObservedView builds the projection of peeled for the given role. This is
// the single point where packet fields cross into observable state: callers
// get exactly the allow-listed fields and Redacted placeholders for the rest,
// regardless of what the packet contains.
//
// peeled must already have had its current layer removed, so LayersRemaining
// reflects the state the relay forwards.
func ObservedView(role Role, peeled Packet) ObservedFields {
	vis := role.Visibility()

	obs := ObservedFields{
		FromAddr:        Redacted,
		ToAddr:          Redacted,
		LayersRemaining: len(peeled.RemainingLayers),
		SizeBytes:       peeled.Payload.SizeBytes,
	}

	switch {
	case vis.SeesOrigin:
		obs.FromAddr = peeled.Payload.Origin
		obs.FromKnown = true
	case vis.SeesPrevHop:
		obs.FromAddr = peeled.PrevHop
		obs.FromKnown = true
	}

	switch {
	case vis.SeesDestination:
		obs.ToAddr = peeled.Payload.Destination
		obs.ToKnown = true
	case vis.SeesNextHop:
		obs.ToAddr = role.NextHopLabel()
		obs.ToKnown = true
	}

	if vis.SeesDestination {
		obs.Destination = peeled.Payload.Destination
	}
	if vis.SeesContent {
		obs.Content = peeled.Payload.Content
	}

	return obs
}
