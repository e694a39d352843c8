// Package protocol defines the data model and wire format for the relaysim
// onion-routing simulation.
//
// # Simulation model
//
// A simulated client injects a Packet wrapped in one opaque layer per relay
// hop. The packet traverses a fixed three-hop circuit (guard, middle, exit);
// each relay peels exactly one layer and observes only the fields its role is
// allowed to see:
//
//  1. Guard: the real client origin and the next hop. Never the destination
//     or content.
//
//  2. Middle: the previous and next hop. Never the origin, destination or
//     content.
//
//  3. Exit: the previous hop, the destination and the content. Never the
//     client origin.
//
// The visibility rule is a closed table over the three roles (see Role and
// ObservedView); it is the confidentiality contract the whole simulation
// depends on and is enforced where hop events are constructed, not trusted
// from callers.
//
// # Wire format
//
// All traffic between agents, the coordinator and viewers is carried in an
// Envelope with a small closed set of message types (RoleRegister,
// PacketForward, HopEvent, CorrelationReport, Heartbeat, Error plus the
// viewer-facing notification types). Payloads are encoded by the connection's
// codec; the envelope itself is codec-agnostic.
//
// Layers are simulated metadata, not ciphertext. Nothing in this package
// provides real cryptographic protection.
package protocol
