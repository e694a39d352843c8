// Package relay implements the relay agent: one process holding one circuit
// role (guard, middle or exit).
//
// An agent keeps a persistent channel to the coordinator, registers its role,
// and for every packet it receives peels exactly one layer, sleeps a
// configured jitter interval, emits a hop event restricted to its role's
// visibility, and hands the peeled packet back to the coordinator for the
// next hop. A packet that cannot be peeled is reported upstream as an error
// and dropped, never forwarded.
//
// The visibility projection is enforced here, at event construction, not
// trusted from the coordinator.
package relay
