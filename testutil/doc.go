/*
Package testutil provides test fixtures for the relaysim packages.

It contains generators for the data most tests need: simulation configs with
test-friendly timings, injected packets, and hop events with controlled
timestamps. Generators take functional options so tests only specify what they
care about:

	cfg := testutil.NewTestSimConfig(testutil.WithJitter(10*time.Millisecond, 30*time.Millisecond))

	pkt := testutil.GenerateTestPacket(testutil.WithDestination("93.184.9.9"))

	events := testutil.GenerateCircuitEvents("C1", epoch, 100*time.Millisecond)
*/
package testutil
