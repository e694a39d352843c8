package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onionlab/relaysim/protocol"
)

func TestEventLogAppendAndSnapshot(t *testing.T) {
	log := NewEventLog()
	require.Zero(t, log.Len())

	log.Append(protocol.HopEvent{CircuitID: "C1", Role: protocol.RoleGuard})
	log.Append(protocol.HopEvent{CircuitID: "C2", Role: protocol.RoleGuard})
	log.Append(protocol.HopEvent{CircuitID: "C1", Role: protocol.RoleMiddle})

	snap := log.Snapshot()
	require.Len(t, snap, 3)

	// Snapshots are copies: growing one must not affect the log.
	snap = append(snap, protocol.HopEvent{CircuitID: "C9"})
	_ = snap
	require.Equal(t, 3, log.Len())
}

func TestEventLogCircuitFilter(t *testing.T) {
	log := NewEventLog()
	log.Append(protocol.HopEvent{CircuitID: "C1", Role: protocol.RoleGuard})
	log.Append(protocol.HopEvent{CircuitID: "C2", Role: protocol.RoleGuard})
	log.Append(protocol.HopEvent{CircuitID: "C1", Role: protocol.RoleExit})

	c1 := log.Circuit("C1")
	require.Len(t, c1, 2)
	require.Equal(t, protocol.RoleGuard, c1[0].Role)
	require.Equal(t, protocol.RoleExit, c1[1].Role)

	require.Empty(t, log.Circuit("C3"))
}

func TestEventLogRecent(t *testing.T) {
	log := NewEventLog()
	for i := 0; i < 5; i++ {
		log.Append(protocol.HopEvent{SequenceNo: uint64(i)})
	}

	recent := log.Recent(2)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(3), recent[0].SequenceNo)
	require.Equal(t, uint64(4), recent[1].SequenceNo)

	// Asking for more than exists returns everything.
	require.Len(t, log.Recent(100), 5)
}
