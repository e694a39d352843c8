package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onionlab/relaysim/channel"
	"github.com/onionlab/relaysim/protocol"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freeAddr reserves a loopback port for the coordinator to bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func e2eSim() *protocol.SimConfig {
	cfg := protocol.DefaultSimConfig()
	cfg.JitterMin = 5 * time.Millisecond
	cfg.JitterMax = 20 * time.Millisecond
	cfg.QueueWait = 2 * time.Second
	cfg.HopTimeout = 3 * time.Second
	return cfg
}

func deploy(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Log == nil {
		cfg.Log = quietLog()
	}
	orch, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, orch.Deploy())
	t.Cleanup(orch.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, orch.WaitReady(ctx))
	return orch
}

// TestE2E_FullCircuit covers the whole system over real websockets: one
// injected packet traverses guard, middle and exit with jitter enabled, the
// viewer observes the complete lifecycle, and a correlation pass recovers the
// circuit from its own event log.
func TestE2E_FullCircuit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	addr := freeAddr(t)
	orch := deploy(t, Config{ListenAddr: addr, Sim: e2eSim()})
	hub := orch.Hub()

	viewer, err := channel.Dial(context.Background(), fmt.Sprintf("ws://%s/ws/viewer", addr), channel.Options{Codec: channel.JSON})
	require.NoError(t, err)
	defer viewer.Close()
	require.Eventually(t, func() bool {
		return hub.CurrentStatus().Viewers == 1
	}, 3*time.Second, 10*time.Millisecond)

	circuitID, err := hub.Inject(protocol.InjectRequest{
		Origin:      "10.3.0.7",
		Destination: "93.184.5.5",
		Content:     "GET /page",
	})
	require.NoError(t, err)

	waitForDone(t, viewer, circuitID)

	events := hub.Events().Circuit(circuitID)
	require.Len(t, events, 3)
	for i, role := range protocol.CircuitRoles {
		ev := events[i]
		require.Equal(t, role, ev.Role)
		require.False(t, ev.Timestamp.After(ev.TimestampOut), "hop ingress after egress")
		if i > 0 {
			require.False(t, ev.Timestamp.Before(events[i-1].TimestampOut),
				"hop %d started before hop %d finished", i, i-1)
		}
	}

	// Visibility: the destination and content surface at the exit only.
	require.Empty(t, events[0].Observed.Destination)
	require.Empty(t, events[1].Observed.Destination)
	require.Equal(t, "93.184.5.5", events[2].Observed.Destination)
	require.Equal(t, "GET /page", events[2].Observed.Content)

	// The adversary recovers the circuit from its guard/exit timing alone.
	report := hub.RunCorrelation(context.Background())
	require.NotEmpty(t, report.Pairs)
	require.True(t, report.Pairs[0].Matched())
}

// TestE2E_AutoInjector verifies the background traffic generator keeps the
// simulation busy without external input.
func TestE2E_AutoInjector(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	orch := deploy(t, Config{
		ListenAddr:  freeAddr(t),
		Sim:         e2eSim(),
		InjectEvery: 50 * time.Millisecond,
	})

	// Two complete circuits' worth of hop events.
	require.Eventually(t, func() bool {
		return orch.Hub().Events().Len() >= 6
	}, 10*time.Second, 50*time.Millisecond)
}

func waitForDone(t *testing.T, viewer *channel.Conn, circuitID string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case env, ok := <-viewer.Inbox():
			require.True(t, ok, "viewer closed early: %v", viewer.Err())
			if env.Type != protocol.MsgCircuitDone {
				continue
			}
			done, err := channel.Open[protocol.CircuitDone](channel.JSON, env)
			require.NoError(t, err)
			if done.CircuitID == circuitID {
				return
			}
		case <-deadline:
			t.Fatal("circuit never completed")
		}
	}
}
