package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/onionlab/relaysim/channel"
	"github.com/onionlab/relaysim/protocol"
	"github.com/onionlab/relaysim/testutil"
)

func newTestAgent(t *testing.T, role protocol.Role, sim *protocol.SimConfig, clk clock.Clock) *Agent {
	t.Helper()
	agent, err := New(Config{
		Role:  role,
		Addr:  "10.0.9.9",
		Sim:   sim,
		Clock: clk,
	})
	require.NoError(t, err)
	return agent
}

func TestNewRejectsUnknownRole(t *testing.T) {
	_, err := New(Config{Role: protocol.Role("sniffer")})
	require.Error(t, err)
}

func TestHandleIncomingEnforcesGuardVisibility(t *testing.T) {
	agent := newTestAgent(t, protocol.RoleGuard, testutil.NewTestSimConfig(), clock.New())

	pkt := testutil.GenerateTestPacket(
		testutil.WithSequenceNo(1),
		testutil.WithOrigin("10.3.0.7"),
		testutil.WithDestination("93.184.5.5"),
		testutil.WithContent("hello"),
	)

	event, peeled, err := agent.HandleIncoming(context.Background(), pkt)
	require.NoError(t, err)

	require.Equal(t, protocol.RoleGuard, event.Role)
	require.Equal(t, pkt.CircuitID, event.CircuitID)
	require.Len(t, peeled.RemainingLayers, 2)
	require.Equal(t, 2, event.Observed.LayersRemaining)

	// Confidentiality invariant: a guard event never carries the
	// destination or content.
	require.Empty(t, event.Observed.Destination)
	require.Empty(t, event.Observed.Content)
	require.Equal(t, "10.3.0.7", event.Observed.FromAddr)
	require.False(t, event.Timestamp.After(event.TimestampOut))
}

func TestHandleIncomingRejectsExhaustedPacket(t *testing.T) {
	agent := newTestAgent(t, protocol.RoleExit, testutil.NewTestSimConfig(), clock.New())

	pkt := testutil.GenerateTestPacket(testutil.WithLayerCount(1))
	_, peeled, err := pkt.Peel()
	require.NoError(t, err)

	_, _, err = agent.HandleIncoming(context.Background(), peeled)
	require.ErrorIs(t, err, protocol.ErrLayersExhausted)
}

func TestJitterSeparatesIngressFromEgress(t *testing.T) {
	sim := testutil.NewTestSimConfig(testutil.WithJitter(40*time.Millisecond, 60*time.Millisecond))

	mock := clock.NewMock()
	agent := newTestAgent(t, protocol.RoleMiddle, sim, mock)

	pkt := testutil.GenerateTestPacket()
	pkt = pkt.WithPrevHop("10.0.1.2")
	var err error
	_, pkt, err = pkt.Peel() // middle receives the packet one layer in
	require.NoError(t, err)

	type result struct {
		event protocol.HopEvent
		err   error
	}
	done := make(chan result, 1)
	go func() {
		ev, _, err := agent.HandleIncoming(context.Background(), pkt)
		done <- result{ev, err}
	}()

	// Walk the mock clock past the maximum jitter bound.
	for i := 0; i < 7; i++ {
		time.Sleep(10 * time.Millisecond)
		mock.Add(10 * time.Millisecond)
	}

	res := <-done
	require.NoError(t, res.err)

	delay := res.event.TimestampOut.Sub(res.event.Timestamp)
	require.GreaterOrEqual(t, delay, sim.JitterMin)
	require.LessOrEqual(t, delay, sim.JitterMax)
}

// End-to-end over a real websocket: the agent must answer a PacketForward
// with a hop event followed by the peeled packet, and answer an exhausted
// packet with an error notice.
func TestServeAgainstFakeCoordinator(t *testing.T) {
	agent := newTestAgent(t, protocol.RoleGuard, testutil.NewTestSimConfig(), clock.New())

	coordSide := make(chan *channel.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := channel.Upgrade(w, r, channel.Options{Codec: channel.Msgpack})
		require.NoError(t, err)
		coordSide <- conn
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentConn, err := channel.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), channel.Options{Codec: channel.Msgpack})
	require.NoError(t, err)
	defer agentConn.Close()

	go agent.Serve(ctx, agentConn)
	coord := <-coordSide
	defer coord.Close()

	pkt := testutil.GenerateTestPacket(
		testutil.WithCircuitID("C-serve"),
		testutil.WithOrigin("10.3.0.1"),
		testutil.WithDestination("93.184.1.1"),
		testutil.WithContent("x"),
	)
	require.NoError(t, channel.Send(coord, protocol.MsgPacketForward, &protocol.PacketForward{Packet: pkt}))

	recv := func() *protocol.Envelope {
		select {
		case env, ok := <-coord.Inbox():
			require.True(t, ok, "coordinator side closed: %v", coord.Err())
			return env
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for agent reply")
			return nil
		}
	}

	first := recv()
	require.Equal(t, protocol.MsgHopEvent, first.Type)
	event, err := channel.Open[protocol.HopEvent](channel.Msgpack, first)
	require.NoError(t, err)
	require.Equal(t, "C-serve", event.CircuitID)
	require.Empty(t, event.Observed.Destination)

	second := recv()
	require.Equal(t, protocol.MsgPacketForward, second.Type)
	fwd, err := channel.Open[protocol.PacketForward](channel.Msgpack, second)
	require.NoError(t, err)
	require.Len(t, fwd.Packet.RemainingLayers, 2)

	// An exhausted packet must come back as an error notice, not a forward.
	exhausted := fwd.Packet
	for !exhausted.Delivered() {
		_, exhausted, err = exhausted.Peel()
		require.NoError(t, err)
	}
	require.NoError(t, channel.Send(coord, protocol.MsgPacketForward, &protocol.PacketForward{Packet: exhausted}))

	third := recv()
	require.Equal(t, protocol.MsgError, third.Type)
	notice, err := channel.Open[protocol.ErrorNotice](channel.Msgpack, third)
	require.NoError(t, err)
	require.Equal(t, "layers_exhausted", notice.Code)
}
