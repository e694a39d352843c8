package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testPayload() Payload {
	return Payload{
		Origin:      "10.3.0.42",
		Destination: "93.184.216.34",
		Content:     "GET /index.html",
		SizeBytes:   1280,
	}
}

func TestInjectRejectsBadParameters(t *testing.T) {
	_, err := Inject("", 0, testPayload(), 3)
	require.ErrorIs(t, err, ErrInvalidCircuit)

	_, err = Inject(NewCircuitID(), 0, testPayload(), 0)
	require.ErrorIs(t, err, ErrInvalidCircuit)

	_, err = Inject(NewCircuitID(), 0, testPayload(), -2)
	require.ErrorIs(t, err, ErrInvalidCircuit)
}

func TestPeelConsumesExactlyCircuitLengthLayers(t *testing.T) {
	const circuitLength = 3

	pkt, err := Inject(NewCircuitID(), 1, testPayload(), circuitLength)
	require.NoError(t, err)
	require.Len(t, pkt.RemainingLayers, circuitLength)
	require.Equal(t, 0, pkt.CurrentHop(circuitLength))

	seen := map[LayerToken]bool{}
	for hop := 0; hop < circuitLength; hop++ {
		layer, next, err := pkt.Peel()
		require.NoError(t, err)
		require.NotEmpty(t, layer)
		require.False(t, seen[layer], "layer token revealed twice")
		seen[layer] = true

		// Invariant: remaining layers + hops traversed == circuit length.
		require.Equal(t, circuitLength, len(next.RemainingLayers)+hop+1)
		require.Equal(t, hop+1, next.CurrentHop(circuitLength))
		pkt = next
	}

	require.True(t, pkt.Delivered())
	_, _, err = pkt.Peel()
	require.ErrorIs(t, err, ErrLayersExhausted)
}

func TestPeelDoesNotMutateOriginal(t *testing.T) {
	pkt, err := Inject(NewCircuitID(), 7, testPayload(), 3)
	require.NoError(t, err)

	_, peeled, err := pkt.Peel()
	require.NoError(t, err)

	require.Len(t, pkt.RemainingLayers, 3, "original packet must be untouched")
	require.Len(t, peeled.RemainingLayers, 2)
	require.Equal(t, pkt.RemainingLayers[1:], peeled.RemainingLayers)

	// Mutating the peeled copy's layers must not leak into the original.
	peeled.RemainingLayers[0] = "tampered"
	require.NotEqual(t, LayerToken("tampered"), pkt.RemainingLayers[1])
}

func TestWithPrevHopCopies(t *testing.T) {
	pkt, err := Inject(NewCircuitID(), 0, testPayload(), 3)
	require.NoError(t, err)

	rewritten := pkt.WithPrevHop("10.0.1.2")
	require.Equal(t, "10.0.1.2", rewritten.PrevHop)
	require.Equal(t, testPayload().Origin, pkt.PrevHop)
}
