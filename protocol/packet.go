package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LayerToken is one level of the simulated onion wrapping. Tokens are opaque
// identifiers, not ciphertext; peeling one models removing one encryption
// layer.
type LayerToken string

// Payload is the true content of a packet: the simulated client identity,
// the destination and the carried content. It is immutable after injection
// and never exposed except through the exit role's observed view.
type Payload struct {
	Origin      string `json:"origin" msgpack:"origin"`
	Destination string `json:"destination" msgpack:"destination"`
	Content     string `json:"content" msgpack:"content"`
	SizeBytes   int    `json:"size_bytes" msgpack:"size_bytes"`
}

// Packet is a simulated onion-routed packet. Packets are value types:
// Peel returns a shortened copy instead of mutating, so a version already
// handed to one relay can never be re-observed with fewer layers.
type Packet struct {
	CircuitID  string    `json:"circuit_id" msgpack:"circuit_id"`
	SequenceNo uint64    `json:"sequence_no" msgpack:"sequence_no"`
	CreatedAt  time.Time `json:"created_at" msgpack:"created_at"`

	// PrevHop is the identity of the node the packet arrived from. The
	// coordinator rewrites it before each forward; relays may only expose
	// it when their role allows.
	PrevHop string `json:"prev_hop" msgpack:"prev_hop"`

	// RemainingLayers is ordered outermost first and shrinks by exactly
	// one per hop.
	RemainingLayers []LayerToken `json:"remaining_layers" msgpack:"remaining_layers"`

	Payload Payload `json:"payload" msgpack:"payload"`
}

// NewCircuitID returns a fresh opaque circuit identifier.
func NewCircuitID() string {
	return "C" + uuid.NewString()[:8]
}

// Inject creates a new packet wrapped in layerCount layers. It fails with
// ErrInvalidCircuit on bad parameters; such packets never enter the system.
func Inject(circuitID string, seq uint64, payload Payload, layerCount int) (Packet, error) {
	if circuitID == "" {
		return Packet{}, fmt.Errorf("%w: empty circuit id", ErrInvalidCircuit)
	}
	if layerCount < 1 {
		return Packet{}, fmt.Errorf("%w: layer count %d", ErrInvalidCircuit, layerCount)
	}

	layers := make([]LayerToken, layerCount)
	for i := range layers {
		layers[i] = newLayerToken(circuitID, i)
	}

	return Packet{
		CircuitID:       circuitID,
		SequenceNo:      seq,
		CreatedAt:       time.Now().UTC(),
		PrevHop:         payload.Origin,
		RemainingLayers: layers,
		Payload:         payload,
	}, nil
}

// Peel removes the outermost layer and returns it together with the
// shortened packet. Calling Peel on a fully unwrapped packet fails with
// ErrLayersExhausted, which signals a routing bug upstream.
func (p Packet) Peel() (LayerToken, Packet, error) {
	if len(p.RemainingLayers) == 0 {
		return "", p, fmt.Errorf("%w: circuit %s", ErrLayersExhausted, p.CircuitID)
	}

	revealed := p.RemainingLayers[0]
	peeled := p
	peeled.RemainingLayers = append([]LayerToken(nil), p.RemainingLayers[1:]...)
	return revealed, peeled, nil
}

// WithPrevHop returns a copy of the packet with the previous-hop identity
// rewritten. Used by the coordinator between hops.
func (p Packet) WithPrevHop(addr string) Packet {
	p.PrevHop = addr
	return p
}

// CurrentHop derives which hop should process the packet next from the
// remaining layer count. A fully wrapped packet is at hop 0 (the guard).
func (p Packet) CurrentHop(circuitLength int) int {
	return circuitLength - len(p.RemainingLayers)
}

// Delivered reports whether every layer has been peeled.
func (p Packet) Delivered() bool {
	return len(p.RemainingLayers) == 0
}

func newLayerToken(circuitID string, depth int) LayerToken {
	var b [4]byte
	rand.Read(b[:])
	return LayerToken(fmt.Sprintf("%s.%d.%s", circuitID, depth, hex.EncodeToString(b[:])))
}
