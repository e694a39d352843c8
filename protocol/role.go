package protocol

import "fmt"

// Role identifies a relay's position in the circuit. The set is closed:
// exactly one guard, one middle and one exit per circuit topology.
type Role string

const (
	RoleGuard  Role = "guard"
	RoleMiddle Role = "middle"
	RoleExit   Role = "exit"
)

// CircuitRoles is the fixed hop order of a circuit.
var CircuitRoles = [3]Role{RoleGuard, RoleMiddle, RoleExit}

// Valid returns true if the role is recognized.
func (r Role) Valid() bool {
	switch r {
	case RoleGuard, RoleMiddle, RoleExit:
		return true
	}
	return false
}

// ParseRole converts a string into a Role, rejecting anything outside the
// closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// HopIndex returns the role's zero-based position in the circuit.
func (r Role) HopIndex() int {
	for i, role := range CircuitRoles {
		if role == r {
			return i
		}
	}
	return -1
}

// RoleForHop returns the role assigned to the given hop index.
func RoleForHop(hop int) (Role, error) {
	if hop < 0 || hop >= len(CircuitRoles) {
		return "", fmt.Errorf("hop index %d out of range", hop)
	}
	return CircuitRoles[hop], nil
}

// NextHopLabel is the identity a relay reports as its forwarding target. For
// guard and middle this is the next relay; the exit forwards to the
// destination itself and reveals it in its observed view instead.
func (r Role) NextHopLabel() string {
	switch r {
	case RoleGuard:
		return "middle-relay"
	case RoleMiddle:
		return "exit-relay"
	default:
		return "destination"
	}
}

// Visibility is the field allow-list for one role. It is evaluated exactly
// once per hop event, in ObservedView; no other code path may project packet
// fields into an event.
type Visibility struct {
	SeesOrigin      bool
	SeesDestination bool
	SeesContent     bool
	SeesPrevHop     bool
	SeesNextHop     bool
}

// roleVisibility is the closed lookup table mapping each role to its
// permitted visibility set.
var roleVisibility = map[Role]Visibility{
	RoleGuard:  {SeesOrigin: true, SeesNextHop: true},
	RoleMiddle: {SeesPrevHop: true, SeesNextHop: true},
	RoleExit:   {SeesPrevHop: true, SeesDestination: true, SeesContent: true},
}

// Visibility returns the allow-list for the role. Unknown roles see nothing.
func (r Role) Visibility() Visibility {
	return roleVisibility[r]
}
