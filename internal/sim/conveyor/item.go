// Package conveyor is the belt transport and routing engine: per-tile nodes own
// directional segments, items advance on a fixed timestep, and a reservation
// handshake admits at most one item per routing node per tick.
package conveyor

import (
	"errors"

	"beltworks.ai/internal/sim/geom"
)

const (
	// QueueDistance is the length of one segment in tile-lengths.
	QueueDistance = 1.0
	// MinItemDistance is the minimum spacing between two settled items.
	// Slightly above half a tile so a resting segment holds exactly one item near its end.
	MinItemDistance = 0.51
	// HandoffDistance is where a head item waits for the downstream node to admit it.
	HandoffDistance = QueueDistance - MinItemDistance
)

var (
	ErrInvalidLink      = errors.New("conveyor: invalid link")
	ErrNotLinked        = errors.New("conveyor: not linked")
	ErrNoNode           = errors.New("conveyor: no node at position")
	ErrMachineBound     = errors.New("conveyor: node already bound to a machine")
	ErrInvalidState     = errors.New("conveyor: invalid persisted state")
	ErrTransferRejected = errors.New("conveyor: transfer rejected")
)

// Item is one unit in transit: its payload kind and how far it has travelled
// along the current segment.
type Item struct {
	Kind     string  `json:"kind"`
	Distance float64 `json:"distance"`
}

// Machine is the inventory collaborator a node can be bound to.
type Machine interface {
	ID() string
	// TryAcceptItem increments the matching inventory slot, reporting false when full.
	TryAcceptItem(kind string) bool
}

// Eviction reasons reported through Hooks.OnEvict.
const (
	EvictUnlink   = "UNLINK"
	EvictDemolish = "DEMOLISH"
	EvictIllegal  = "ILLEGAL_TOPOLOGY"
)

// Hooks lets the owning world observe item lifecycle and topology events.
// Every field is optional.
type Hooks struct {
	OnEvict       func(pos geom.Vec3i, dir geom.Direction, it Item, reason string)
	OnConsume     func(pos geom.Vec3i, machineID string, it Item)
	OnIllegalLink func(from, to geom.Vec3i, reason string)
	// OnReject fires when an admitted transfer into pos from side from cannot
	// complete this tick. err is ErrTransferRejected.
	OnReject func(pos geom.Vec3i, from geom.Direction, it Item, err error)
	// OnLink fires after a link is formed between two nodes where either is machine-bound.
	OnLink func(from, to geom.Vec3i)
}
