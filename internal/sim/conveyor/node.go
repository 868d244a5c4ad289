package conveyor

import "beltworks.ai/internal/sim/geom"

// Node is the conveyor state of one tile.
type Node struct {
	pos      geom.Vec3i
	inputs   geom.DirFlags
	outputs  geom.DirFlags
	segments [geom.NumDirections]*Segment
	machine  Machine

	lastRouted   geom.Direction
	lastAdmitted geom.Direction

	// Router admission slot. Held by at most one input direction; survives
	// across ticks until the reserved transfer commits or its link is removed.
	reserved     bool
	reservedFrom geom.Direction
}

func newNode(pos geom.Vec3i) *Node {
	// West so the first rotation starts at North.
	return &Node{pos: pos, lastRouted: geom.West, lastAdmitted: geom.West}
}

func (n *Node) Pos() geom.Vec3i            { return n.pos }
func (n *Node) Inputs() geom.DirFlags      { return n.inputs }
func (n *Node) Outputs() geom.DirFlags     { return n.outputs }
func (n *Node) Machine() Machine           { return n.machine }
func (n *Node) LastRouted() geom.Direction { return n.lastRouted }

// Segment returns the output lane toward d, if linked.
func (n *Node) Segment(d geom.Direction) *Segment {
	if !d.Valid() {
		return nil
	}
	return n.segments[d]
}

// Reservation reports which input direction currently holds the admission slot.
func (n *Node) Reservation() (geom.Direction, bool) {
	return n.reservedFrom, n.reserved
}

// Linked reports whether the node has any input or output.
func (n *Node) Linked() bool { return !n.inputs.Empty() || !n.outputs.Empty() }

// Orphan reports a node with no links and no machine binding.
func (n *Node) Orphan() bool { return !n.Linked() && n.machine == nil }

// ItemCount counts items on every output lane.
func (n *Node) ItemCount() int {
	total := 0
	for _, s := range n.segments {
		if s != nil {
			total += s.Len()
		}
	}
	return total
}

// CanTransferIn reports whether a sender arriving from direction from may claim admission.
// Machine-bound nodes take from any side; capacity is settled by the machine itself.
func (n *Node) CanTransferIn(from geom.Direction) bool {
	if n.machine != nil {
		return true
	}
	return !n.reserved || n.reservedFrom == from
}

// BeginTransferIn claims the admission slot for from. Repeat calls from the
// holder are no-ops; a second sender is refused.
func (n *Node) BeginTransferIn(from geom.Direction) bool {
	if !n.CanTransferIn(from) {
		return false
	}
	if n.machine == nil {
		n.reserved = true
		n.reservedFrom = from
	}
	return true
}

// EndTransferIn completes an admitted transfer. A machine-bound node hands the item to
// its machine. A routing node places it on the next output with room, rotating from
// the last routed direction. On failure the item stays with the sender; a routing
// node keeps the reservation so the same sender retries first.
func (n *Node) EndTransferIn(it Item, excess float64) bool {
	if n.machine != nil {
		return n.machine.TryAcceptItem(it.Kind)
	}
	d, ok := n.selectOutput()
	if !ok {
		return false
	}
	seg := n.segments[d]
	dist := excess
	if slack := seg.tailSlack(); dist > slack {
		dist = slack
	}
	if dist < 0 {
		dist = 0
	}
	it.Distance = dist
	seg.push(it)
	n.lastRouted = d
	n.releaseReservation()
	return true
}

// selectOutput picks the first output with room, starting after lastRouted and
// wrapping back to it.
func (n *Node) selectOutput() (geom.Direction, bool) {
	d := n.lastRouted
	for i := 0; i < geom.NumDirections; i++ {
		d = d.Next()
		if !n.outputs.Has(d) {
			continue
		}
		if s := n.segments[d]; s != nil && s.hasRoom() {
			return d, true
		}
	}
	return 0, false
}

func (n *Node) releaseReservation() {
	n.reserved = false
	n.reservedFrom = 0
}

// admissionOrder lists input directions starting after lastAdmitted.
func (n *Node) admissionOrder() [geom.NumDirections]geom.Direction {
	var out [geom.NumDirections]geom.Direction
	d := n.lastAdmitted
	for i := range out {
		d = d.Next()
		out[i] = d
	}
	return out
}
