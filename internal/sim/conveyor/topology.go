package conveyor

import (
	"fmt"

	"beltworks.ai/internal/sim/geom"
)

// EnsureNode returns the node at p, creating an unlinked one if needed.
func (n *Network) EnsureNode(p geom.Vec3i) *Node {
	if nd, ok := n.nodes[p]; ok {
		return nd
	}
	nd := newNode(p)
	n.nodes[p] = nd
	return nd
}

func (n *Network) IsLinked(a, b geom.Vec3i) bool {
	d, ok := geom.DirectionBetween(a, b)
	if !ok {
		return false
	}
	na := n.nodes[a]
	return na != nil && na.outputs.Has(d) && na.segments[d] != nil
}

// Link creates the directed link a->b with a fresh segment on a. Any reverse link
// b->a is removed first (its items are evicted).
func (n *Network) Link(a, b geom.Vec3i) error {
	d, ok := geom.DirectionBetween(a, b)
	if !ok {
		return fmt.Errorf("%w: %v -> %v not adjacent", ErrInvalidLink, a, b)
	}
	na, nb := n.nodes[a], n.nodes[b]
	if na == nil || nb == nil {
		return fmt.Errorf("%w: %v -> %v", ErrNoNode, a, b)
	}
	if na.outputs.Has(d) {
		return fmt.Errorf("%w: %v -> %v already linked", ErrInvalidLink, a, b)
	}
	if nb.outputs.Has(d.Inverse()) {
		if err := n.unlink(b, a, EvictUnlink); err != nil {
			return err
		}
	}
	na.outputs = na.outputs.With(d)
	na.segments[d] = newSegment(d)
	nb.inputs = nb.inputs.With(d.Inverse())

	if n.hooks.OnLink != nil && (na.machine != nil || nb.machine != nil) {
		n.hooks.OnLink(a, b)
	}
	return nil
}

// Unlink removes a->b, evicting every item on the link's segment.
func (n *Network) Unlink(a, b geom.Vec3i) error {
	return n.unlink(a, b, EvictUnlink)
}

func (n *Network) unlink(a, b geom.Vec3i, reason string) error {
	if !n.IsLinked(a, b) {
		return fmt.Errorf("%w: %v -> %v", ErrNotLinked, a, b)
	}
	d, _ := geom.DirectionBetween(a, b)
	na, nb := n.nodes[a], n.nodes[b]

	n.evictSegment(na, d, reason)
	na.segments[d] = nil
	na.outputs = na.outputs.Without(d)

	if nb != nil {
		from := d.Inverse()
		nb.inputs = nb.inputs.Without(from)
		if nb.reserved && nb.reservedFrom == from {
			nb.releaseReservation()
		}
	}
	return nil
}

func (n *Network) evictSegment(nd *Node, d geom.Direction, reason string) {
	seg := nd.segments[d]
	if seg == nil {
		return
	}
	seg.evict(func(it Item) {
		n.stats.Evicted++
		if n.hooks.OnEvict != nil {
			n.hooks.OnEvict(nd.pos, d, it, reason)
		}
	})
}

// Demolish removes the node at p together with all of its links.
func (n *Network) Demolish(p geom.Vec3i) bool {
	return n.demolish(p, EvictDemolish)
}

func (n *Network) demolish(p geom.Vec3i, reason string) bool {
	nd, ok := n.nodes[p]
	if !ok {
		return false
	}
	for _, d := range geom.Directions {
		if nd.outputs.Has(d) {
			_ = n.unlink(p, p.Step(d), reason)
		}
		if nd.inputs.Has(d) {
			from := p.Step(d)
			if n.IsLinked(from, p) {
				_ = n.unlink(from, p, reason)
			} else {
				nd.inputs = nd.inputs.Without(d)
			}
		}
	}
	delete(n.nodes, p)
	return true
}

// BindMachine routes everything arriving at p into m.
func (n *Network) BindMachine(p geom.Vec3i, m Machine) error {
	nd, ok := n.nodes[p]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoNode, p)
	}
	if nd.machine != nil && nd.machine.ID() != m.ID() {
		return fmt.Errorf("%w: %v bound to %s", ErrMachineBound, p, nd.machine.ID())
	}
	nd.machine = m
	nd.releaseReservation()
	n.withdrawAdmissions(nd)
	return nil
}

// UnbindMachine turns p back into a routing node. Admissions granted by the
// machine are withdrawn; the senders re-arbitrate on the next tick.
func (n *Network) UnbindMachine(p geom.Vec3i) {
	nd, ok := n.nodes[p]
	if !ok || nd.machine == nil {
		return
	}
	nd.machine = nil
	n.withdrawAdmissions(nd)
}

func (n *Network) withdrawAdmissions(nd *Node) {
	nd.inputs.Each(func(d geom.Direction) {
		if lane := n.senderLane(nd, d); lane != nil {
			lane.admitted = false
		}
	})
}

// LinkRule decides whether the directed link from->to is currently permitted.
type LinkRule func(from, to geom.Vec3i) (ok bool, reason string)

// Sweep re-validates every link touching the given positions and removes those the
// rule rejects, then recursively drops nodes left with no links and no machine.
// It returns the positions of the removed nodes in the order they were removed.
func (n *Network) Sweep(positions []geom.Vec3i, rule LinkRule) []geom.Vec3i {
	ps := append([]geom.Vec3i(nil), positions...)
	geom.SortPositions(ps)

	var touched []geom.Vec3i
	for _, p := range ps {
		nd, ok := n.nodes[p]
		if !ok {
			continue
		}
		touched = append(touched, p)
		for _, d := range geom.Directions {
			if nd.outputs.Has(d) {
				touched = n.checkLink(p, p.Step(d), rule, touched)
			}
			if nd.inputs.Has(d) {
				touched = n.checkLink(p.Step(d), p, rule, touched)
			}
		}
	}

	var removed []geom.Vec3i
	for len(touched) > 0 {
		p := touched[0]
		touched = touched[1:]
		nd, ok := n.nodes[p]
		if !ok || !nd.Orphan() {
			continue
		}
		delete(n.nodes, p)
		removed = append(removed, p)
	}
	return removed
}

func (n *Network) checkLink(from, to geom.Vec3i, rule LinkRule, touched []geom.Vec3i) []geom.Vec3i {
	if rule == nil || !n.IsLinked(from, to) {
		return touched
	}
	ok, reason := rule(from, to)
	if ok {
		return touched
	}
	n.logf("illegal topology: unlink %v -> %v (%s)", from, to, reason)
	if n.hooks.OnIllegalLink != nil {
		n.hooks.OnIllegalLink(from, to, reason)
	}
	_ = n.unlink(from, to, EvictIllegal)
	return append(touched, from, to)
}
