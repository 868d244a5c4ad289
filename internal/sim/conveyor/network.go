package conveyor

import (
	"log"

	"beltworks.ai/internal/sim/geom"
)

type Config struct {
	// ItemSpeed in tile-lengths per second.
	ItemSpeed float64
	Logger    *log.Logger
	Hooks     Hooks
}

// Stats are cumulative item counters. For any sequence of operations
// Live == Placed - Consumed - Evicted.
type Stats struct {
	Placed     uint64 `json:"placed"`
	Consumed   uint64 `json:"consumed"`
	Evicted    uint64 `json:"evicted"`
	Transfers  uint64 `json:"transfers"`
	Rejections uint64 `json:"rejections"`
}

// Network is the arena of conveyor nodes keyed by grid position.
// It is driven from a single goroutine.
type Network struct {
	itemSpeed float64
	log       *log.Logger
	hooks     Hooks

	nodes map[geom.Vec3i]*Node
	stats Stats
}

func New(cfg Config) *Network {
	speed := cfg.ItemSpeed
	if speed <= 0 {
		speed = 1
	}
	return &Network{
		itemSpeed: speed,
		log:       cfg.Logger,
		hooks:     cfg.Hooks,
		nodes:     map[geom.Vec3i]*Node{},
	}
}

func (n *Network) SetHooks(h Hooks)   { n.hooks = h }
func (n *Network) ItemSpeed() float64 { return n.itemSpeed }
func (n *Network) Stats() Stats       { return n.stats }
func (n *Network) NodeCount() int     { return len(n.nodes) }

func (n *Network) Node(p geom.Vec3i) (*Node, bool) {
	nd, ok := n.nodes[p]
	return nd, ok
}

// Positions lists node positions in canonical order.
func (n *Network) Positions() []geom.Vec3i {
	return geom.SortedPositions(n.nodes)
}

// Live counts items currently on any segment.
func (n *Network) Live() int {
	total := 0
	for _, nd := range n.nodes {
		total += nd.ItemCount()
	}
	return total
}

// PlaceItem pushes a new item onto the output lane of the node at p toward dir.
// It fails when there is no such lane or the tail item is closer than MinItemDistance.
func (n *Network) PlaceItem(p geom.Vec3i, dir geom.Direction, kind string) bool {
	nd, ok := n.nodes[p]
	if !ok || kind == "" {
		return false
	}
	seg := nd.Segment(dir)
	if seg == nil || !seg.hasRoom() {
		return false
	}
	seg.push(Item{Kind: kind, Distance: 0})
	n.stats.Placed++
	return true
}

// Tick advances the whole network by dt seconds in canonical node order.
func (n *Network) Tick(dt float64) {
	n.tickInOrder(dt, n.Positions())
}

type pendingPop struct {
	seg *Segment
}

// tickInOrder runs the three tick phases visiting nodes in the given order.
// The outcome does not depend on that order:
//   - integrate touches only each lane's own items;
//   - arbitrate decides per receiver from the lanes feeding it, as integrate left them;
//   - commit enqueues onto receivers' lanes immediately but defers removal of
//     sender heads, so every admission decision sees the same lane tails.
func (n *Network) tickInOrder(dt float64, order []geom.Vec3i) {
	if dt <= 0 || len(n.nodes) == 0 {
		return
	}
	fixed := n.itemSpeed * dt

	for _, p := range order {
		nd := n.nodes[p]
		if nd == nil {
			continue
		}
		for _, seg := range nd.segments {
			if seg != nil {
				seg.integrate(fixed)
			}
		}
	}

	for _, p := range order {
		nd := n.nodes[p]
		if nd == nil {
			continue
		}
		if nd.machine != nil {
			n.admitAll(nd)
		} else {
			n.arbitrate(nd)
		}
	}

	var pops []pendingPop
	for _, p := range order {
		nd := n.nodes[p]
		if nd == nil {
			continue
		}
		if nd.machine != nil {
			pops = n.commitMachine(nd, pops)
		} else {
			pops = n.commitRouter(nd, pops)
		}
	}
	for _, pp := range pops {
		pp.seg.popHead()
	}
}

// senderLane returns the lane of the neighbour on side from that feeds nd.
func (n *Network) senderLane(nd *Node, from geom.Direction) *Segment {
	if !nd.inputs.Has(from) {
		return nil
	}
	src := n.nodes[nd.pos.Step(from)]
	if src == nil {
		return nil
	}
	return src.segments[from.Inverse()]
}

// arbitrate grants a routing node's single admission slot. A reservation held from an
// earlier tick is honoured first; otherwise senders whose head reached the handoff
// point are considered in rotation after the last admitted side.
func (n *Network) arbitrate(nd *Node) {
	if nd.reserved {
		lane := n.senderLane(nd, nd.reservedFrom)
		if lane != nil && lane.Len() > 0 {
			lane.admitted = true
			n.countWaiting(nd, nd.reservedFrom)
			return
		}
		if lane != nil {
			lane.admitted = false
		}
		nd.releaseReservation()
	}
	for _, d := range nd.admissionOrder() {
		lane := n.senderLane(nd, d)
		if lane == nil || !lane.ready {
			continue
		}
		if nd.BeginTransferIn(d) {
			lane.admitted = true
			nd.lastAdmitted = d
			n.countWaiting(nd, d)
			return
		}
	}
}

// admitAll lets every ready sender into a machine-bound node; the machine's
// inventory decides at commit.
func (n *Network) admitAll(nd *Node) {
	nd.inputs.Each(func(d geom.Direction) {
		lane := n.senderLane(nd, d)
		if lane != nil && lane.ready && nd.BeginTransferIn(d) {
			lane.admitted = true
		}
	})
}

// countWaiting records a rejection for every sender held at the handoff point
// because another side holds the slot.
func (n *Network) countWaiting(nd *Node, granted geom.Direction) {
	nd.inputs.Each(func(d geom.Direction) {
		if d == granted {
			return
		}
		if lane := n.senderLane(nd, d); lane != nil && lane.ready {
			n.stats.Rejections++
		}
	})
}

func (n *Network) commitRouter(nd *Node, pops []pendingPop) []pendingPop {
	if !nd.reserved {
		return pops
	}
	lane := n.senderLane(nd, nd.reservedFrom)
	if lane == nil || !lane.admitted || !lane.ready {
		return pops
	}
	head, ok := lane.Head()
	if !ok {
		return pops
	}
	if !nd.EndTransferIn(head, lane.overshoot) {
		// No output has room: the head stays clamped at the handoff point and the
		// reservation stays pending for the next tick.
		n.reject(nd, nd.reservedFrom, head)
		return pops
	}
	n.stats.Transfers++
	return append(pops, pendingPop{seg: lane})
}

func (n *Network) commitMachine(nd *Node, pops []pendingPop) []pendingPop {
	for _, d := range nd.admissionOrder() {
		lane := n.senderLane(nd, d)
		if lane == nil || !lane.admitted || !lane.ready {
			continue
		}
		head, ok := lane.Head()
		if !ok {
			continue
		}
		if !nd.EndTransferIn(head, lane.overshoot) {
			lane.admitted = false
			n.reject(nd, d, head)
			continue
		}
		nd.lastAdmitted = d
		n.stats.Consumed++
		if n.hooks.OnConsume != nil {
			n.hooks.OnConsume(nd.pos, nd.machine.ID(), head)
		}
		pops = append(pops, pendingPop{seg: lane})
	}
	return pops
}

func (n *Network) reject(nd *Node, from geom.Direction, it Item) {
	n.stats.Rejections++
	if n.hooks.OnReject != nil {
		n.hooks.OnReject(nd.pos, from, it, ErrTransferRejected)
	}
}

func (n *Network) logf(format string, args ...any) {
	if n.log != nil {
		n.log.Printf(format, args...)
	}
}
