package conveyor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"beltworks.ai/internal/sim/geom"
)

// NodeState is the persisted form of a node: enough to rebuild queue contents and
// any in-flight reservation exactly.
type NodeState struct {
	Pos          geom.Vec3i
	Inputs       geom.DirFlags
	Outputs      geom.DirFlags
	MachineID    string
	LastRouted   geom.Direction
	LastAdmitted geom.Direction
	Reserved     bool
	ReservedFrom geom.Direction
	Segments     []SegmentState
}

type SegmentState struct {
	Dir      geom.Direction
	Admitted bool
	Items    []Item
}

// Export returns every node in canonical order.
func (n *Network) Export() []NodeState {
	ps := n.Positions()
	out := make([]NodeState, 0, len(ps))
	for _, p := range ps {
		nd := n.nodes[p]
		st := NodeState{
			Pos:          p,
			Inputs:       nd.inputs,
			Outputs:      nd.outputs,
			LastRouted:   nd.lastRouted,
			LastAdmitted: nd.lastAdmitted,
			Reserved:     nd.reserved,
			ReservedFrom: nd.reservedFrom,
		}
		if nd.machine != nil {
			st.MachineID = nd.machine.ID()
		}
		for _, d := range geom.Directions {
			if seg := nd.segments[d]; seg != nil {
				st.Segments = append(st.Segments, SegmentState{Dir: d, Admitted: seg.admitted, Items: seg.Items()})
			}
		}
		out = append(out, st)
	}
	return out
}

// Import replaces the network contents with states. resolve maps a machine id back to
// the live machine. The stats are restored separately with RestoreStats.
func (n *Network) Import(states []NodeState, resolve func(id string) (Machine, bool)) error {
	nodes := make(map[geom.Vec3i]*Node, len(states))
	for _, st := range states {
		if _, dup := nodes[st.Pos]; dup {
			return fmt.Errorf("%w: duplicate node %v", ErrInvalidState, st.Pos)
		}
		if st.Inputs&st.Outputs != 0 {
			return fmt.Errorf("%w: %v has %v as both input and output", ErrInvalidState, st.Pos, st.Inputs&st.Outputs)
		}
		nd := newNode(st.Pos)
		nd.inputs = st.Inputs & geom.AllDirs
		nd.outputs = st.Outputs & geom.AllDirs
		nd.lastRouted = st.LastRouted % geom.NumDirections
		nd.lastAdmitted = st.LastAdmitted % geom.NumDirections
		if st.MachineID != "" {
			if resolve == nil {
				return fmt.Errorf("%w: %v bound to unknown machine %s", ErrInvalidState, st.Pos, st.MachineID)
			}
			m, ok := resolve(st.MachineID)
			if !ok {
				return fmt.Errorf("%w: %v bound to unknown machine %s", ErrInvalidState, st.Pos, st.MachineID)
			}
			nd.machine = m
		}
		if st.Reserved && nd.machine == nil {
			if !nd.inputs.Has(st.ReservedFrom) {
				return fmt.Errorf("%w: %v reserved for %v which is not an input", ErrInvalidState, st.Pos, st.ReservedFrom)
			}
			nd.reserved = true
			nd.reservedFrom = st.ReservedFrom
		}
		for _, ss := range st.Segments {
			if !ss.Dir.Valid() || !nd.outputs.Has(ss.Dir) || nd.segments[ss.Dir] != nil {
				return fmt.Errorf("%w: %v unexpected segment %v", ErrInvalidState, st.Pos, ss.Dir)
			}
			seg := newSegment(ss.Dir)
			seg.admitted = ss.Admitted && len(ss.Items) > 0
			for _, it := range ss.Items {
				seg.push(it)
			}
			if !seg.spacingOK() {
				return fmt.Errorf("%w: %v segment %v breaks item spacing", ErrInvalidState, st.Pos, ss.Dir)
			}
			nd.segments[ss.Dir] = seg
		}
		var missing error
		nd.outputs.Each(func(d geom.Direction) {
			if nd.segments[d] == nil && missing == nil {
				missing = fmt.Errorf("%w: %v output %v has no segment", ErrInvalidState, st.Pos, d)
			}
		})
		if missing != nil {
			return missing
		}
		nodes[st.Pos] = nd
	}
	for p, nd := range nodes {
		var err error
		nd.outputs.Each(func(d geom.Direction) {
			other := nodes[p.Step(d)]
			if err == nil && (other == nil || !other.inputs.Has(d.Inverse())) {
				err = fmt.Errorf("%w: output %v of %v has no matching input", ErrInvalidState, d, p)
			}
		})
		nd.inputs.Each(func(d geom.Direction) {
			other := nodes[p.Step(d)]
			if err == nil && (other == nil || !other.outputs.Has(d.Inverse())) {
				err = fmt.Errorf("%w: input %v of %v has no matching output", ErrInvalidState, d, p)
			}
		})
		if err != nil {
			return err
		}
		if err := checkAdmissions(nodes, nd); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	}
	n.nodes = nodes
	return nil
}

func (n *Network) RestoreStats(s Stats) { n.stats = s }

// Digest hashes the canonical network state. Equal digests mean equal queue contents,
// topology and handshake state.
func (n *Network) Digest() string {
	h := sha256.New()
	var buf []byte
	for _, st := range n.Export() {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(st.Pos.X), 10)
		buf = append(buf, ',')
		buf = strconv.AppendInt(buf, int64(st.Pos.Y), 10)
		buf = append(buf, ',')
		buf = strconv.AppendInt(buf, int64(st.Pos.Z), 10)
		buf = append(buf, '|', byte(st.Inputs), byte(st.Outputs), byte(st.LastRouted), byte(st.LastAdmitted))
		if st.Reserved {
			buf = append(buf, 'R', byte(st.ReservedFrom))
		}
		buf = append(buf, '|')
		buf = append(buf, st.MachineID...)
		for _, ss := range st.Segments {
			buf = append(buf, '|', byte(ss.Dir))
			if ss.Admitted {
				buf = append(buf, 'A')
			}
			for _, it := range ss.Items {
				buf = append(buf, ';')
				buf = append(buf, it.Kind...)
				buf = append(buf, '@')
				buf = strconv.AppendFloat(buf, it.Distance, 'g', -1, 64)
			}
		}
		buf = append(buf, '\n')
		_, _ = h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckInvariants verifies item spacing and the input/output exclusivity of every node.
func (n *Network) CheckInvariants() error {
	for _, p := range n.Positions() {
		nd := n.nodes[p]
		if nd.inputs&nd.outputs != 0 {
			return fmt.Errorf("%v: direction is both input and output", p)
		}
		if nd.reserved && !nd.inputs.Has(nd.reservedFrom) {
			return fmt.Errorf("%v: reservation for non-input %v", p, nd.reservedFrom)
		}
		for _, d := range geom.Directions {
			seg := nd.segments[d]
			if (seg != nil) != nd.outputs.Has(d) {
				return fmt.Errorf("%v: segment/output mismatch on %v", p, d)
			}
			if seg != nil && !seg.spacingOK() {
				return fmt.Errorf("%v: spacing violated on %v: %v", p, d, seg.Items())
			}
		}
		if err := checkAdmissions(n.nodes, nd); err != nil {
			return err
		}
	}
	return nil
}

// checkAdmissions verifies that a routing node has admitted at most one sender and
// that it is the one holding the reservation.
func checkAdmissions(nodes map[geom.Vec3i]*Node, nd *Node) error {
	if nd.machine != nil {
		return nil
	}
	var err error
	nd.inputs.Each(func(d geom.Direction) {
		src := nodes[nd.pos.Step(d)]
		if src == nil || err != nil {
			return
		}
		lane := src.segments[d.Inverse()]
		if lane == nil || !lane.admitted {
			return
		}
		if !nd.reserved || nd.reservedFrom != d {
			err = fmt.Errorf("%v: sender %v admitted without holding the reservation", nd.pos, d)
		}
	})
	return err
}
