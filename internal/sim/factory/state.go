package factory

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"beltworks.ai/internal/persistence/snapshot"
	"beltworks.ai/internal/sim/conveyor"
	"beltworks.ai/internal/sim/geom"
	"beltworks.ai/internal/sim/machine"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func digestWriteVec(h hashWriter, tmp *[8]byte, p geom.Vec3i) {
	digestWriteU64(h, tmp, uint64(int64(p.X)))
	digestWriteU64(h, tmp, uint64(int64(p.Y)))
	digestWriteU64(h, tmp, uint64(int64(p.Z)))
}

func writeStacks(h hashWriter, tmp *[8]byte, stacks []machine.Stack) {
	digestWriteU64(h, tmp, uint64(len(stacks)))
	for _, st := range stacks {
		digestWriteString(h, tmp, st.Item)
		digestWriteU64(h, tmp, uint64(int64(st.Count)))
	}
}

// stateDigest covers everything that influences future ticks.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, math.Float64bits(w.cfg.ItemSpeed))
	digestWriteString(h, &tmp, w.net.Digest())
	s := w.net.Stats()
	for _, v := range []uint64{s.Placed, s.Consumed, s.Evicted, s.Transfers, s.Rejections} {
		digestWriteU64(h, &tmp, v)
	}

	conv := geom.SortedPositions(w.conveyors)
	digestWriteU64(h, &tmp, uint64(len(conv)))
	for _, p := range conv {
		digestWriteVec(h, &tmp, p)
	}

	for _, id := range w.sortedMachineIDs() {
		m := w.machines[id]
		digestWriteString(h, &tmp, id)
		digestWriteVec(h, &tmp, m.Box.Max)
		writeStacks(h, &tmp, m.InventoryList())
		digestWriteU64(h, &tmp, m.Received)
		digestWriteU64(h, &tmp, m.Emitted)
	}

	for _, id := range w.sortedParcelIDs() {
		pc := w.parcels[id]
		digestWriteString(h, &tmp, id)
		digestWriteVec(h, &tmp, pc.Box.Min)
		digestWriteVec(h, &tmp, pc.Box.Max)
		if pc.Restricted {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	digestWriteU64(h, &tmp, w.nextParcel)

	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	s := snapshot.SnapshotV1{
		Header:             snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Tick: nowTick, Digest: w.stateDigest(nowTick)},
		TickRate:           w.cfg.TickRateHz,
		ItemSpeed:          w.cfg.ItemSpeed,
		SpatialCellSize:    w.cfg.SpatialCellSize,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		Counters:           snapshot.CountersV1{NextParcel: w.nextParcel},
	}

	for _, st := range w.net.Export() {
		n := snapshot.NodeV1{
			Pos:          st.Pos.ToArray(),
			Inputs:       uint8(st.Inputs),
			Outputs:      uint8(st.Outputs),
			MachineID:    st.MachineID,
			LastRouted:   uint8(st.LastRouted),
			LastAdmitted: uint8(st.LastAdmitted),
			Reserved:     st.Reserved,
			ReservedFrom: uint8(st.ReservedFrom),
		}
		for _, seg := range st.Segments {
			sv := snapshot.SegmentV1{Dir: uint8(seg.Dir), Admitted: seg.Admitted}
			for _, it := range seg.Items {
				sv.Items = append(sv.Items, snapshot.ItemV1{Kind: it.Kind, Distance: it.Distance})
			}
			n.Segments = append(n.Segments, sv)
		}
		s.Nodes = append(s.Nodes, n)
	}

	for _, p := range geom.SortedPositions(w.conveyors) {
		s.Conveyors = append(s.Conveyors, p.ToArray())
	}

	for _, id := range w.sortedMachineIDs() {
		m := w.machines[id]
		mv := snapshot.MachineV1{
			Kind:         string(m.Kind),
			Min:          m.Box.Min.ToArray(),
			Max:          m.Box.Max.ToArray(),
			Accepts:      append([]string(nil), m.Accepts...),
			SlotCapacity: m.SlotCapacity,
			Emits:        m.Emits,
			EmitEvery:    m.EmitEvery,
			Inventory:    map[string]int{},
			Received:     m.Received,
			Emitted:      m.Emitted,
		}
		for _, p := range m.Ports {
			mv.Ports = append(mv.Ports, p.ToArray())
		}
		for k, v := range m.Inventory {
			if v != 0 {
				mv.Inventory[k] = v
			}
		}
		s.Machines = append(s.Machines, mv)
	}

	for _, id := range w.sortedParcelIDs() {
		pc := w.parcels[id]
		s.Parcels = append(s.Parcels, snapshot.ParcelV1{
			ID: pc.ID, Min: pc.Box.Min.ToArray(), Max: pc.Box.Max.ToArray(), Restricted: pc.Restricted, Owner: pc.Owner,
		})
	}

	ns := w.net.Stats()
	s.Stats = snapshot.StatsV1{Placed: ns.Placed, Consumed: ns.Consumed, Evicted: ns.Evicted, Transfers: ns.Transfers, Rejections: ns.Rejections}
	return s
}

// ImportSnapshot replaces the world state. The world resumes at the tick after the snapshot.
// Must be called before Run.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("snapshot version %d unsupported", s.Header.Version)
	}
	if s.TickRate != w.cfg.TickRateHz {
		return fmt.Errorf("snapshot tick_rate_hz mismatch: cfg=%d snap=%d", w.cfg.TickRateHz, s.TickRate)
	}
	if s.ItemSpeed != w.cfg.ItemSpeed {
		return fmt.Errorf("snapshot item_speed mismatch: cfg=%v snap=%v", w.cfg.ItemSpeed, s.ItemSpeed)
	}

	machines := map[string]*machine.Machine{}
	for _, mv := range s.Machines {
		m := &machine.Machine{
			Kind:         machine.Kind(mv.Kind),
			Box:          geom.Box{Min: geom.FromArray(mv.Min), Max: geom.FromArray(mv.Max)},
			Accepts:      append([]string(nil), mv.Accepts...),
			SlotCapacity: mv.SlotCapacity,
			Emits:        mv.Emits,
			EmitEvery:    mv.EmitEvery,
			Inventory:    map[string]int{},
			Received:     mv.Received,
			Emitted:      mv.Emitted,
		}
		for _, p := range mv.Ports {
			m.Ports = append(m.Ports, geom.FromArray(p))
		}
		for k, v := range mv.Inventory {
			m.Inventory[k] = v
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("snapshot machine %s: %w", m.ID(), err)
		}
		if _, dup := machines[m.ID()]; dup {
			return fmt.Errorf("snapshot machine %s duplicated", m.ID())
		}
		machines[m.ID()] = m
	}

	states := make([]conveyor.NodeState, 0, len(s.Nodes))
	for _, nv := range s.Nodes {
		st := conveyor.NodeState{
			Pos:          geom.FromArray(nv.Pos),
			Inputs:       geom.DirFlags(nv.Inputs),
			Outputs:      geom.DirFlags(nv.Outputs),
			MachineID:    nv.MachineID,
			LastRouted:   geom.Direction(nv.LastRouted),
			LastAdmitted: geom.Direction(nv.LastAdmitted),
			Reserved:     nv.Reserved,
			ReservedFrom: geom.Direction(nv.ReservedFrom),
		}
		for _, sv := range nv.Segments {
			seg := conveyor.SegmentState{Dir: geom.Direction(sv.Dir), Admitted: sv.Admitted}
			for _, it := range sv.Items {
				seg.Items = append(seg.Items, conveyor.Item{Kind: it.Kind, Distance: it.Distance})
			}
			st.Segments = append(st.Segments, seg)
		}
		states = append(states, st)
	}

	net := conveyor.New(conveyor.Config{ItemSpeed: w.cfg.ItemSpeed, Logger: w.log, Hooks: w.hooks()})
	err := net.Import(states, func(id string) (conveyor.Machine, bool) {
		m, ok := machines[id]
		return m, ok
	})
	if err != nil {
		return err
	}
	net.RestoreStats(conveyor.Stats{
		Placed: s.Stats.Placed, Consumed: s.Stats.Consumed, Evicted: s.Stats.Evicted,
		Transfers: s.Stats.Transfers, Rejections: s.Stats.Rejections,
	})

	objects := newIndex(w.cfg.SpatialCellSize)
	conveyors := map[geom.Vec3i]struct{}{}
	for _, m := range machines {
		objects.Insert(m.ID(), m.Box)
	}
	for _, a := range s.Conveyors {
		p := geom.FromArray(a)
		if _, ok := net.Node(p); !ok {
			return fmt.Errorf("snapshot conveyor %v has no node", p)
		}
		conveyors[p] = struct{}{}
		objects.Insert(conveyorID(p), geom.TileBox(p))
	}

	parcels := map[string]*Parcel{}
	parcelIndex := newIndex(w.cfg.SpatialCellSize)
	for _, pv := range s.Parcels {
		pc := &Parcel{ID: pv.ID, Box: geom.Box{Min: geom.FromArray(pv.Min), Max: geom.FromArray(pv.Max)}.Normalize(), Restricted: pv.Restricted, Owner: pv.Owner}
		parcels[pc.ID] = pc
		parcelIndex.Insert(pc.ID, pc.Box)
	}

	w.net = net
	w.machines = machines
	w.objects = objects
	w.conveyors = conveyors
	w.parcels = parcels
	w.parcelIndex = parcelIndex
	w.nextParcel = s.Counters.NextParcel
	w.tick.Store(s.Header.Tick + 1)
	w.publishMetrics(s.Header.Tick, s.Header.Digest)
	return nil
}
