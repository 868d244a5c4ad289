package factory

import (
	"fmt"
	"sort"

	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/conveyor"
	"beltworks.ai/internal/sim/geom"
	"beltworks.ai/internal/sim/machine"
)

// Footprints larger than this on either axis are refused.
const maxFootprintSide = 256

// Parcel is a rectangular build permit. Once any parcel exists, new structures must
// sit entirely on parcels; links may not touch a restricted one.
type Parcel struct {
	ID         string
	Box        geom.Box
	Restricted bool
	Owner      string
}

func conveyorID(p geom.Vec3i) string {
	return fmt.Sprintf("CONVEYOR@%d,%d,%d", p.X, p.Y, p.Z)
}

// checkParcels requires every tile of box to be covered by a parcel, none restricted.
// It passes trivially while no parcels exist.
func (w *World) checkParcels(box geom.Box) error {
	if w.parcelIndex.Len() == 0 {
		return nil
	}
	candidates := w.parcelIndex.QueryOverlap(box)
	for _, t := range box.Tiles() {
		covered := false
		for _, id := range candidates {
			pc := w.parcels[id]
			if !pc.Box.Contains(t) {
				continue
			}
			if pc.Restricted {
				return fmt.Errorf("%w: %v in %s", ErrRestricted, t, id)
			}
			covered = true
		}
		if !covered {
			return fmt.Errorf("%w: %v", ErrNoParcel, t)
		}
	}
	return nil
}

func (w *World) restricted(p geom.Vec3i) bool {
	for _, id := range w.parcelIndex.QueryPoint(p) {
		if w.parcels[id].Restricted {
			return true
		}
	}
	return false
}

// machineAt returns the machine whose footprint covers p.
func (w *World) machineAt(p geom.Vec3i) *machine.Machine {
	for _, id := range w.objects.QueryPoint(p) {
		if m := w.machines[id]; m != nil {
			return m
		}
	}
	return nil
}

// linkRule is the topology legality check shared by LINK and the sweeps.
func (w *World) linkRule(from, to geom.Vec3i) (bool, string) {
	mf, mt := w.machineAt(from), w.machineAt(to)
	if mf != nil && mf == mt {
		return false, "both ends inside " + mf.ID()
	}
	if mf != nil && !mf.IsPort(from) {
		return false, fmt.Sprintf("%v is not a port of %s", from, mf.ID())
	}
	if mt != nil && !mt.IsPort(to) {
		return false, fmt.Sprintf("%v is not a port of %s", to, mt.ID())
	}
	if w.restricted(from) || w.restricted(to) {
		return false, "restricted parcel"
	}
	return true, ""
}

// sweep re-validates links around positions and forgets conveyors the network pruned.
func (w *World) sweep(positions []geom.Vec3i) {
	for _, p := range w.net.Sweep(positions, w.linkRule) {
		if _, ok := w.conveyors[p]; ok {
			delete(w.conveyors, p)
			w.objects.Remove(conveyorID(p))
		}
		w.event(protocol.Event{Kind: protocol.EventNodeRemoved, Pos: p.ToArray(), Reason: "ORPHAN"})
	}
}

func (w *World) placeConveyor(p geom.Vec3i) error {
	id := conveyorID(p)
	box := geom.TileBox(p)
	if _, ok := w.conveyors[p]; ok || w.objects.Overlaps(id, box) {
		return fmt.Errorf("%w: %v", ErrOccupied, p)
	}
	if err := w.checkParcels(box); err != nil {
		return err
	}
	w.net.EnsureNode(p)
	w.objects.Insert(id, box)
	w.conveyors[p] = struct{}{}
	return nil
}

func (w *World) demolishConveyor(p geom.Vec3i) error {
	if _, ok := w.conveyors[p]; !ok {
		return fmt.Errorf("%w: %v", ErrNotConveyor, p)
	}
	w.net.Demolish(p)
	w.objects.Remove(conveyorID(p))
	delete(w.conveyors, p)
	return nil
}

func (w *World) link(a, b geom.Vec3i) error {
	if !geom.Adjacent(a, b) {
		return fmt.Errorf("%w: %v -> %v not adjacent", conveyor.ErrInvalidLink, a, b)
	}
	if ok, reason := w.linkRule(a, b); !ok {
		return fmt.Errorf("%w: %s", ErrIllegalLink, reason)
	}
	if err := w.net.Link(a, b); err != nil {
		return err
	}
	// A link to a machine re-validates every link of that machine.
	var tiles []geom.Vec3i
	for _, m := range []*machine.Machine{w.machineAt(a), w.machineAt(b)} {
		if m != nil {
			tiles = append(tiles, m.Box.Tiles()...)
		}
	}
	if len(tiles) > 0 {
		w.sweep(tiles)
	}
	return nil
}

// placeMachine claims the footprint, demolishing conveyors under it except those on
// ports, which become the machine's port nodes. Links that became illegal are swept.
func (w *World) placeMachine(m *machine.Machine) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.Box.Max.X-m.Box.Min.X >= maxFootprintSide || m.Box.Max.Z-m.Box.Min.Z >= maxFootprintSide {
		return "", fmt.Errorf("%w: footprint too large", ErrBadCommand)
	}
	id := m.ID()
	var covered []geom.Vec3i
	for _, owner := range w.objects.QueryOverlap(m.Box) {
		if owner == id || w.machines[owner] != nil {
			return "", fmt.Errorf("%w: %s overlaps %s", ErrOccupied, id, owner)
		}
		if r, ok := w.objects.Region(owner); ok {
			covered = append(covered, r.Min)
		}
	}
	if err := w.checkParcels(m.Box); err != nil {
		return "", err
	}

	geom.SortPositions(covered)
	for _, p := range covered {
		if _, ok := w.conveyors[p]; !ok {
			continue
		}
		if !m.IsPort(p) {
			w.net.Demolish(p)
			w.event(protocol.Event{Kind: protocol.EventNodeRemoved, Pos: p.ToArray(), MachineID: id, Reason: conveyor.EvictDemolish})
		}
		w.objects.Remove(conveyorID(p))
		delete(w.conveyors, p)
	}

	w.machines[id] = m
	w.objects.Insert(id, m.Box)
	for _, p := range m.Ports {
		w.net.EnsureNode(p)
		if err := w.net.BindMachine(p, m); err != nil {
			return "", fmt.Errorf("bind port %v: %w", p, err)
		}
	}
	w.sweep(m.Box.Tiles())
	return id, nil
}

// removeMachine demolishes the machine's port nodes and frees its footprint.
// Whatever it held is discarded.
func (w *World) removeMachine(id string) error {
	m := w.machines[id]
	if m == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMachine, id)
	}
	for _, p := range m.Ports {
		w.net.UnbindMachine(p)
		if w.net.Demolish(p) {
			w.event(protocol.Event{Kind: protocol.EventNodeRemoved, Pos: p.ToArray(), MachineID: id, Reason: conveyor.EvictDemolish})
		}
	}
	w.objects.Remove(id)
	delete(w.machines, id)
	return nil
}

func (w *World) addParcel(box geom.Box, restricted bool, owner string) (string, error) {
	box = box.Normalize()
	if box.Max.X-box.Min.X >= maxFootprintSide || box.Max.Z-box.Min.Z >= maxFootprintSide || box.Min.Y != box.Max.Y {
		return "", fmt.Errorf("%w: parcel too large", ErrBadCommand)
	}
	w.nextParcel++
	id := fmt.Sprintf("P%06d", w.nextParcel)
	w.parcels[id] = &Parcel{ID: id, Box: box, Restricted: restricted, Owner: owner}
	w.parcelIndex.Insert(id, box)

	if restricted {
		var inside []geom.Vec3i
		for _, p := range w.net.Positions() {
			if box.Contains(p) {
				inside = append(inside, p)
			}
		}
		w.sweep(inside)
	}
	return id, nil
}

func (w *World) sortedMachineIDs() []string {
	ids := make([]string, 0, len(w.machines))
	for id := range w.machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *World) sortedParcelIDs() []string {
	ids := make([]string, 0, len(w.parcels))
	for id := range w.parcels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
