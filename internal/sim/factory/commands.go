package factory

import (
	"errors"
	"fmt"

	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/conveyor"
	"beltworks.ai/internal/sim/geom"
	"beltworks.ai/internal/sim/machine"
)

var (
	ErrBadCommand     = errors.New("factory: bad command")
	ErrOccupied       = errors.New("factory: tile occupied")
	ErrNoParcel       = errors.New("factory: tile not covered by a parcel")
	ErrRestricted     = errors.New("factory: tile on a restricted parcel")
	ErrNotConveyor    = errors.New("factory: no placed conveyor at position")
	ErrUnknownMachine = errors.New("factory: unknown machine")
	ErrIllegalLink    = errors.New("factory: link not permitted")
	ErrItemBlocked    = errors.New("factory: no room for item")
)

// codeFor maps a command failure onto its wire error code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrOccupied), errors.Is(err, conveyor.ErrMachineBound):
		return protocol.ErrConflict
	case errors.Is(err, ErrNoParcel), errors.Is(err, ErrRestricted):
		return protocol.ErrNoPermission
	case errors.Is(err, ErrNotConveyor), errors.Is(err, ErrUnknownMachine),
		errors.Is(err, conveyor.ErrNoNode), errors.Is(err, conveyor.ErrNotLinked):
		return protocol.ErrInvalidTarget
	case errors.Is(err, ErrIllegalLink), errors.Is(err, ErrItemBlocked):
		return protocol.ErrBlocked
	case errors.Is(err, ErrBadCommand), errors.Is(err, conveyor.ErrInvalidLink),
		errors.Is(err, machine.ErrUnknownKind), errors.Is(err, machine.ErrBadFootprint),
		errors.Is(err, machine.ErrBadPort), errors.Is(err, machine.ErrBadEmitter):
		return protocol.ErrBadRequest
	}
	return protocol.ErrInternal
}

func (w *World) applyCommand(sessionID string, cmd protocol.Command, nowTick uint64) protocol.CommandResult {
	w.actor = sessionID
	ref, err := w.dispatch(cmd)
	if err != nil {
		return protocol.CommandResult{ID: cmd.ID, Code: codeFor(err), Message: err.Error()}
	}
	e := AuditEntry{Tick: nowTick, Actor: sessionID, Action: cmd.Op, Pos: cmd.Pos, Item: cmd.Item, Reason: ref}
	if cmd.Op == protocol.OpLink || cmd.Op == protocol.OpUnlink {
		to := cmd.To
		e.To = &to
	}
	w.audit(e)
	return protocol.CommandResult{ID: cmd.ID, OK: true, Ref: ref}
}

func (w *World) dispatch(cmd protocol.Command) (string, error) {
	pos := geom.FromArray(cmd.Pos)
	switch cmd.Op {
	case protocol.OpPlaceConveyor:
		return conveyorID(pos), w.placeConveyor(pos)
	case protocol.OpLink:
		return "", w.link(pos, geom.FromArray(cmd.To))
	case protocol.OpUnlink:
		return "", w.net.Unlink(pos, geom.FromArray(cmd.To))
	case protocol.OpDemolish:
		return "", w.demolishConveyor(pos)
	case protocol.OpPlaceMachine:
		return w.placeMachine(machineFromCommand(cmd))
	case protocol.OpRemoveMachine:
		return cmd.MachineID, w.removeMachine(cmd.MachineID)
	case protocol.OpPlaceItem:
		return "", w.placeItem(pos, cmd.Dir, cmd.Item)
	case protocol.OpAddParcel:
		return w.addParcel(geom.BoxAt(pos, cmd.Size[0], cmd.Size[1]), cmd.Restricted, cmd.Owner)
	case "":
		return "", fmt.Errorf("%w: missing op", ErrBadCommand)
	}
	return "", fmt.Errorf("%w: unknown op %q", ErrBadCommand, cmd.Op)
}

func machineFromCommand(cmd protocol.Command) *machine.Machine {
	m := &machine.Machine{
		Kind:         machine.Kind(cmd.Kind),
		Box:          geom.BoxAt(geom.FromArray(cmd.Pos), cmd.Size[0], cmd.Size[1]),
		Accepts:      append([]string(nil), cmd.Accepts...),
		SlotCapacity: cmd.Capacity,
		Emits:        cmd.Item,
		EmitEvery:    cmd.EmitEvery,
	}
	for _, p := range cmd.Ports {
		m.Ports = append(m.Ports, geom.FromArray(p))
	}
	return m
}

func (w *World) placeItem(p geom.Vec3i, dir, kind string) error {
	if kind == "" {
		return fmt.Errorf("%w: item kind required", ErrBadCommand)
	}
	d, err := geom.ParseDirection(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	nd, ok := w.net.Node(p)
	if !ok {
		return fmt.Errorf("%w: %v", conveyor.ErrNoNode, p)
	}
	if nd.Segment(d) == nil {
		return fmt.Errorf("%w: %v has no output %v", conveyor.ErrNotLinked, p, d)
	}
	if !w.net.PlaceItem(p, d, kind) {
		return fmt.Errorf("%w: %v %v", ErrItemBlocked, p, d)
	}
	return nil
}
