// Package machine holds the inventory-bearing structures conveyors feed into and
// draw from.
package machine

import (
	"errors"
	"fmt"
	"sort"

	"beltworks.ai/internal/sim/geom"
)

type Kind string

const (
	// KindSource emits one item of Emits every EmitEvery ticks and accepts nothing.
	KindSource Kind = "SOURCE"
	// KindSink consumes anything it accepts without limit.
	KindSink Kind = "SINK"
	// KindStorage buffers up to SlotCapacity items per kind and re-emits them.
	KindStorage Kind = "STORAGE"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSource, KindSink, KindStorage:
		return true
	}
	return false
}

var (
	ErrUnknownKind  = errors.New("machine: unknown kind")
	ErrBadFootprint = errors.New("machine: bad footprint")
	ErrBadPort      = errors.New("machine: port outside footprint")
	ErrBadEmitter   = errors.New("machine: emitter needs an item and a period")
)

type Stack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Machine is the authoritative inventory state of one placed structure.
// It is included in snapshots.
type Machine struct {
	Kind  Kind
	Box   geom.Box
	Ports []geom.Vec3i

	// Accepts limits which kinds TryAcceptItem takes; empty accepts all.
	Accepts      []string
	SlotCapacity int

	Emits     string
	EmitEvery uint64

	Inventory map[string]int
	Received  uint64
	Emitted   uint64
}

func (m *Machine) ID() string { return FormatID(m.Kind, m.Box.Min) }

// Validate normalizes the machine and checks it is placeable.
func (m *Machine) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	m.Box = m.Box.Normalize()
	if m.Box.Min.Y != m.Box.Max.Y {
		return fmt.Errorf("%w: spans layers %d..%d", ErrBadFootprint, m.Box.Min.Y, m.Box.Max.Y)
	}
	if len(m.Ports) == 0 {
		return fmt.Errorf("%w: no ports", ErrBadPort)
	}
	seen := map[geom.Vec3i]bool{}
	for _, p := range m.Ports {
		if !m.Box.Contains(p) {
			return fmt.Errorf("%w: %v", ErrBadPort, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: duplicate %v", ErrBadPort, p)
		}
		seen[p] = true
	}
	geom.SortPositions(m.Ports)
	if m.Kind == KindSource && (m.Emits == "" || m.EmitEvery == 0) {
		return ErrBadEmitter
	}
	if m.SlotCapacity < 0 {
		m.SlotCapacity = 0
	}
	if m.Inventory == nil {
		m.Inventory = map[string]int{}
	}
	return nil
}

func (m *Machine) IsPort(p geom.Vec3i) bool {
	for _, q := range m.Ports {
		if q == p {
			return true
		}
	}
	return false
}

func (m *Machine) accepts(kind string) bool {
	if len(m.Accepts) == 0 {
		return true
	}
	for _, k := range m.Accepts {
		if k == kind {
			return true
		}
	}
	return false
}

// TryAcceptItem increments the matching inventory slot, reporting false when the
// machine does not take kind or the slot is full.
func (m *Machine) TryAcceptItem(kind string) bool {
	if kind == "" || m.Kind == KindSource || !m.accepts(kind) {
		return false
	}
	if m.SlotCapacity > 0 && m.Inventory[kind] >= m.SlotCapacity {
		return false
	}
	if m.Inventory == nil {
		m.Inventory = map[string]int{}
	}
	m.Inventory[kind]++
	m.Received++
	return true
}

// Due reports whether the machine wants to emit on tick.
func (m *Machine) Due(tick uint64) bool {
	switch m.Kind {
	case KindSource:
		return m.EmitEvery > 0 && tick%m.EmitEvery == 0
	case KindStorage:
		return m.NextEmit() != ""
	}
	return false
}

// NextEmit is the kind the machine would put on a belt next, or "".
func (m *Machine) NextEmit() string {
	switch m.Kind {
	case KindSource:
		return m.Emits
	case KindStorage:
		return PickAvailableItem(m.Inventory, func(item string) int { return m.Inventory[item] })
	}
	return ""
}

// Take records one emitted item, drawing it from storage when the machine buffers.
func (m *Machine) Take(kind string) bool {
	switch m.Kind {
	case KindSource:
		if kind != m.Emits {
			return false
		}
	case KindStorage:
		if m.Inventory[kind] <= 0 {
			return false
		}
		m.Inventory[kind]--
		if m.Inventory[kind] == 0 {
			delete(m.Inventory, kind)
		}
	default:
		return false
	}
	m.Emitted++
	return true
}

func (m *Machine) InventoryList() []Stack {
	out := make([]Stack, 0, len(m.Inventory))
	for item, n := range m.Inventory {
		if n <= 0 {
			continue
		}
		out = append(out, Stack{Item: item, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

func (m *Machine) Clone() *Machine {
	c := *m
	c.Ports = append([]geom.Vec3i(nil), m.Ports...)
	c.Accepts = append([]string(nil), m.Accepts...)
	c.Inventory = make(map[string]int, len(m.Inventory))
	for k, v := range m.Inventory {
		c.Inventory[k] = v
	}
	return &c
}

// PickAvailableItem returns the lexically smallest item with a positive available count.
func PickAvailableItem(inventory map[string]int, availableCount func(string) int) string {
	if len(inventory) == 0 || availableCount == nil {
		return ""
	}
	keys := make([]string, 0, len(inventory))
	for item, n := range inventory {
		if item == "" || n <= 0 {
			continue
		}
		if availableCount(item) <= 0 {
			continue
		}
		keys = append(keys, item)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}
