package factory

import (
	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/conveyor"
	"beltworks.ai/internal/sim/geom"
)

// systemEmit lets every due machine push at most one item onto the first port lane with room.
func (w *World) systemEmit(nowTick uint64) {
	for _, id := range w.sortedMachineIDs() {
		m := w.machines[id]
		if !m.Due(nowTick) {
			continue
		}
		kind := m.NextEmit()
		if kind == "" {
			continue
		}
	ports:
		for _, p := range m.Ports {
			for _, d := range geom.Directions {
				if !w.net.PlaceItem(p, d, kind) {
					continue
				}
				m.Take(kind)
				w.event(protocol.Event{Kind: protocol.EventEmit, Pos: p.ToArray(), Dir: d.String(), Item: kind, MachineID: id})
				break ports
			}
		}
	}
}

func (w *World) hooks() conveyor.Hooks {
	return conveyor.Hooks{
		OnEvict: func(p geom.Vec3i, d geom.Direction, it conveyor.Item, reason string) {
			w.event(protocol.Event{Kind: protocol.EventEvict, Pos: p.ToArray(), Dir: d.String(), Item: it.Kind, Reason: reason})
			w.audit(AuditEntry{Tick: w.tick.Load(), Actor: w.actor, Action: protocol.EventEvict, Pos: p.ToArray(), Item: it.Kind, Reason: reason})
		},
		OnConsume: func(p geom.Vec3i, machineID string, it conveyor.Item) {
			w.event(protocol.Event{Kind: protocol.EventConsume, Pos: p.ToArray(), Item: it.Kind, MachineID: machineID})
		},
		OnIllegalLink: func(from, to geom.Vec3i, reason string) {
			t := to.ToArray()
			w.event(protocol.Event{Kind: protocol.EventIllegalLink, Pos: from.ToArray(), To: &t, Reason: reason})
			w.audit(AuditEntry{Tick: w.tick.Load(), Actor: w.actor, Action: conveyor.EvictIllegal, Pos: from.ToArray(), To: &t, Reason: reason})
		},
		OnReject: func(geom.Vec3i, geom.Direction, conveyor.Item, error) {
			w.blocked++
		},
		OnLink: func(from, to geom.Vec3i) {
			t := to.ToArray()
			ev := protocol.Event{Kind: protocol.EventMachineLink, Pos: from.ToArray(), To: &t}
			if m := w.machineAt(to); m != nil {
				ev.MachineID = m.ID()
			} else if m := w.machineAt(from); m != nil {
				ev.MachineID = m.ID()
			}
			w.event(ev)
		},
	}
}

func (w *World) event(e protocol.Event) { w.events = append(w.events, e) }

func (w *World) audit(e AuditEntry) {
	if w.auditLogger == nil {
		return
	}
	if err := w.auditLogger.WriteAudit(e); err != nil {
		w.logf("audit log: %v", err)
	}
}

type rateWindow struct {
	start uint64
	count int
}

// allowCommand applies the per-session fixed-window command limit.
func (w *World) allowCommand(sessionID string, nowTick uint64) bool {
	rl := w.cfg.RateLimits
	if rl.CommandMax <= 0 || rl.CommandWindowTicks <= 0 || sessionID == "" {
		return true
	}
	rw := w.rate[sessionID]
	if rw == nil {
		rw = &rateWindow{start: nowTick}
		w.rate[sessionID] = rw
	}
	if nowTick-rw.start >= uint64(rl.CommandWindowTicks) {
		rw.start = nowTick
		rw.count = 0
	}
	if rw.count >= rl.CommandMax {
		return false
	}
	rw.count++
	return true
}

// Metrics is a point-in-time summary published after every tick. Safe to read from
// any goroutine.
type Metrics struct {
	Tick     uint64         `json:"tick"`
	Digest   string         `json:"digest"`
	Nodes    int            `json:"nodes"`
	Machines int            `json:"machines"`
	Parcels  int            `json:"parcels"`
	Sessions int            `json:"sessions"`
	Live     int            `json:"live"`
	Blocked  int            `json:"blocked"` // transfers refused during the tick
	Stats    conveyor.Stats `json:"stats"`
}

func (w *World) publishMetrics(tick uint64, digest string) {
	w.metrics.Store(&Metrics{
		Tick:     tick,
		Digest:   digest,
		Nodes:    w.net.NodeCount(),
		Machines: len(w.machines),
		Parcels:  len(w.parcels),
		Sessions: len(w.clients),
		Live:     w.net.Live(),
		Blocked:  w.blocked,
		Stats:    w.net.Stats(),
	})
}

func (w *World) Metrics() Metrics {
	if m := w.metrics.Load(); m != nil {
		return *m
	}
	return Metrics{}
}

func (w *World) networkStats() protocol.NetworkStats {
	s := w.net.Stats()
	return protocol.NetworkStats{
		Nodes:      w.net.NodeCount(),
		Machines:   len(w.machines),
		Live:       w.net.Live(),
		Placed:     s.Placed,
		Consumed:   s.Consumed,
		Evicted:    s.Evicted,
		Transfers:  s.Transfers,
		Rejections: s.Rejections,
	}
}
