// Package factory is the authoritative factory world: it owns the conveyor network,
// the machines and parcels it is built on, and advances them on a fixed tick.
package factory

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"beltworks.ai/internal/persistence/snapshot"
	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/conveyor"
	"beltworks.ai/internal/sim/geom"
	"beltworks.ai/internal/sim/machine"
	"beltworks.ai/internal/sim/spatial"
	"beltworks.ai/internal/sim/tuning"
)

type Config struct {
	ID                 string
	TickRateHz         int
	ItemSpeed          float64
	SpatialCellSize    int
	SnapshotEveryTicks int
	CommandQueue       int
	MaxCommandsPerTick int
	RateLimits         RateLimitConfig
}

type RateLimitConfig struct {
	CommandWindowTicks int
	CommandMax         int
}

func ConfigFromTuning(id string, t tuning.Tuning) Config {
	return Config{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		ItemSpeed:          t.ItemSpeed,
		SpatialCellSize:    t.SpatialCellSize,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		CommandQueue:       t.CommandQueue,
		MaxCommandsPerTick: t.MaxCommandsPerTick,
		RateLimits: RateLimitConfig{
			CommandWindowTicks: t.RateLimits.CommandWindowTicks,
			CommandMax:         t.RateLimits.CommandMax,
		},
	}
}

func (c *Config) applyDefaults() {
	d := tuning.Defaults()
	if c.ID == "" {
		c.ID = "factory_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.ItemSpeed <= 0 {
		c.ItemSpeed = d.ItemSpeed
	}
	if c.SpatialCellSize <= 0 {
		c.SpatialCellSize = d.SpatialCellSize
	}
	if c.CommandQueue <= 0 {
		c.CommandQueue = d.CommandQueue
	}
	if c.MaxCommandsPerTick <= 0 {
		c.MaxCommandsPerTick = d.MaxCommandsPerTick
	}
}

type JoinRequest struct {
	SessionID string
	Name      string
	Stream    bool
	Out       chan []byte
	Resp      chan protocol.WelcomeMsg
}

// CommandEnvelope is one command as received from a session.
type CommandEnvelope struct {
	SessionID string
	Cmd       protocol.Command
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Digest   string            `json:"digest"`
}

type RecordedCommand struct {
	SessionID string           `json:"session_id"`
	Cmd       protocol.Command `json:"cmd"`
}

type AuditEntry struct {
	Tick   uint64  `json:"tick"`
	Actor  string  `json:"actor"`
	Action string  `json:"action"` // e.g. "LINK", "EVICT"
	Pos    [3]int  `json:"pos"`
	To     *[3]int `json:"to,omitempty"`
	Item   string  `json:"item,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

type clientState struct {
	Out    chan []byte
	Stream bool
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg Config
	log *log.Logger

	tick atomic.Uint64

	net      *conveyor.Network
	machines map[string]*machine.Machine
	// objects holds every placed conveyor tile and machine footprint.
	objects     *spatial.Index[string]
	conveyors   map[geom.Vec3i]struct{}
	parcels     map[string]*Parcel
	parcelIndex *spatial.Index[string]
	nextParcel  uint64

	clients map[string]*clientState
	rate    map[string]*rateWindow

	inbox chan CommandEnvelope
	join  chan JoinRequest
	leave chan string
	stop  chan struct{}

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	// Per-tick scratch filled by network hooks and command handlers.
	actor   string
	events  []protocol.Event
	blocked int

	metrics atomic.Pointer[Metrics]
}

func New(cfg Config, logger *log.Logger) *World {
	cfg.applyDefaults()
	w := &World{
		cfg:         cfg,
		log:         logger,
		machines:    map[string]*machine.Machine{},
		objects:     newIndex(cfg.SpatialCellSize),
		conveyors:   map[geom.Vec3i]struct{}{},
		parcels:     map[string]*Parcel{},
		parcelIndex: newIndex(cfg.SpatialCellSize),
		clients:     map[string]*clientState{},
		rate:        map[string]*rateWindow{},
		inbox:       make(chan CommandEnvelope, cfg.CommandQueue),
		join:        make(chan JoinRequest, 64),
		leave:       make(chan string, 64),
		stop:        make(chan struct{}),
	}
	w.net = conveyor.New(conveyor.Config{ItemSpeed: cfg.ItemSpeed, Logger: logger, Hooks: w.hooks()})
	w.publishMetrics(0, "")
	return w
}

func newIndex(cellSize int) *spatial.Index[string] { return spatial.New[string](cellSize) }

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- CommandEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest      { return w.join }
func (w *World) Leave() chan<- string          { return w.leave }

func (w *World) ID() string          { return w.cfg.ID }
func (w *World) TickRateHz() int     { return w.cfg.TickRateHz }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Network exposes the conveyor state for inspection. Callers must be on the world goroutine.
func (w *World) Network() *conveyor.Network { return w.net }

// Machine returns a copy of the machine's current state.
func (w *World) Machine(id string) (*machine.Machine, bool) {
	m, ok := w.machines[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

func (w *World) Params() protocol.WorldParams {
	return protocol.WorldParams{
		TickRateHz:      w.cfg.TickRateHz,
		ItemSpeed:       w.cfg.ItemSpeed,
		QueueDistance:   conveyor.QueueDistance,
		MinItemDistance: conveyor.MinItemDistance,
	}
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingCmds []CommandEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingCmds = append(pendingCmds, env)
		case <-ticker.C:
			// Commands beyond the per-tick budget wait for the next tick.
			n := len(pendingCmds)
			if n > w.cfg.MaxCommandsPerTick {
				n = w.cfg.MaxCommandsPerTick
			}
			w.step(pendingJoins, pendingLeaves, pendingCmds[:n])
			pendingCmds = append(pendingCmds[:0], pendingCmds[n:]...)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(cmds []CommandEnvelope) (tick uint64, results []protocol.CommandResult, digest string) {
	tick = w.tick.Load()
	results = w.step(nil, nil, cmds)
	return tick, results, w.stateDigest(tick)
}

func (w *World) step(joins []JoinRequest, leaves []string, cmds []CommandEnvelope) []protocol.CommandResult {
	nowTick := w.tick.Load()
	w.events = w.events[:0]

	for _, id := range leaves {
		delete(w.clients, id)
		delete(w.rate, id)
	}
	for _, req := range joins {
		w.clients[req.SessionID] = &clientState{Out: req.Out, Stream: req.Stream}
		if req.Resp != nil {
			req.Resp <- protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				SessionID:       req.SessionID,
				WorldID:         w.cfg.ID,
				Tick:            nowTick,
				WorldParams:     w.Params(),
			}
		}
	}

	// Apply commands in server receive order (the inbox order).
	recorded := make([]RecordedCommand, 0, len(cmds))
	results := make([]protocol.CommandResult, 0, len(cmds))
	acks := map[string][]protocol.CommandResult{}
	for _, env := range cmds {
		var res protocol.CommandResult
		if !w.allowCommand(env.SessionID, nowTick) {
			res = protocol.CommandResult{ID: env.Cmd.ID, Code: protocol.ErrRateLimit, Message: "too many commands"}
		} else {
			recorded = append(recorded, RecordedCommand{SessionID: env.SessionID, Cmd: env.Cmd})
			res = w.applyCommand(env.SessionID, env.Cmd, nowTick)
		}
		results = append(results, res)
		acks[env.SessionID] = append(acks[env.SessionID], res)
	}

	w.actor = "WORLD"
	w.blocked = 0
	w.systemEmit(nowTick)
	w.net.Tick(1 / float64(w.cfg.TickRateHz))

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Commands: recorded, Digest: digest}); err != nil {
			w.logf("tick log: %v", err)
		}
	}
	w.publishMetrics(nowTick, digest)
	w.broadcast(nowTick, digest, acks)

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && nowTick != 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(nowTick)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
			w.logf("snapshot sink full; dropped tick %d", nowTick)
		}
	}

	w.tick.Add(1)
	return results
}

func (w *World) broadcast(nowTick uint64, digest string, acks map[string][]protocol.CommandResult) {
	var tickMsg []byte
	for id, cl := range w.clients {
		if res := acks[id]; len(res) > 0 {
			b, err := json.Marshal(protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, Tick: nowTick, Results: res})
			if err == nil {
				sendLatest(cl.Out, b)
			}
		}
		if !cl.Stream {
			continue
		}
		if tickMsg == nil {
			b, err := json.Marshal(protocol.TickMsg{
				Type:            protocol.TypeTick,
				ProtocolVersion: protocol.Version,
				Tick:            nowTick,
				Digest:          digest,
				Stats:           w.networkStats(),
				Events:          w.events,
			})
			if err != nil {
				continue
			}
			tickMsg = b
		}
		sendLatest(cl.Out, tickMsg)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}
