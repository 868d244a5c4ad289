// Package indexdb mirrors the tick log, audit trail and snapshot catalogue into a
// queryable SQLite database. The JSONL logs remain the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"beltworks.ai/internal/persistence/snapshot"
	"beltworks.ai/internal/sim/factory"
	"beltworks.ai/internal/sim/geom"
	"beltworks.ai/internal/sim/machine"
	"beltworks.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick          atomic.Uint64
	dropAudit         atomic.Uint64
	dropSnapshot      atomic.Uint64
	dropSnapshotState atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqSnapshotState
)

type req struct {
	kind reqKind

	tick     factory.TickLogEntry
	audit    factory.AuditEntry
	snapshot snapshotRow
	machines []machineRow
}

type snapshotRow struct {
	Tick      uint64
	Path      string
	Digest    string
	Nodes     int
	Conveyors int
	Machines  int
	Parcels   int
	Live      int
}

type machineRow struct {
	Tick      uint64
	MachineID string
	Kind      string
	Received  uint64
	Emitted   uint64
	Inventory string
}

// Stats reports writer queue health.
type Stats struct {
	QueueDepth             int    `json:"queue_depth"`
	QueueCapacity          int    `json:"queue_capacity"`
	DropTickTotal          uint64 `json:"drop_tick_total"`
	DropAuditTotal         uint64 `json:"drop_audit_total"`
	DropSnapshotTotal      uint64 `json:"drop_snapshot_total"`
	DropSnapshotStateTotal uint64 `json:"drop_snapshot_state_total"`
}

// SnapshotRecord is one row of the snapshot catalogue.
type SnapshotRecord struct {
	Tick   uint64
	Path   string
	Digest string
	RunID  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: uuid.NewString(),
		// High buffer: allow bursty audit writes (e.g. a sweep evicting many items) without stalling the sim.
		ch: make(chan req, 262144),
	}
	if _, err := db.Exec(`INSERT INTO runs(run_id,started_at) VALUES(?,?)`, s.runID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			commands INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			op TEXT NOT NULL,
			cmd_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_session_tick ON commands(session_id, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			item TEXT,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos_tick ON audits(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			run_id TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			conveyors INTEGER NOT NULL,
			machines INTEGER NOT NULL,
			parcels INTEGER NOT NULL,
			live_items INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS machine_state (
			tick INTEGER NOT NULL,
			machine_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			received INTEGER NOT NULL,
			emitted INTEGER NOT NULL,
			inventory_json TEXT NOT NULL,
			PRIMARY KEY (tick, machine_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) RunID() string { return s.runID }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:             len(s.ch),
		QueueCapacity:          cap(s.ch),
		DropTickTotal:          s.dropTick.Load(),
		DropAuditTotal:         s.dropAudit.Load(),
		DropSnapshotTotal:      s.dropSnapshot.Load(),
		DropSnapshotStateTotal: s.dropSnapshotState.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry factory.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqTick, tick: entry}, &s.dropTick)
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry factory.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.dropAudit)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	live := 0
	for _, n := range snap.Nodes {
		for _, seg := range n.Segments {
			live += len(seg.Items)
		}
	}
	r := snapshotRow{
		Tick:      snap.Header.Tick,
		Path:      path,
		Digest:    snap.Header.Digest,
		Nodes:     len(snap.Nodes),
		Conveyors: len(snap.Conveyors),
		Machines:  len(snap.Machines),
		Parcels:   len(snap.Parcels),
		Live:      live,
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

// RecordSnapshotState stores per-machine counters and inventory as of the snapshot tick.
func (s *SQLiteIndex) RecordSnapshotState(snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	rows := make([]machineRow, 0, len(snap.Machines))
	for _, m := range snap.Machines {
		inv := m.Inventory
		if inv == nil {
			inv = map[string]int{}
		}
		b, _ := json.Marshal(inv)
		rows = append(rows, machineRow{
			Tick:      snap.Header.Tick,
			MachineID: machine.FormatID(machine.Kind(m.Kind), geom.FromArray(m.Min)),
			Kind:      m.Kind,
			Received:  m.Received,
			Emitted:   m.Emitted,
			Inventory: string(b),
		})
	}
	s.enqueue(req{kind: reqSnapshotState, machines: rows}, &s.dropSnapshotState)
}

// UpsertTuning stores the applied tuning as canonical JSON with its digest.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	kv := [][2]string{
		{"schema_version", "1"},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
	}
	for _, r := range kv {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestSnapshot returns the highest-tick snapshot recorded, or ok=false if there is none.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (rec SnapshotRecord, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT tick,path,digest,run_id FROM snapshots ORDER BY tick DESC LIMIT 1`)
	var tick int64
	if err := row.Scan(&tick, &rec.Path, &rec.Digest, &rec.RunID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SnapshotRecord{}, false, nil
		}
		return SnapshotRecord{}, false, err
	}
	rec.Tick = uint64(tick)
	return rec, true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,commands,raw_json) VALUES(?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(tick,seq,session_id,op,cmd_json) VALUES(?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,x,y,z,item,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,digest,run_id,nodes,conveyors,machines,parcels,live_items) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertMachine, _ := s.db.Prepare(`INSERT OR REPLACE INTO machine_state(tick,machine_id,kind,received,emitted,inventory_json) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertCommand, insertAudit, insertSnapshot, insertMachine} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			b, _ := json.Marshal(r.tick)
			if !exec(insertTick, int64(r.tick.Tick), r.tick.Digest, len(r.tick.Commands), string(b)) {
				continue
			}
			for i, c := range r.tick.Commands {
				cmdJSON, _ := json.Marshal(c.Cmd)
				if !exec(insertCommand, int64(r.tick.Tick), i, c.SessionID, c.Cmd.Op, string(cmdJSON)) {
					break
				}
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			exec(insertAudit, int64(a.Tick), seq, a.Actor, a.Action, a.Pos[0], a.Pos[1], a.Pos[2], a.Item, a.Reason, string(raw))

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Digest, s.runID, sn.Nodes, sn.Conveyors, sn.Machines, sn.Parcels, sn.Live)

		case reqSnapshotState:
			for _, m := range r.machines {
				if !exec(insertMachine, int64(m.Tick), m.MachineID, m.Kind, int64(m.Received), int64(m.Emitted), m.Inventory) {
					break
				}
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
