package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"beltworks.ai/internal/persistence/indexdb"
	"beltworks.ai/internal/persistence/snapshot"
	"beltworks.ai/internal/sim/factory"
	"beltworks.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	factory.TickLogger
	factory.AuditLogger
	Close() error
	UpsertTuning(t tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordSnapshotState(snap snapshot.SnapshotV1)
	LatestSnapshot(ctx context.Context) (indexdb.SnapshotRecord, bool, error)
	Stats() indexdb.Stats
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported BW_INDEX_BACKEND: %s", backend)
	}
}

func indexGauges(idx runtimeIndex) func() map[string]float64 {
	if idx == nil {
		return nil
	}
	return func() map[string]float64 {
		s := idx.Stats()
		return map[string]float64{
			"index_queue_depth":    float64(s.QueueDepth),
			"index_queue_capacity": float64(s.QueueCapacity),
			"index_dropped_total":  float64(s.DropTickTotal + s.DropAuditTotal + s.DropSnapshotTotal + s.DropSnapshotStateTotal),
		}
	}
}

type multiTickLogger struct {
	a factory.TickLogger
	b factory.TickLogger
}

func (m multiTickLogger) WriteTick(entry factory.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a factory.AuditLogger
	b factory.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry factory.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
