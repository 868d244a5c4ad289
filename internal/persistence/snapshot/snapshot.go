package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
	Digest  string `json:"digest,omitempty"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	// Operational parameters (captured for deterministic replay/resume).
	TickRate           int     `json:"tick_rate_hz"`
	ItemSpeed          float64 `json:"item_speed"`
	SpatialCellSize    int     `json:"spatial_cell_size"`
	SnapshotEveryTicks int     `json:"snapshot_every_ticks,omitempty"`

	Nodes     []NodeV1    `json:"nodes"`
	Conveyors [][3]int    `json:"conveyors"`
	Machines  []MachineV1 `json:"machines"`
	Parcels   []ParcelV1  `json:"parcels"`

	Stats    StatsV1    `json:"stats"`
	Counters CountersV1 `json:"counters"`
}

type NodeV1 struct {
	Pos          [3]int      `json:"pos"`
	Inputs       uint8       `json:"inputs"`
	Outputs      uint8       `json:"outputs"`
	MachineID    string      `json:"machine_id,omitempty"`
	LastRouted   uint8       `json:"last_routed"`
	LastAdmitted uint8       `json:"last_admitted"`
	Reserved     bool        `json:"reserved,omitempty"`
	ReservedFrom uint8       `json:"reserved_from,omitempty"`
	Segments     []SegmentV1 `json:"segments,omitempty"`
}

type SegmentV1 struct {
	Dir      uint8    `json:"dir"`
	Admitted bool     `json:"admitted,omitempty"`
	Items    []ItemV1 `json:"items,omitempty"`
}

type ItemV1 struct {
	Kind     string  `json:"kind"`
	Distance float64 `json:"distance"`
}

type MachineV1 struct {
	Kind         string         `json:"kind"`
	Min          [3]int         `json:"min"`
	Max          [3]int         `json:"max"`
	Ports        [][3]int       `json:"ports"`
	Accepts      []string       `json:"accepts,omitempty"`
	SlotCapacity int            `json:"slot_capacity,omitempty"`
	Emits        string         `json:"emits,omitempty"`
	EmitEvery    uint64         `json:"emit_every,omitempty"`
	Inventory    map[string]int `json:"inventory,omitempty"`
	Received     uint64         `json:"received"`
	Emitted      uint64         `json:"emitted"`
}

type ParcelV1 struct {
	ID         string `json:"id"`
	Min        [3]int `json:"min"`
	Max        [3]int `json:"max"`
	Restricted bool   `json:"restricted,omitempty"`
	Owner      string `json:"owner,omitempty"`
}

type StatsV1 struct {
	Placed     uint64 `json:"placed"`
	Consumed   uint64 `json:"consumed"`
	Evicted    uint64 `json:"evicted"`
	Transfers  uint64 `json:"transfers"`
	Rejections uint64 `json:"rejections"`
}

type CountersV1 struct {
	NextParcel uint64 `json:"next_parcel"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is repeated inside the gob body.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
