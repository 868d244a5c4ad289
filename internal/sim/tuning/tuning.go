package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int     `yaml:"tick_rate_hz"`
	ItemSpeed          float64 `yaml:"item_speed"`
	SpatialCellSize    int     `yaml:"spatial_cell_size"`
	SnapshotEveryTicks int     `yaml:"snapshot_every_ticks"`
	CommandQueue       int     `yaml:"command_queue"`
	MaxCommandsPerTick int     `yaml:"max_commands_per_tick"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

// RateLimits bounds how many commands one websocket session may submit.
type RateLimits struct {
	CommandWindowTicks int `yaml:"command_window_ticks"`
	CommandMax         int `yaml:"command_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		ItemSpeed:          2,
		SpatialCellSize:    8,
		SnapshotEveryTicks: 3000,
		CommandQueue:       1024,
		MaxCommandsPerTick: 256,
		RateLimits: RateLimits{
			CommandWindowTicks: 20,
			CommandMax:         60,
		},
	}
}

// TickSeconds is the fixed simulation timestep.
func (t Tuning) TickSeconds() float64 { return 1 / float64(t.TickRateHz) }

func (t Tuning) Validate() error {
	var errs []error
	if t.ProtocolVersion == "" {
		errs = append(errs, errors.New("protocol_version is empty"))
	}
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz=%d out of range (1..1000)", t.TickRateHz))
	}
	if t.ItemSpeed <= 0 {
		errs = append(errs, fmt.Errorf("item_speed=%v must be positive", t.ItemSpeed))
	}
	if t.SpatialCellSize <= 0 {
		errs = append(errs, fmt.Errorf("spatial_cell_size=%d must be positive", t.SpatialCellSize))
	}
	if t.SnapshotEveryTicks < 0 {
		errs = append(errs, fmt.Errorf("snapshot_every_ticks=%d is negative", t.SnapshotEveryTicks))
	}
	if t.CommandQueue <= 0 || t.MaxCommandsPerTick <= 0 {
		errs = append(errs, fmt.Errorf("command_queue=%d max_commands_per_tick=%d must be positive", t.CommandQueue, t.MaxCommandsPerTick))
	}
	if t.RateLimits.CommandWindowTicks < 0 || t.RateLimits.CommandMax < 0 {
		errs = append(errs, errors.New("rate_limits must not be negative"))
	}
	return errors.Join(errs...)
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
