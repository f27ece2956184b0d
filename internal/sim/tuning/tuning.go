package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Engine      Engine      `yaml:"engine"`
	Transport   Transport   `yaml:"transport"`
	Persistence Persistence `yaml:"persistence"`
}

type Engine struct {
	ClickBonusMs          int     `yaml:"click_bonus_ms"`
	DefaultTrackThickness float64 `yaml:"default_track_thickness"`
	TrainImageForward     string  `yaml:"train_image_forward"`
	TrainImageBackward    string  `yaml:"train_image_backward"`
	ViewerBuffer          int     `yaml:"viewer_buffer"`
	ClickMailbox          int     `yaml:"click_mailbox"`
	ControlMailbox        int     `yaml:"control_mailbox"`
	RequestTimeoutMs      int     `yaml:"request_timeout_ms"`
	MinWakeMs             int     `yaml:"min_wake_ms"`
	MaxCrossingsPerTick   int     `yaml:"max_crossings_per_tick"`
	// Seed of the routing RNG. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

type Transport struct {
	ReadTimeoutMs     int     `yaml:"read_timeout_ms"`
	WriteTimeoutMs    int     `yaml:"write_timeout_ms"`
	ClicksPerSecond   float64 `yaml:"clicks_per_second"`
	ClickBurst        int     `yaml:"click_burst"`
	ControlsPerSecond float64 `yaml:"controls_per_second"`
	ControlBurst      int     `yaml:"control_burst"`
}

type Persistence struct {
	TracksDir  string `yaml:"tracks_dir"`
	JournalDir string `yaml:"journal_dir"`
	// IndexDB is the sqlite catalog path. Empty disables it.
	IndexDB string `yaml:"index_db"`
}

func Defaults() Tuning {
	return Tuning{
		Engine: Engine{
			ClickBonusMs:          5000,
			DefaultTrackThickness: 20,
			TrainImageForward:     "train_right_debug.png",
			TrainImageBackward:    "train_left_debug.png",
			ViewerBuffer:          256,
			ClickMailbox:          1024,
			ControlMailbox:        256,
			RequestTimeoutMs:      2000,
			MinWakeMs:             1,
			MaxCrossingsPerTick:   1024,
		},
		Transport: Transport{
			ReadTimeoutMs:     60_000,
			WriteTimeoutMs:    10_000,
			ClicksPerSecond:   20,
			ClickBurst:        40,
			ControlsPerSecond: 10,
			ControlBurst:      20,
		},
		Persistence: Persistence{
			TracksDir:  "tracks",
			JournalDir: "journal",
			IndexDB:    "index/trainyard.sqlite",
		},
	}
}

// Load reads a tuning file on top of Defaults. Keys absent from the file keep
// their default.
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

func (t Tuning) Validate() error {
	var errs []error
	e := t.Engine
	if e.ClickBonusMs < 0 {
		errs = append(errs, errors.New("engine.click_bonus_ms must be >= 0"))
	}
	if !(e.DefaultTrackThickness > 0) {
		errs = append(errs, errors.New("engine.default_track_thickness must be > 0"))
	}
	if e.ViewerBuffer < 1 || e.ClickMailbox < 1 || e.ControlMailbox < 1 {
		errs = append(errs, errors.New("engine mailbox and buffer sizes must be >= 1"))
	}
	if e.RequestTimeoutMs < 1 {
		errs = append(errs, errors.New("engine.request_timeout_ms must be >= 1"))
	}
	if e.MinWakeMs < 0 {
		errs = append(errs, errors.New("engine.min_wake_ms must be >= 0"))
	}
	if e.MaxCrossingsPerTick < 1 {
		errs = append(errs, errors.New("engine.max_crossings_per_tick must be >= 1"))
	}
	tr := t.Transport
	if tr.ReadTimeoutMs < 1 || tr.WriteTimeoutMs < 1 {
		errs = append(errs, errors.New("transport timeouts must be >= 1"))
	}
	if !(tr.ClicksPerSecond > 0) || !(tr.ControlsPerSecond > 0) || tr.ClickBurst < 1 || tr.ControlBurst < 1 {
		errs = append(errs, errors.New("transport rate limits must be positive"))
	}
	if t.Persistence.TracksDir == "" {
		errs = append(errs, errors.New("persistence.tracks_dir is required"))
	}
	return errors.Join(errs...)
}

func (e Engine) ClickBonus() time.Duration {
	return time.Duration(e.ClickBonusMs) * time.Millisecond
}

func (e Engine) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMs) * time.Millisecond
}

func (e Engine) MinWake() time.Duration {
	return time.Duration(e.MinWakeMs) * time.Millisecond
}

func (t Transport) ReadTimeout() time.Duration {
	return time.Duration(t.ReadTimeoutMs) * time.Millisecond
}

func (t Transport) WriteTimeout() time.Duration {
	return time.Duration(t.WriteTimeoutMs) * time.Millisecond
}
