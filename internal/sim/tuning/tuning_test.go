package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "engine:\n  click_bonus_ms: 1500\n  seed: 7\ntransport:\n  click_burst: 3\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Engine.ClickBonus() != 1500*time.Millisecond || tu.Engine.Seed != 7 {
		t.Fatalf("engine overrides not applied: %+v", tu.Engine)
	}
	if tu.Transport.ClickBurst != 3 {
		t.Fatalf("click_burst: %d", tu.Transport.ClickBurst)
	}
	def := Defaults()
	if tu.Engine.TrainImageForward != def.Engine.TrainImageForward || tu.Persistence != def.Persistence {
		t.Fatalf("defaults lost: %+v", tu)
	}
}

func TestRepoConfigLoads(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Engine.DefaultTrackThickness != 20 {
		t.Fatalf("thickness: %v", tu.Engine.DefaultTrackThickness)
	}
}

func TestValidateRejects(t *testing.T) {
	tu := Defaults()
	tu.Engine.MaxCrossingsPerTick = 0
	tu.Transport.ClicksPerSecond = 0
	if err := tu.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("engine: [1, 2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
