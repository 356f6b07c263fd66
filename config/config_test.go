package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Error("Expected exists=false for a missing file")
	}
	rc := cfg.RecorderConfig()
	if rc.QualityHorizonMeters != 50 || rc.SmoothingWindow != 3 || rc.EarthRadiusMeters != 6371000 || rc.GPSLostAfter != 10*time.Second {
		t.Errorf("Unexpected recorder defaults: %+v", rc)
	}
	if cfg.Store.Backend != "sqlite" || !strings.HasSuffix(cfg.Store.Path, filepath.Join("trip-recorder", "trips.db")) {
		t.Errorf("Unexpected store defaults: %+v", cfg.Store)
	}
	if strings.HasPrefix(cfg.Store.Path, "~") {
		t.Error("Store path should be expanded")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[recording]
quality_horizon_meters = 25.5
gps_lost_after_ms = 3000
drive_type = "commute"

[source]
kind = "Replay"

[source.replay]
gpx_path = "` + filepath.ToSlash(filepath.Join(dir, "drive.gpx")) + `"
speed = 4.0
loop = true

[store]
backend = "log"
path = "` + filepath.ToSlash(filepath.Join(dir, "trips.jsonl")) + `"

[log]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Error("Expected exists=true")
	}
	if cfg.Recording.QualityHorizonMeters != 25.5 || cfg.Recording.DriveType != "commute" {
		t.Errorf("Recording section not applied: %+v", cfg.Recording)
	}
	if cfg.RecorderConfig().GPSLostAfter != 3*time.Second {
		t.Errorf("Expected 3s GPS lost window, got %v", cfg.RecorderConfig().GPSLostAfter)
	}
	if cfg.Recording.SmoothingWindow != 3 {
		t.Error("Unset fields should keep defaults")
	}
	if cfg.Source.Kind != SourceReplay || cfg.Source.Replay.Speed != 4 || !cfg.Source.Replay.Loop {
		t.Errorf("Source section not applied: %+v", cfg.Source)
	}
	sc := cfg.StoreConfig()
	if sc.Backend != "log" || sc.Path != filepath.Join(dir, "trips.jsonl") {
		t.Errorf("Store section not applied: %+v", sc)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log section not applied: %+v", cfg.Log)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "[recording]\nhorizon = 3\n",
		"bad horizon":    "[recording]\nquality_horizon_meters = -1\n",
		"bad window":     "[recording]\nsmoothing_window = 1\n",
		"bad source":     "[source]\nkind = \"carrier-pigeon\"\n",
		"bad backend":    "[store]\nbackend = \"floppy\"\n",
		"bad simulator":  "[source]\nkind = \"simulator\"\n[source.simulator]\njitter = 2.0\n",
		"bad log format": "[log]\nformat = \"xml\"\n",
		"not toml":       "recording = [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, _, err := Load(path); err == nil {
				t.Error("Expected Load to fail")
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Source.Kind = SourceSimulator
	cfg.Source.Simulator.SpeedKnots = 20
	cfg.Store.Path = filepath.Join(t.TempDir(), "trips.db")
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	loaded, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Error("Expected written file to exist")
	}
	if loaded.Source.Kind != SourceSimulator || loaded.Source.Simulator.SpeedKnots != 20 {
		t.Errorf("Simulator settings lost: %+v", loaded.Source)
	}
	sim := loaded.SimulatorConfig()
	if sim.Speed != 20 || sim.OutputRate != time.Second || sim.TimeToLock != 2*time.Second {
		t.Errorf("Unexpected simulator config: %+v", sim)
	}
}
