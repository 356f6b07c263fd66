package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go-trip-recorder/config"
	"go-trip-recorder/gps"
	"go-trip-recorder/recorder"
	"go-trip-recorder/store"
)

// buildSource creates the geo source selected by cfg. When mirror is set, the
// simulator echoes its fixes to it as NMEA sentences.
func buildSource(cfg *config.Config, logger *slog.Logger, mirror io.Writer) (gps.Source, error) {
	src := cfg.Source
	switch src.Kind {
	case config.SourceSerial:
		return gps.NewNMEASource(gps.NMEAConfig{
			Opener:      gps.SerialOpener(src.Serial.Port, src.Serial.Baud),
			UERE:        src.Serial.UERE,
			ReadTimeout: time.Duration(src.Serial.ReadTimeoutMs) * time.Millisecond,
			Logger:      logger,
		}), nil
	case config.SourceReplay:
		if src.Replay.GPXPath == "" {
			return nil, errors.New("replay source requires source.replay.gpx_path or --gpx")
		}
		points, err := gps.ReadGPXFile(src.Replay.GPXPath)
		if err != nil {
			return nil, err
		}
		return gps.NewReplayFromTrack(points, src.Replay.AccuracyMeters, gps.ReplayOptions{
			Speed: src.Replay.Speed,
			Loop:  src.Replay.Loop,
		}), nil
	case config.SourceSimulator:
		simCfg := cfg.SimulatorConfig()
		simCfg.NMEAWriter = mirror
		return gps.NewSimulator(simCfg)
	}
	return nil, fmt.Errorf("unsupported source kind %q", src.Kind)
}

func newRecorder(cfg *config.Config, src gps.Source, st store.Store, logger *slog.Logger) (*recorder.Recorder, error) {
	return recorder.New(recorder.Options{
		Config: cfg.RecorderConfig(),
		Source: src,
		Store:  st,
		Logger: logger,
	})
}
