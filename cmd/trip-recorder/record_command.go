package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go-trip-recorder/config"
	"go-trip-recorder/recorder"
	"go-trip-recorder/web"
)

type recordOptions struct {
	source      string
	gpxPath     string
	replaySpeed float64
	duration    time.Duration
	driveType   string
	video       string
	serve       string
	nmea        bool
	quiet       bool
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a trip from the configured GPS source until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyRecordOverrides(cfg, opts); err != nil {
				return err
			}
			return runRecord(cmd, ctx, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Source override: serial, replay or simulator")
	cmd.Flags().StringVar(&opts.gpxPath, "gpx", "", "GPX file to replay (implies --source replay)")
	cmd.Flags().Float64Var(&opts.replaySpeed, "replay-speed", 0, "Replay speed multiplier (1.0=real-time)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (e.g. 30s, 5m). Default is until interrupted")
	cmd.Flags().StringVar(&opts.driveType, "drive-type", "", "Drive type stored with the trip")
	cmd.Flags().StringVar(&opts.video, "video", "", "Video filename stored with the trip")
	cmd.Flags().StringVar(&opts.serve, "serve", "", "Also serve the web API on this address while recording")
	cmd.Flags().BoolVar(&opts.nmea, "nmea", false, "Echo simulated NMEA sentences to stdout")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the final trip summary")
	return cmd
}

func applyRecordOverrides(cfg *config.Config, opts recordOptions) error {
	if opts.gpxPath != "" {
		cfg.Source.Kind = config.SourceReplay
		cfg.Source.Replay.GPXPath = opts.gpxPath
	}
	if opts.source != "" {
		cfg.Source.Kind = opts.source
	}
	if opts.replaySpeed != 0 {
		cfg.Source.Replay.Speed = opts.replaySpeed
	}
	if opts.driveType != "" {
		cfg.Recording.DriveType = opts.driveType
	}
	return cfg.Validate()
}

func runRecord(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, opts recordOptions) error {
	logger := ctx.loggerFor(cmd)
	out := &syncWriter{w: cmd.OutOrStdout()}

	st, err := ctx.store(cmd)
	if err != nil {
		return err
	}
	var mirror io.Writer
	if opts.nmea {
		mirror = out
	}
	src, err := buildSource(cfg, logger, mirror)
	if err != nil {
		return err
	}
	rec, err := newRecorder(cfg, src, st, logger)
	if err != nil {
		return err
	}
	defer rec.Close(context.Background())

	if !opts.quiet {
		detach := rec.Subscribe(newProgressPrinter(out))
		defer detach()
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, opts.duration)
		defer cancel()
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	if opts.serve != "" {
		srv := web.NewServer(rec, st, cfg.Recording.EarthRadiusMeters, logger)
		defer srv.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveErr <- srv.ListenAndServe(runCtx, opts.serve)
		}()
	}

	if err := rec.Start(runCtx, recorder.StartOptions{DriveType: cfg.Recording.DriveType, VideoFilename: opts.video}); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	select {
	case <-runCtx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("web server stopped", "error", err)
		}
	}
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	final, stopErr := rec.Stop(stopCtx)
	wg.Wait()

	if final != nil {
		fmt.Fprintln(out, renderTripSummary(*final))
	}
	if stopErr != nil {
		return fmt.Errorf("stop recording: %w", stopErr)
	}
	return nil
}

// syncWriter serializes writes from the simulator loop and the progress
// printer, keeping each line whole.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// progressPrinter writes recorder events as single lines.
type progressPrinter struct {
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) OnEvent(e recorder.Event) {
	switch e.Kind {
	case recorder.StateChanged:
		if e.State == recorder.Recording && e.Trip != nil {
			fmt.Fprintf(p.out, "Recording trip %s\n", e.Trip.ID)
		}
	case recorder.PointAdmitted:
		fmt.Fprintf(p.out, "%4d  %s  %6.1f km/h\n",
			e.Stats.PointCount, formatDistance(e.Stats.DistanceMeters), e.Stats.CurrentSpeedKph)
	case recorder.GPSLost:
		fmt.Fprintln(p.out, "GPS signal lost")
	case recorder.SourceFailed:
		fmt.Fprintf(p.out, "GPS source error: %v\n", e.Err)
	}
}
