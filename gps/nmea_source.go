package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultUERE is the user equivalent range error, in meters, used to turn a
// receiver's HDOP into an accuracy estimate.
const DefaultUERE = 5.0

// Opener opens the byte stream a live receiver writes NMEA sentences to.
type Opener func() (io.ReadCloser, error)

// SerialOpener returns an Opener for a GPS receiver attached to a serial port.
func SerialOpener(portName string, baudRate int) Opener {
	return func() (io.ReadCloser, error) {
		mode := &serial.Mode{
			BaudRate: baudRate,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, classifySerialError(portName, err)
		}
		return port, nil
	}
}

func classifySerialError(portName string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PermissionDenied:
			return NewSourceError(PermissionDenied, fmt.Errorf("open %s: %w", portName, err))
		case serial.PortNotFound, serial.InvalidSerialPort:
			return NewSourceError(Unsupported, fmt.Errorf("open %s: %w", portName, err))
		case serial.PortBusy:
			return NewSourceError(PositionUnavailable, fmt.Errorf("open %s: %w", portName, err))
		}
	}
	return NewSourceError(Unknown, fmt.Errorf("open %s: %w", portName, err))
}

// NMEAConfig configures a live NMEA receiver source.
type NMEAConfig struct {
	Opener      Opener
	UERE        float64       // meters per unit of HDOP; 0 selects DefaultUERE
	ReadTimeout time.Duration // silence longer than this reports TIMEOUT; 0 disables
	Logger      *slog.Logger
}

// NMEASource is a live source decoding RMC and GGA sentences from a receiver.
// One fix is emitted per valid RMC sentence, enriched with accuracy and
// altitude from the most recent GGA.
type NMEASource struct {
	cfg NMEAConfig
	g   guard
}

// NewNMEASource creates a live receiver source.
func NewNMEASource(cfg NMEAConfig) *NMEASource {
	if cfg.UERE <= 0 {
		cfg.UERE = DefaultUERE
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &NMEASource{cfg: cfg}
}

// Subscribe opens the receiver and starts decoding. Failing to open the
// receiver is returned directly, classified as a SourceError.
func (n *NMEASource) Subscribe(onFix func(Fix), onError func(error)) (func(), error) {
	if n.cfg.Opener == nil {
		return nil, NewSourceError(Unsupported, errors.New("no receiver configured"))
	}
	if err := n.g.acquire(); err != nil {
		return nil, err
	}

	rc, err := n.cfg.Opener()
	if err != nil {
		n.g.release()
		var se *SourceError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, NewSourceError(Unknown, err)
	}

	var closeOnce sync.Once
	closePort := func() {
		closeOnce.Do(func() { _ = rc.Close() })
	}

	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	heard := make(chan struct{}, 1)
	sub := newSubscription(&n.g, closePort)
	sub.goRun(func(ctx context.Context) {
		n.read(ctx, rc, heard, onFix, report)
	})
	if n.cfg.ReadTimeout > 0 {
		sub.goRun(func(ctx context.Context) {
			n.watchSilence(ctx, heard, report)
		})
	}
	return sub.stop, nil
}

func (n *NMEASource) read(ctx context.Context, r io.Reader, heard chan<- struct{}, onFix func(Fix), report func(error)) {
	dec := &nmeaDecoder{uere: n.cfg.UERE}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fix, ok, err := dec.decode(line)
		if err != nil {
			n.cfg.Logger.Debug("skipping NMEA sentence", slog.String("line", line), slog.Any("error", err))
			continue
		}
		select {
		case heard <- struct{}{}:
		default:
		}
		if dec.void {
			report(NewSourceError(PositionUnavailable, errors.New("receiver reports no fix")))
			dec.void = false
			continue
		}
		if ok && onFix != nil {
			onFix(fix)
		}
	}

	if ctx.Err() != nil {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	report(NewSourceError(PositionUnavailable, fmt.Errorf("receiver stream ended: %w", err)))
}

// watchSilence reports TIMEOUT each time the receiver stays quiet for a full
// read timeout window.
func (n *NMEASource) watchSilence(ctx context.Context, heard <-chan struct{}, report func(error)) {
	timer := time.NewTimer(n.cfg.ReadTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heard:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.cfg.ReadTimeout)
		case <-timer.C:
			report(NewSourceError(Timeout, fmt.Errorf("no NMEA data for %v", n.cfg.ReadTimeout)))
			timer.Reset(n.cfg.ReadTimeout)
		}
	}
}

// nmeaDecoder folds a sentence stream into fixes.
type nmeaDecoder struct {
	uere    float64
	lastGGA *ggaData
	void    bool
}

// decode consumes one line. ok is true when the line completed a fix; void
// is set when the receiver explicitly reported that it has no fix.
func (d *nmeaDecoder) decode(line string) (Fix, bool, error) {
	s, err := ParseSentence(line)
	if err != nil {
		return Fix{}, false, err
	}

	switch s.Type {
	case "GGA":
		gga, err := parseGGA(s)
		if err != nil {
			return Fix{}, false, err
		}
		if gga.quality == 0 {
			d.lastGGA = nil
			return Fix{}, false, nil
		}
		d.lastGGA = &gga
		return Fix{}, false, nil
	case "RMC":
		rmc, err := parseRMC(s)
		if err != nil {
			return Fix{}, false, err
		}
		if !rmc.valid {
			d.void = true
			return Fix{}, false, nil
		}
		fix := Fix{
			Latitude:       rmc.lat,
			Longitude:      rmc.lon,
			AccuracyMeters: d.uere,
			TimestampMs:    rmc.when.UnixMilli(),
			SpeedMps:       rmc.speedMps,
			HeadingDeg:     rmc.courseDeg,
		}
		if d.lastGGA != nil {
			if d.lastGGA.hdop > 0 {
				fix.AccuracyMeters = d.lastGGA.hdop * d.uere
			}
			if d.lastGGA.altitude != nil && sameTimeOfDay(d.lastGGA.timeOfDay, s.Fields[0]) {
				fix.AltitudeMeters = Float(*d.lastGGA.altitude)
			}
		}
		return fix, true, nil
	default:
		return Fix{}, false, nil
	}
}

func sameTimeOfDay(a, b string) bool {
	if len(a) < 6 || len(b) < 6 {
		return false
	}
	return a[:6] == b[:6]
}
