package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"broadcastnet/internal/measurement"
	"broadcastnet/internal/metrics"
	"broadcastnet/internal/utils"
)

// ErrScanStopped is returned by Next when scanning ended without ctx being done.
var ErrScanStopped = errors.New("ble: scanning stopped")

type Filter struct {
	// CompanyID selects the manufacturer data entry to decode.
	CompanyID uint16
}

type Options struct {
	Adapter string // "hci0" by default
	Buffer  int    // queued measurements before new ones are dropped
	Filter  Filter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time

	// RepeatWindow bounds how long an unchanged sequence number counts as the
	// same broadcast. A sender that restarts on the last delivered sequence
	// after this much silence is forwarded again.
	RepeatWindow time.Duration
}

const defaultRepeatWindow = 5 * time.Second

type sighting struct {
	seq uint8
	at  time.Time
}

// Listener wraps BlueZ scanning and turns sensor advertisements into
// measurements. A sender repeats each broadcast for its whole advertising
// window, so only the first copy of a sequence number is forwarded.
type Listener struct {
	adapter *bluetooth.Adapter
	opts    Options
	logger  *slog.Logger

	out  chan measurement.Measurement
	errc chan error

	mu   sync.Mutex
	last map[measurement.Address]sighting
}

func NewListener(opts Options) *Listener {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	l := newListener(opts)
	l.adapter = bluetooth.NewAdapter(opts.Adapter)
	return l
}

func newListener(opts Options) *Listener {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Filter.CompanyID == 0 {
		opts.Filter.CompanyID = measurement.CompanyID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RepeatWindow <= 0 {
		opts.RepeatWindow = defaultRepeatWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		opts:   opts,
		logger: logger,
		out:    make(chan measurement.Measurement, opts.Buffer),
		errc:   make(chan error, 1),
		last:   make(map[measurement.Address]sighting),
	}
}

// Enable powers up the adapter. It must be called before Address and Start.
func (l *Listener) Enable() error {
	l.logger.Info("ble: enabling adapter", "adapter", l.opts.Adapter)
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.opts.Adapter, err)
	}
	return nil
}

// Start scans in the background until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.adapter.StopScan()
	}()

	l.logger.Info("ble: scanning started",
		"adapter", l.opts.Adapter,
		"filter_company", utils.Hex16(l.opts.Filter.CompanyID),
	)

	go func() {
		// adapter.Scan blocks until StopScan() or error.
		err := l.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			l.handle(r.Address.String(), r.RSSI, r.ManufacturerData())
		})
		if ctx.Err() != nil {
			l.logger.Info("ble: scanning stopped (context canceled)")
			return
		}
		if err == nil {
			err = ErrScanStopped
		}
		l.errc <- fmt.Errorf("ble scan: %w", err)
	}()
	return nil
}

// Address returns the adapter's own address in lowercase bare hex.
func (l *Listener) Address() (string, error) {
	mac, err := l.adapter.Address()
	if err != nil {
		return "", fmt.Errorf("ble adapter address: %w", err)
	}
	addr, err := measurement.ParseAddress(mac.String())
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// Next blocks until a measurement arrives, ctx is done or scanning fails.
func (l *Listener) Next(ctx context.Context) (measurement.Measurement, error) {
	select {
	case m := <-l.out:
		return m, nil
	case err := <-l.errc:
		return measurement.Measurement{}, err
	case <-ctx.Done():
		return measurement.Measurement{}, ctx.Err()
	}
}

func (l *Listener) handle(addr string, rssi int16, mfg []bluetooth.ManufacturerDataElement) {
	for _, md := range mfg {
		if md.CompanyID != l.opts.Filter.CompanyID {
			continue
		}

		m, err := measurement.Decode(md.Data)
		if err != nil {
			l.logger.Debug("ble: ignore undecodable payload",
				"addr", addr,
				"data", utils.BytesToHex(md.Data, 32),
				"error", err,
			)
			return
		}
		sender, err := measurement.ParseAddress(addr)
		if err != nil {
			l.logger.Debug("ble: ignore unparseable address", "addr", addr, "error", err)
			return
		}
		now := l.opts.Now()
		if l.repeated(sender, m.Sequence, now) {
			return
		}
		if len(m.Invalid) > 0 {
			l.logger.Debug("ble: ignore non-finite readings",
				"sender", sender.String(),
				"sequence", m.Sequence,
				"fields", m.Invalid,
			)
		}

		m.Address = sender
		m.RSSI = rssi
		m.SeenAt = now

		select {
		case l.out <- m:
		default:
			l.opts.Metrics.ObserveDropped()
			l.logger.Warn("ble: scan buffer full, measurement dropped",
				"sender", sender.String(),
				"sequence", m.Sequence,
			)
		}
		return
	}
}

// repeated reports whether seq is still the broadcast last delivered for
// sender. Every sighting refreshes the window.
func (l *Listener) repeated(sender measurement.Address, seq uint8, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.last[sender]
	l.last[sender] = sighting{seq: seq, at: now}
	return ok && last.seq == seq && now.Sub(last.at) < l.opts.RepeatWindow
}
