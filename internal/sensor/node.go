// Package sensor runs a broadcasting sensor node: sample every source, put
// the measurement on air, sleep, repeat.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"broadcastnet/internal/measurement"
)

// Source contributes readings to a measurement.
type Source interface {
	Name() string
	Read(m *measurement.Measurement) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, m measurement.Measurement) error
}

type Options struct {
	Interval    time.Duration
	Sources     []Source
	Broadcaster Broadcaster
	Logger      *slog.Logger
}

type Node struct {
	opts   Options
	logger *slog.Logger
	seq    uint8
}

func NewNode(opts Options) (*Node, error) {
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("sensor: broadcaster is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{opts: opts, logger: logger}, nil
}

// Sample reads every source into a new measurement carrying the next
// sequence number. A failing source is logged and left out.
func (n *Node) Sample() measurement.Measurement {
	m := measurement.Measurement{Sequence: n.seq}
	n.seq++
	for _, s := range n.opts.Sources {
		if err := s.Read(&m); err != nil {
			n.logger.Warn("sensor: read failed", "source", s.Name(), "error", err)
		}
	}
	return m
}

// Run broadcasts immediately and then once per interval until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.opts.Interval)
	defer ticker.Stop()

	for {
		n.broadcastOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) broadcastOnce(ctx context.Context) {
	m := n.Sample()
	n.logger.Info("broadcasting", "measurement", m.String())

	err := n.opts.Broadcaster.Broadcast(ctx, m)
	switch {
	case err == nil:
	case errors.Is(err, measurement.ErrTooLarge):
		n.logger.Error("sensor: measurement does not fit one advertisement", "sequence", m.Sequence, "error", err)
	case ctx.Err() != nil:
	default:
		n.logger.Warn("sensor: broadcast failed", "sequence", m.Sequence, "error", err)
	}
}
