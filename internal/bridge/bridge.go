// Package bridge turns received sensor broadcasts into Adafruit IO group
// writes: it tracks sequence gaps per sender, provisions groups and feeds on
// first sight and uploads one batch per measurement.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"broadcastnet/internal/aio"
	"broadcastnet/internal/measurement"
	"broadcastnet/internal/metrics"
)

// Remote is the subset of the Adafruit IO API the bridge needs.
type Remote interface {
	ListGroups(ctx context.Context) ([]aio.Group, error)
	CreateGroup(ctx context.Context, name string) (string, error)
	CreateFeed(ctx context.Context, groupKey, name string) (string, error)
	WriteBatch(ctx context.Context, groupKey string, data []aio.Datum) error
}

// Reporter receives the outcome of every upload cycle.
type Reporter interface {
	ReportCycle(ctx context.Context, c Cycle) error
}

type ReporterFunc func(ctx context.Context, c Cycle) error

func (f ReporterFunc) ReportCycle(ctx context.Context, c Cycle) error {
	return f(ctx, c)
}

type Status string

const (
	StatusOK          Status = "ok"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
)

// Cycle is the result of processing one measurement.
type Cycle struct {
	ID       string
	Bridge   string
	Sender   measurement.Address
	GroupKey string
	Sequence uint8
	Missed   uint8
	Data     []measurement.FeedValue
	Status   Status
	Err      string
	RSSI     int16
	SeenAt   time.Time
	Duration time.Duration
}

type Options struct {
	// Address is this bridge's own address in bare hex form.
	Address   string
	Remote    Remote
	Reporters []Reporter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Bridge owns the per-sender state. Process and Run must be called from a
// single goroutine.
type Bridge struct {
	address   string
	remote    Remote
	reporters []Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	tracker  *Tracker
	registry *Registry
}

func New(opts Options) (*Bridge, error) {
	if opts.Address == "" {
		return nil, errors.New("bridge: address is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("bridge: remote is required")
	}
	b := &Bridge{
		address:   opts.Address,
		remote:    opts.Remote,
		reporters: opts.Reporters,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		tracker:   NewTracker(),
		registry:  NewRegistry(),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	return b, nil
}

func (b *Bridge) Address() string     { return b.address }
func (b *Bridge) Tracker() *Tracker   { return b.tracker }
func (b *Bridge) Registry() *Registry { return b.registry }

// LoadExisting rebuilds the registry from the groups already on the remote.
func (b *Bridge) LoadExisting(ctx context.Context) error {
	groups, err := b.remote.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("fetch existing feeds: %w", err)
	}
	n := b.registry.Restore(b.address, groups)
	b.metrics.SetSenders(b.registry.Len())
	b.logger.Info("existing feeds fetched", "groups", len(groups), "senders", n)
	return nil
}

// Process runs one upload cycle. A throttled write is not an error; any other
// failure is returned and leaves the registry as it was before the failing
// request.
func (b *Bridge) Process(ctx context.Context, m measurement.Measurement) (Cycle, error) {
	start := b.now()

	prev, seen := b.tracker.Last(m.Address)
	missed := b.tracker.Observe(m.Address, m.Sequence)
	if missed != 0 {
		b.logger.Warn("missed broadcast",
			"sender", m.Address.String(),
			"previous", prev,
			"sequence", m.Sequence,
			"missed", missed,
		)
	} else if !seen {
		b.logger.Info("new sender", "sender", m.Address.String(), "sequence", m.Sequence)
	}

	data := append([]measurement.FeedValue{
		{Key: measurement.MissedMessageCountKey, Value: float64(missed)},
	}, m.FeedValues()...)

	c := Cycle{
		ID:       b.newID(),
		Bridge:   b.address,
		Sender:   m.Address,
		GroupKey: GroupKey(b.address, m.Address),
		Sequence: m.Sequence,
		Missed:   missed,
		Data:     data,
		RSSI:     m.RSSI,
		SeenAt:   m.SeenAt,
	}

	err := b.upload(ctx, c)
	switch {
	case err == nil:
		c.Status = StatusOK
	case errors.Is(err, aio.ErrRateLimited):
		b.logger.Warn("throttled, batch dropped", "sender", c.Sender.String(), "group", c.GroupKey, "error", err)
		c.Status = StatusRateLimited
		c.Err = err.Error()
		err = nil
	default:
		c.Status = StatusFailed
		c.Err = err.Error()
	}
	c.Duration = b.now().Sub(start)

	b.metrics.ObserveCycle(c.Sender.String(), string(c.Status), int(c.Missed), c.Duration)
	b.report(ctx, c)

	if err == nil {
		b.logger.Info("done logging measurement",
			"cycle_id", c.ID,
			"sender", c.Sender.String(),
			"status", c.Status,
			"feeds", len(c.Data),
			"took", c.Duration,
		)
	}
	return c, err
}

func (b *Bridge) upload(ctx context.Context, c Cycle) error {
	keys := make([]string, len(c.Data))
	batch := make([]aio.Datum, len(c.Data))
	for i, d := range c.Data {
		keys[i] = d.Key
		batch[i] = aio.Datum{Key: d.Key, Value: d.Value}
	}
	if err := b.provision(ctx, c.Sender, keys); err != nil {
		return err
	}
	if err := b.remote.WriteBatch(ctx, c.GroupKey, batch); err != nil {
		return fmt.Errorf("upload %s: %w", c.GroupKey, err)
	}
	return nil
}

// provision makes sure the sender's group and every feed in keys exist,
// creating only what the registry does not know about yet.
func (b *Bridge) provision(ctx context.Context, sender measurement.Address, keys []string) error {
	groupKey := GroupKey(b.address, sender)
	if !b.registry.HasGroup(sender) {
		created, err := b.remote.CreateGroup(ctx, GroupName(b.address, sender))
		if err != nil {
			return fmt.Errorf("provision group %s: %w", groupKey, err)
		}
		if created != groupKey {
			b.logger.Warn("group key differs from expected", "expected", groupKey, "created", created)
		}
		b.registry.AddGroup(sender)
		b.metrics.ObserveProvision("group")
		b.metrics.SetSenders(b.registry.Len())
		b.logger.Info("group created", "group", groupKey)
	}
	for _, key := range keys {
		if b.registry.Has(sender, key) {
			continue
		}
		created, err := b.remote.CreateFeed(ctx, groupKey, feedName(key))
		if err != nil {
			return fmt.Errorf("provision feed %s/%s: %w", groupKey, key, err)
		}
		if created != key {
			b.logger.Warn("feed key differs from expected", "group", groupKey, "expected", key, "created", created)
		}
		b.registry.Add(sender, key)
		b.metrics.ObserveProvision("feed")
		b.logger.Info("feed created", "group", groupKey, "feed", key)
	}
	return nil
}

func (b *Bridge) report(ctx context.Context, c Cycle) {
	for _, r := range b.reporters {
		if err := r.ReportCycle(ctx, c); err != nil {
			b.logger.Warn("cycle report failed", "cycle_id", c.ID, "error", err)
		}
	}
}
