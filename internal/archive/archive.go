// Package archive keeps a local SQLite history of upload cycles for the
// status API. It is write-only from the bridge's point of view: nothing in
// the upload path reads it back.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"broadcastnet/internal/bridge"
)

//go:embed sql/insert-cycle.sql
var insertCycleSQL string

//go:embed sql/list-senders.sql
var listSendersSQL string

//go:embed sql/list-cycles.sql
var listCyclesSQL string

// Fixed width so that text ordering in SQLite matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const MaxLimit = 500

type Sender struct {
	Address      string    `json:"address"`
	Cycles       int       `json:"cycles"`
	TotalMissed  int       `json:"total_missed"`
	LastSequence int       `json:"last_sequence"`
	LastStatus   string    `json:"last_status"`
	LastSeen     time.Time `json:"last_seen"`
}

type Cycle struct {
	ID         string             `json:"id"`
	Bridge     string             `json:"bridge"`
	Sender     string             `json:"sender"`
	GroupKey   string             `json:"group_key"`
	Sequence   int                `json:"sequence"`
	Missed     int                `json:"missed"`
	Feeds      map[string]float64 `json:"feeds"`
	Status     string             `json:"status"`
	Error      string             `json:"error,omitempty"`
	RSSI       int                `json:"rssi"`
	SeenAt     time.Time          `json:"seen_at"`
	DurationMS int64              `json:"duration_ms"`
}

type Repository interface {
	bridge.Reporter
	ListSenders(ctx context.Context) ([]Sender, error)
	ListCycles(ctx context.Context, sender string, limit int) ([]Cycle, error)
	Ping(ctx context.Context) error
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) ReportCycle(ctx context.Context, c bridge.Cycle) error {
	feeds := make(map[string]float64, len(c.Data))
	for _, d := range c.Data {
		feeds[d.Key] = d.Value
	}
	feedsJSON, err := json.Marshal(feeds)
	if err != nil {
		return fmt.Errorf("marshal feeds: %w", err)
	}

	_, err = r.db.ExecContext(ctx, insertCycleSQL,
		c.ID,
		c.Bridge,
		c.Sender.String(),
		c.GroupKey,
		int(c.Sequence),
		int(c.Missed),
		string(feedsJSON),
		string(c.Status),
		c.Err,
		int(c.RSSI),
		c.SeenAt.UTC().Format(timeFormat),
		c.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (r *repositoryImpl) ListSenders(ctx context.Context) ([]Sender, error) {
	rows, err := r.db.QueryContext(ctx, listSendersSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close senders rows", "error", err)
		}
	}()

	out := []Sender{}
	for rows.Next() {
		var s Sender
		var lastSeen string
		if err := rows.Scan(&s.Address, &s.Cycles, &s.TotalMissed, &lastSeen, &s.LastSequence, &s.LastStatus); err != nil {
			return nil, err
		}
		if s.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListCycles returns the most recent cycles of sender, newest first. limit
// is clamped to [1, MaxLimit].
func (r *repositoryImpl) ListCycles(ctx context.Context, sender string, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	rows, err := r.db.QueryContext(ctx, listCyclesSQL, sender, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close cycles rows", "error", err)
		}
	}()

	out := []Cycle{}
	for rows.Next() {
		var c Cycle
		var feeds, seenAt string
		if err := rows.Scan(&c.ID, &c.Bridge, &c.Sender, &c.GroupKey, &c.Sequence, &c.Missed,
			&feeds, &c.Status, &c.Error, &c.RSSI, &seenAt, &c.DurationMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(feeds), &c.Feeds); err != nil {
			return nil, fmt.Errorf("cycle %s feeds: %w", c.ID, err)
		}
		if c.SeenAt, err = parseTime(seenAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
