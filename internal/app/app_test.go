package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"broadcastnet/internal/config"
	"broadcastnet/internal/measurement"
	"broadcastnet/internal/metrics"
	"broadcastnet/internal/sensor"
)

var errSourceDone = errors.New("source done")

type sliceSource struct {
	items   []measurement.Measurement
	started bool

	// ready is checked when Start is called.
	ready        func() bool
	readyAtStart bool
}

func (s *sliceSource) Start(ctx context.Context) error {
	s.started = true
	if s.ready != nil {
		s.readyAtStart = s.ready()
	}
	return nil
}

func (s *sliceSource) Next(ctx context.Context) (measurement.Measurement, error) {
	if !s.started {
		return measurement.Measurement{}, errors.New("source not started")
	}
	if len(s.items) == 0 {
		return measurement.Measurement{}, errSourceDone
	}
	m := s.items[0]
	s.items = s.items[1:]
	return m, nil
}

// fakeAIO answers the handful of Adafruit IO calls the bridge makes.
type fakeAIO struct {
	mu     sync.Mutex
	lists  int
	groups int
	feeds  []string
	writes []map[string]any
}

func (f *fakeAIO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v2/alice")
	var body map[string]any
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &body)
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && path == "/groups":
		f.lists++
		_, _ = io.WriteString(w, "[]")
	case r.Method == http.MethodPost && path == "/groups":
		f.groups++
		name, _ := body["name"].(string)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"key": strings.ToLower(strings.ReplaceAll(name, " ", "-"))})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/feeds"):
		feed, _ := body["feed"].(map[string]any)
		name, _ := feed["name"].(string)
		f.feeds = append(f.feeds, name)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"key": strings.ToLower(strings.ReplaceAll(name, " ", "-"))})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/data"):
		f.writes = append(f.writes, body)
		_, _ = io.WriteString(w, "[]")
	default:
		http.NotFound(w, r)
	}
}

func TestServeBridge_UploadsAndArchives(t *testing.T) {
	aio := &fakeAIO{}
	ts := httptest.NewServer(aio)
	t.Cleanup(ts.Close)

	sender, err := measurement.ParseAddress("aa:aa:aa:aa:aa:aa")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	first := measurement.Measurement{Address: sender, Sequence: 5, SeenAt: time.Now()}
	second := measurement.Measurement{Address: sender, Sequence: 8, SeenAt: time.Now()}
	if err := second.Set("temperature", 21.5); err != nil {
		t.Fatalf("Set: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "bridge.db")
	cfg := config.Bridge{
		AIOBaseURL:  ts.URL + "/api/v2",
		AIOUsername: "alice",
		AIOKey:      "secret",
		AIOTimeout:  5 * time.Second,
		HTTPAddr:    "127.0.0.1:0",
		Archive:     config.Archive{SQLitePath: dbPath, SQLiteMaxOpenConns: 1},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	src := &sliceSource{
		items: []measurement.Measurement{first, second},
		ready: func() bool {
			aio.mu.Lock()
			defer aio.mu.Unlock()
			return aio.lists == 1
		},
	}
	err = serveBridge(context.Background(), cfg, logger, metrics.New(), src, "010203040506")
	if !errors.Is(err, errSourceDone) {
		t.Fatalf("serveBridge() error = %v, want errSourceDone", err)
	}
	if !src.readyAtStart {
		t.Error("scanning started before existing groups were fetched")
	}

	aio.mu.Lock()
	if aio.groups != 1 {
		t.Errorf("groups created = %d, want 1", aio.groups)
	}
	if got := strings.Join(aio.feeds, ","); got != "Missed Message Count,temperature0" {
		t.Errorf("feeds created = %q", got)
	}
	if len(aio.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(aio.writes))
	}
	feeds, _ := aio.writes[1]["feeds"].([]any)
	if len(feeds) != 2 {
		t.Fatalf("second write feeds = %v", aio.writes[1])
	}
	missed, _ := feeds[0].(map[string]any)
	if missed["key"] != "missed-message-count" || missed["value"] != float64(2) {
		t.Errorf("second write first feed = %v, want missed-message-count=2", missed)
	}
	aio.mu.Unlock()

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = conn.Close() }()
	var n, totalMissed int
	if err := conn.QueryRow(`SELECT COUNT(*), SUM(missed) FROM cycles`).Scan(&n, &totalMissed); err != nil {
		t.Fatalf("count cycles: %v", err)
	}
	if n != 2 || totalMissed != 2 {
		t.Errorf("archived cycles = %d missed = %d, want 2 and 2", n, totalMissed)
	}
}

func TestServeBridge_ListFailureAborts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not authorized"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)

	cfg := config.Bridge{
		AIOBaseURL:  ts.URL,
		AIOUsername: "alice",
		AIOKey:      "wrong",
		HTTPAddr:    "127.0.0.1:0",
		Archive:     config.Archive{SQLiteDSN: ":memory:"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	src := &sliceSource{}
	err := serveBridge(context.Background(), cfg, logger, nil, src, "010203040506")
	if err == nil || errors.Is(err, errSourceDone) {
		t.Fatalf("serveBridge() error = %v, want list failure", err)
	}
	if src.started {
		t.Error("scanning started although startup failed")
	}
}

type fakeHardware struct {
	calls []string
	err   error
}

type namedSource string

func (s namedSource) Name() string                        { return string(s) }
func (s namedSource) Read(*measurement.Measurement) error { return nil }

func (h *fakeHardware) Battery(addr uint16, channel int, divider float64) (sensor.Source, error) {
	h.calls = append(h.calls, "battery")
	return namedSource("battery"), h.err
}

func (h *fakeHardware) Environment(addr uint16) (sensor.Source, error) {
	h.calls = append(h.calls, "bme280")
	return namedSource("bme280"), h.err
}

func (h *fakeHardware) CPUTemperature(zone string) (sensor.Source, error) {
	h.calls = append(h.calls, "cpu")
	return namedSource("cpu"), h.err
}

func TestSensorSources(t *testing.T) {
	tests := []struct {
		name        string
		battery     string
		temperature string
		want        string
	}{
		{name: "defaults", battery: "ads1115", temperature: "cpu", want: "battery,cpu"},
		{name: "bme280 only", battery: "none", temperature: "bme280", want: "bme280"},
		{name: "nothing", battery: "none", temperature: "none", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hw := &fakeHardware{}
			got, err := sensorSources(hw, config.Sensor{BatterySource: tt.battery, TemperatureSource: tt.temperature})
			if err != nil {
				t.Fatalf("sensorSources() error = %v", err)
			}
			var names []string
			for _, s := range got {
				names = append(names, s.Name())
			}
			if strings.Join(names, ",") != tt.want {
				t.Errorf("sources = %v, want %q", names, tt.want)
			}
		})
	}
}

func TestSensorSources_OpenError(t *testing.T) {
	hw := &fakeHardware{err: errors.New("no such device")}
	if _, err := sensorSources(hw, config.Sensor{BatterySource: "ads1115", TemperatureSource: "cpu"}); err == nil {
		t.Fatal("sensorSources() error = nil, want non-nil")
	}
}
