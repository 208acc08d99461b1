package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"

	"broadcastnet/internal/measurement"
)

type fakeSource struct {
	name   string
	field  string
	values []float64
	err    error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Read(m *measurement.Measurement) error {
	if f.err != nil {
		return f.err
	}
	return m.Set(f.field, f.values...)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	got    []measurement.Measurement
	err    error
	notify chan struct{}
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, m measurement.Measurement) error {
	f.mu.Lock()
	f.got = append(f.got, m)
	f.mu.Unlock()
	if f.notify != nil {
		f.notify <- struct{}{}
	}
	if _, err := measurement.Encode(m); err != nil {
		return err
	}
	return f.err
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSample_SequenceWraps(t *testing.T) {
	n, err := NewNode(Options{Broadcaster: &fakeBroadcaster{}, Logger: quiet()})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	n.seq = 254

	for _, want := range []uint8{254, 255, 0, 1} {
		if got := n.Sample().Sequence; got != want {
			t.Fatalf("Sequence = %d, want %d", got, want)
		}
	}
}

func TestSample_SkipsFailingSource(t *testing.T) {
	n, err := NewNode(Options{
		Broadcaster: &fakeBroadcaster{},
		Logger:      quiet(),
		Sources: []Source{
			&fakeSource{name: "battery", err: errors.New("i2c nack")},
			&fakeSource{name: "cpu", field: "temperature", values: []float64{41.5}},
		},
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	m := n.Sample()
	if _, ok := m.Get("battery_voltage"); ok {
		t.Error("battery_voltage present, want absent")
	}
	if v, ok := m.Get("temperature"); !ok || v[0] != 41.5 {
		t.Errorf("temperature = %v (%v), want 41.5", v, ok)
	}
}

func TestRun_BroadcastsUntilCancelled(t *testing.T) {
	b := &fakeBroadcaster{notify: make(chan struct{}, 8), err: errors.New("adapter busy")}
	n, err := NewNode(Options{
		Interval:    10 * time.Millisecond,
		Broadcaster: b,
		Logger:      quiet(),
		Sources:     []Source{&fakeSource{name: "battery", field: "battery_voltage", values: []float64{3700}}},
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-b.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("broadcast %d did not happen", i)
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < 3; i++ {
		if b.got[i].Sequence != uint8(i) {
			t.Errorf("broadcast %d sequence = %d, want %d", i, b.got[i].Sequence, i)
		}
	}
}

func TestNewNode_RequiresBroadcaster(t *testing.T) {
	if _, err := NewNode(Options{}); err == nil {
		t.Fatal("NewNode() error = nil, want non-nil")
	}
}

type fakePin struct {
	v physic.ElectricPotential
}

func (p fakePin) Read() (analog.Sample, error) { return analog.Sample{V: p.v}, nil }

func TestBatterySource(t *testing.T) {
	s := &batterySource{pin: fakePin{v: 1850 * physic.MilliVolt}, divider: 2}

	var m measurement.Measurement
	if err := s.Read(&m); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v, ok := m.Get("battery_voltage"); !ok || v[0] != 3700 {
		t.Errorf("battery_voltage = %v (%v), want 3700", v, ok)
	}
}

type fakeSenser struct {
	env physic.Env
}

func (f fakeSenser) Sense(e *physic.Env) error {
	*e = f.env
	return nil
}

func TestEnvSource(t *testing.T) {
	env := physic.Env{
		Temperature: physic.ZeroCelsius + 21*physic.Kelvin,
		Humidity:    45 * 100000,
	}

	var m measurement.Measurement
	if err := (&envSource{dev: fakeSenser{env: env}}).Read(&m); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v, ok := m.Get("temperature"); !ok || v[0] < 20.99 || v[0] > 21.01 {
		t.Errorf("temperature = %v (%v), want 21", v, ok)
	}
	if v, ok := m.Get("relative_humidity"); !ok || v[0] != 45 {
		t.Errorf("relative_humidity = %v (%v), want 45", v, ok)
	}

	var cpu measurement.Measurement
	if err := (&envSource{dev: fakeSenser{env: env}, temperatureOnly: true}).Read(&cpu); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := cpu.Get("relative_humidity"); ok {
		t.Error("cpu source set relative_humidity")
	}
}
