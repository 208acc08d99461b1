package sensor

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/sysfs"

	"broadcastnet/internal/measurement"
)

// Hardware owns the periph host and the I2C bus shared by all sources.
type Hardware struct {
	bus     i2c.BusCloser
	closers []func() error
}

func OpenHardware() (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host.Init: %w", err)
	}
	return &Hardware{}, nil
}

func (h *Hardware) i2cBus() (i2c.Bus, error) {
	if h.bus != nil {
		return h.bus, nil
	}
	bus, err := i2creg.Open("") // default bus, usually /dev/i2c-1
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open: %w", err)
	}
	h.bus = bus
	return bus, nil
}

// Close halts every device and then the bus.
func (h *Hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	if h.bus != nil {
		errs = append(errs, h.bus.Close())
	}
	return errors.Join(errs...)
}

var adsChannels = []ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

// Battery reads a divided-down battery voltage from an ADS1115 channel.
func (h *Hardware) Battery(addr uint16, channel int, divider float64) (Source, error) {
	if channel < 0 || channel >= len(adsChannels) {
		return nil, fmt.Errorf("ads1115: invalid channel %d", channel)
	}
	bus, err := h.i2cBus()
	if err != nil {
		return nil, err
	}
	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: addr})
	if err != nil {
		return nil, fmt.Errorf("ads1x15.NewADS1115: %w", err)
	}
	pin, err := dev.PinForChannel(adsChannels[channel], 4096*physic.MilliVolt, 128*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		_ = dev.Halt()
		return nil, fmt.Errorf("ads1115 channel %d: %w", channel, err)
	}
	h.closers = append(h.closers, pin.Halt, dev.Halt)
	return &batterySource{pin: pin, divider: divider}, nil
}

// Environment reads temperature and relative humidity from a BME280.
// Pressure is left out to keep room in the advertisement.
func (h *Hardware) Environment(addr uint16) (Source, error) {
	bus, err := h.i2cBus()
	if err != nil {
		return nil, err
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmxx80.NewI2C: %w", err)
	}
	h.closers = append(h.closers, dev.Halt)
	return &envSource{dev: dev}, nil
}

// CPUTemperature reads the SoC temperature from a sysfs thermal zone.
func (h *Hardware) CPUTemperature(zone string) (Source, error) {
	ts, err := sysfs.ThermalSensorByName(zone)
	if err != nil {
		return nil, fmt.Errorf("thermal sensor %q: %w", zone, err)
	}
	return &envSource{dev: ts, temperatureOnly: true}, nil
}

type adcPin interface {
	Read() (analog.Sample, error)
}

type batterySource struct {
	pin     adcPin
	divider float64
}

func (s *batterySource) Name() string { return "battery" }

func (s *batterySource) Read(m *measurement.Measurement) error {
	sample, err := s.pin.Read()
	if err != nil {
		return err
	}
	return m.Set("battery_voltage", Millivolts(sample.V, s.divider))
}

// Millivolts converts a reading taken behind a voltage divider back to the
// source voltage in millivolts.
func Millivolts(v physic.ElectricPotential, divider float64) float64 {
	return float64(v) / float64(physic.MilliVolt) * divider
}

type senser interface {
	Sense(e *physic.Env) error
}

type envSource struct {
	dev             senser
	temperatureOnly bool
}

func (s *envSource) Name() string {
	if s.temperatureOnly {
		return "cpu_temperature"
	}
	return "bme280"
}

func (s *envSource) Read(m *measurement.Measurement) error {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return err
	}
	if err := m.Set("temperature", env.Temperature.Celsius()); err != nil {
		return err
	}
	if s.temperatureOnly {
		return nil
	}
	// env.Humidity is fixed point at 0.00001 %rH.
	return m.Set("relative_humidity", float64(env.Humidity)/100000.0)
}
