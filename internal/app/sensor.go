package app

import (
	"context"
	"fmt"
	"log/slog"

	"broadcastnet/internal/ble"
	"broadcastnet/internal/config"
	"broadcastnet/internal/sensor"
)

type hardware interface {
	Battery(addr uint16, channel int, divider float64) (sensor.Source, error)
	Environment(addr uint16) (sensor.Source, error)
	CPUTemperature(zone string) (sensor.Source, error)
}

// RunSensor samples the configured sources and broadcasts them until ctx is
// done.
func RunSensor(ctx context.Context, cfg config.Sensor, logger *slog.Logger) error {
	hw, err := sensor.OpenHardware()
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			logger.Warn("hardware close", "error", err)
		}
	}()

	sources, err := sensorSources(hw, cfg)
	if err != nil {
		return err
	}

	adv, err := ble.NewAdvertiser(ble.AdvertiserOptions{
		Adapter:  cfg.BLEAdapter,
		Duration: cfg.AdvertiseDuration,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	node, err := sensor.NewNode(sensor.Options{
		Interval:    cfg.BroadcastInterval,
		Sources:     sources,
		Broadcaster: adv,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("this is sensor",
		"adapter", cfg.BLEAdapter,
		"interval", cfg.BroadcastInterval,
		"sources", len(sources),
	)
	return node.Run(ctx)
}

func sensorSources(hw hardware, cfg config.Sensor) ([]sensor.Source, error) {
	var out []sensor.Source

	switch cfg.BatterySource {
	case "ads1115":
		s, err := hw.Battery(cfg.ADS1115Address, cfg.ADS1115Channel, cfg.BatteryDivider)
		if err != nil {
			return nil, fmt.Errorf("battery source: %w", err)
		}
		out = append(out, s)
	case "none", "":
	default:
		return nil, fmt.Errorf("unknown battery source %q", cfg.BatterySource)
	}

	switch cfg.TemperatureSource {
	case "cpu":
		s, err := hw.CPUTemperature(cfg.ThermalZone)
		if err != nil {
			return nil, fmt.Errorf("temperature source: %w", err)
		}
		out = append(out, s)
	case "bme280":
		s, err := hw.Environment(cfg.BME280Address)
		if err != nil {
			return nil, fmt.Errorf("temperature source: %w", err)
		}
		out = append(out, s)
	case "none", "":
	default:
		return nil, fmt.Errorf("unknown temperature source %q", cfg.TemperatureSource)
	}

	return out, nil
}
