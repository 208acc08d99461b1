package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"

	"broadcastnet/internal/measurement"
	"broadcastnet/internal/utils"
)

type AdvertiserOptions struct {
	Adapter  string        // "hci0" by default
	Interval time.Duration // advertising interval, 100ms by default
	Duration time.Duration // how long each broadcast stays on air
	Logger   *slog.Logger
}

// Advertiser puts measurements on air as non-connectable advertisements
// carrying the encoded payload under measurement.CompanyID.
type Advertiser struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	opts    AdvertiserOptions
	logger  *slog.Logger
}

func NewAdvertiser(opts AdvertiserOptions) (*Advertiser, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Duration <= 0 {
		opts.Duration = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	adapter := bluetooth.NewAdapter(opts.Adapter)
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble enable (%s): %w", opts.Adapter, err)
	}
	return &Advertiser{
		adapter: adapter,
		adv:     adapter.DefaultAdvertisement(),
		opts:    opts,
		logger:  logger,
	}, nil
}

// Broadcast advertises m for the configured duration or until ctx is done.
func (a *Advertiser) Broadcast(ctx context.Context, m measurement.Measurement) error {
	data, err := measurement.Encode(m)
	if err != nil {
		return err
	}

	err = a.adv.Configure(bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		Interval:          bluetooth.NewDuration(a.opts.Interval),
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: measurement.CompanyID, Data: data},
		},
	})
	if err != nil {
		return fmt.Errorf("ble configure advertisement: %w", err)
	}
	if err := a.adv.Start(); err != nil {
		_ = a.adv.Stop()
		return fmt.Errorf("ble start advertisement: %w", err)
	}
	a.logger.Debug("ble: advertising",
		"sequence", m.Sequence,
		"data", utils.BytesToHex(data, 0),
	)

	t := time.NewTimer(a.opts.Duration)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}

	if err := a.adv.Stop(); err != nil {
		return fmt.Errorf("ble stop advertisement: %w", err)
	}
	return ctx.Err()
}
