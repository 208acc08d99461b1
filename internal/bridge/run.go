package bridge

import (
	"context"
	"fmt"

	"broadcastnet/internal/measurement"
)

// Source yields received measurements one at a time. Next blocks until a
// measurement arrives, ctx is done or the source fails for good.
type Source interface {
	Next(ctx context.Context) (measurement.Measurement, error)
}

// Run pulls measurements until ctx is done or the source fails. Errors of a
// single cycle are logged and do not stop the loop.
func (b *Bridge) Run(ctx context.Context, src Source) error {
	b.logger.Info("scanning", "bridge", b.address)
	for {
		m, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("next measurement: %w", err)
		}
		b.logger.Debug("measurement received",
			"sender", m.Address.String(),
			"rssi", m.RSSI,
			"measurement", m.String(),
		)
		if _, err := b.Process(ctx, m); err != nil {
			b.logger.Error("upload cycle failed",
				"sender", m.Address.String(),
				"sequence", m.Sequence,
				"error", err,
			)
		}
	}
}
