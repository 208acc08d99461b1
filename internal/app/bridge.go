package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"broadcastnet/internal/aio"
	"broadcastnet/internal/archive"
	"broadcastnet/internal/ble"
	"broadcastnet/internal/bridge"
	"broadcastnet/internal/config"
	"broadcastnet/internal/db"
	"broadcastnet/internal/db/migrate"
	"broadcastnet/internal/httpapi"
	"broadcastnet/internal/measurement"
	"broadcastnet/internal/metrics"
	"broadcastnet/internal/mqtt"
)

const shutdownTimeout = 5 * time.Second

// RunBridge scans for sensor broadcasts and uploads them until ctx is done.
func RunBridge(ctx context.Context, cfg config.Bridge, logger *slog.Logger) error {
	m := metrics.New()

	listener := ble.NewListener(ble.Options{
		Adapter: cfg.BLEAdapter,
		Buffer:  cfg.ScanBuffer,
		Filter:  ble.Filter{CompanyID: measurement.CompanyID},
		Metrics: m,
		Logger:  logger,
	})
	if err := listener.Enable(); err != nil {
		return err
	}

	address := cfg.BridgeAddress
	if address == "" {
		var err error
		if address, err = listener.Address(); err != nil {
			return err
		}
	}
	logger.Info("this is bridge", "address", address, "adapter", cfg.BLEAdapter)

	return serveBridge(ctx, cfg, logger, m, listener, address)
}

// scanSource delivers measurements once started.
type scanSource interface {
	bridge.Source
	Start(ctx context.Context) error
}

// serveBridge starts scanning only after the registry has been restored.
func serveBridge(ctx context.Context, cfg config.Bridge, logger *slog.Logger, m *metrics.Metrics, src scanSource, address string) error {
	conn, err := db.Open(ctx, db.Options{
		Path:         cfg.SQLitePath,
		DSN:          cfg.SQLiteDSN,
		MaxOpenConns: cfg.SQLiteMaxOpenConns,
		LogSQL:       cfg.SQLiteLogSQL,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			logger.Error("db close", "error", err)
		}
	}()
	if _, err := migrate.Run(ctx, conn, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	repo := archive.NewRepository(conn)

	remote, err := aio.NewClient(aio.Options{
		BaseURL:  cfg.AIOBaseURL,
		Username: cfg.AIOUsername,
		Key:      cfg.AIOKey,
		Timeout:  cfg.AIOTimeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	reporters := []bridge.Reporter{repo}
	if cfg.MQTTBroker != "" {
		mirror, err := startMirror(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer mirror.Disconnect()
		reporters = append(reporters, mirrorReporter(mirror))
	}

	b, err := bridge.New(bridge.Options{
		Address:   address,
		Remote:    remote,
		Reporters: reporters,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	logger.Info("fetching existing feeds")
	if err := b.LoadExisting(ctx); err != nil {
		return err
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(httpapi.Deps{
		Bridge:  address,
		Archive: repo,
		Metrics: m,
	}), logger)
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", cfg.HTTPAddr, err)
	}
	go func() {
		logger.Info("http listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	if err := src.Start(ctx); err != nil {
		return err
	}
	return b.Run(ctx, src)
}

func startMirror(ctx context.Context, cfg config.Bridge, logger *slog.Logger) (*mqtt.Client, error) {
	logger.Info("initializing mqtt mirror",
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
	)
	mirror, err := mqtt.NewClient(mqtt.Options{
		Broker:      cfg.MQTTBroker,
		Port:        cfg.MQTTPort,
		ClientID:    cfg.MQTTClientID,
		TopicPrefix: cfg.MQTTTopicPrefix,
	}, logger)
	if err != nil {
		return nil, err
	}
	go func() {
		// paho keeps retrying in the background; cycles are skipped until then.
		if err := mirror.Connect(ctx); err != nil && ctx.Err() == nil {
			logger.Error("mqtt connect failed", "error", err)
		}
	}()
	return mirror, nil
}

func mirrorReporter(mirror *mqtt.Client) bridge.Reporter {
	return bridge.ReporterFunc(func(ctx context.Context, c bridge.Cycle) error {
		if !mirror.IsConnected() {
			return nil
		}
		return mirror.ReportCycle(ctx, c)
	})
}
