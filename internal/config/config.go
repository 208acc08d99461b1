package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common is shared by every program of the module.
type Common struct {
	AppEnv   string
	LogLevel slog.Level
}

type Bridge struct {
	Common

	AIOBaseURL  string
	AIOUsername string
	AIOKey      string
	AIOTimeout  time.Duration

	BLEAdapter    string
	BridgeAddress string
	ScanBuffer    int

	HTTPAddr string

	Archive

	// MQTTBroker empty disables the mirror.
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
}

// Archive locates the local SQLite history.
type Archive struct {
	SQLitePath         string
	SQLiteDSN          string
	SQLiteMaxOpenConns int
	SQLiteLogSQL       bool
}

// Migrate is the configuration of the migration tool. It needs no remote
// credentials.
type Migrate struct {
	Common
	Archive
}

type Sensor struct {
	Common

	BLEAdapter        string
	BroadcastInterval time.Duration
	AdvertiseDuration time.Duration
	BatterySource     string
	ADS1115Address    uint16
	ADS1115Channel    int
	BatteryDivider    float64
	TemperatureSource string
	BME280Address     uint16
	ThermalZone       string
}

func loadCommon() (Common, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Common{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Common{}, err
	}
	return Common{AppEnv: appEnv, LogLevel: level}, nil
}

func LoadBridgeFromEnv() (Bridge, error) {
	common, err := loadCommon()
	if err != nil {
		return Bridge{}, err
	}

	aioUsername := strings.TrimSpace(os.Getenv("AIO_USERNAME"))
	if aioUsername == "" {
		return Bridge{}, fmt.Errorf("AIO_USERNAME is required")
	}
	aioKey := strings.TrimSpace(os.Getenv("AIO_KEY"))
	if aioKey == "" {
		return Bridge{}, fmt.Errorf("AIO_KEY is required")
	}
	aioBaseURL := envString("AIO_BASE_URL", "https://io.adafruit.com/api/v2")
	aioTimeout, err := envDuration("AIO_TIMEOUT", "30s")
	if err != nil {
		return Bridge{}, err
	}
	if aioTimeout < 0 {
		return Bridge{}, fmt.Errorf("AIO_TIMEOUT must not be negative, got %v", aioTimeout)
	}

	bridgeAddress := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(os.Getenv("BRIDGE_ADDRESS"))))
	if bridgeAddress != "" && !isHex(bridgeAddress, 12) {
		return Bridge{}, fmt.Errorf("invalid BRIDGE_ADDRESS %q (want 6 hex bytes)", os.Getenv("BRIDGE_ADDRESS"))
	}

	scanBuffer, err := envInt("SCAN_BUFFER", "64")
	if err != nil {
		return Bridge{}, err
	}
	if scanBuffer <= 0 {
		return Bridge{}, fmt.Errorf("SCAN_BUFFER must be positive, got %d", scanBuffer)
	}

	archive, err := loadArchive()
	if err != nil {
		return Bridge{}, err
	}

	mqttPort, err := envInt("MQTT_PORT", "1883")
	if err != nil {
		return Bridge{}, err
	}

	return Bridge{
		Common:          common,
		AIOBaseURL:      aioBaseURL,
		AIOUsername:     aioUsername,
		AIOKey:          aioKey,
		AIOTimeout:      aioTimeout,
		BLEAdapter:      envString("BLE_ADAPTER", "hci0"),
		BridgeAddress:   bridgeAddress,
		ScanBuffer:      scanBuffer,
		HTTPAddr:        envString("HTTP_ADDR", ":8080"),
		Archive:         archive,
		MQTTBroker:      strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:        mqttPort,
		MQTTClientID:    envString("MQTT_CLIENT_ID", "broadcastnet-bridge"),
		MQTTTopicPrefix: strings.Trim(envString("MQTT_TOPIC_PREFIX", "broadcastnet"), "/"),
	}, nil
}

func LoadMigrateFromEnv() (Migrate, error) {
	common, err := loadCommon()
	if err != nil {
		return Migrate{}, err
	}
	archive, err := loadArchive()
	if err != nil {
		return Migrate{}, err
	}
	return Migrate{Common: common, Archive: archive}, nil
}

func loadArchive() (Archive, error) {
	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", "1")
	if err != nil {
		return Archive{}, err
	}
	if maxOpenConns < 0 {
		return Archive{}, fmt.Errorf("DB_MAX_OPEN_CONNS must not be negative, got %d", maxOpenConns)
	}
	logSQL, err := envBool("DB_LOG_SQL", "false")
	if err != nil {
		return Archive{}, err
	}
	return Archive{
		SQLitePath:         envString("SQLITE_PATH", "data/broadcastnet.db"),
		SQLiteDSN:          strings.TrimSpace(os.Getenv("SQLITE_DSN")),
		SQLiteMaxOpenConns: maxOpenConns,
		SQLiteLogSQL:       logSQL,
	}, nil
}

func LoadSensorFromEnv() (Sensor, error) {
	common, err := loadCommon()
	if err != nil {
		return Sensor{}, err
	}

	interval, err := envDuration("BROADCAST_INTERVAL", "30s")
	if err != nil {
		return Sensor{}, err
	}
	if interval <= 0 {
		return Sensor{}, fmt.Errorf("BROADCAST_INTERVAL must be positive, got %v", interval)
	}
	advertise, err := envDuration("ADVERTISE_DURATION", "1s")
	if err != nil {
		return Sensor{}, err
	}
	if advertise <= 0 || advertise > interval {
		return Sensor{}, fmt.Errorf("ADVERTISE_DURATION must be in (0, BROADCAST_INTERVAL], got %v", advertise)
	}

	batterySource := strings.ToLower(envString("SENSOR_BATTERY_SOURCE", "ads1115"))
	switch batterySource {
	case "ads1115", "none":
	default:
		return Sensor{}, fmt.Errorf("invalid SENSOR_BATTERY_SOURCE %q (allowed: ads1115, none)", batterySource)
	}
	adsAddress, err := envUint16("ADS1115_ADDRESS", "0x48")
	if err != nil {
		return Sensor{}, err
	}
	adsChannel, err := envInt("ADS1115_CHANNEL", "0")
	if err != nil {
		return Sensor{}, err
	}
	if adsChannel < 0 || adsChannel > 3 {
		return Sensor{}, fmt.Errorf("ADS1115_CHANNEL must be 0-3, got %d", adsChannel)
	}
	dividerStr := envString("BATTERY_DIVIDER_RATIO", "2")
	divider, err := strconv.ParseFloat(dividerStr, 64)
	if err != nil {
		return Sensor{}, fmt.Errorf("invalid BATTERY_DIVIDER_RATIO %q: %w", dividerStr, err)
	}
	if divider <= 0 {
		return Sensor{}, fmt.Errorf("BATTERY_DIVIDER_RATIO must be positive, got %v", divider)
	}

	temperatureSource := strings.ToLower(envString("SENSOR_TEMPERATURE_SOURCE", "cpu"))
	switch temperatureSource {
	case "cpu", "bme280", "none":
	default:
		return Sensor{}, fmt.Errorf("invalid SENSOR_TEMPERATURE_SOURCE %q (allowed: cpu, bme280, none)", temperatureSource)
	}
	bme280Address, err := envUint16("BME280_ADDRESS", "0x76")
	if err != nil {
		return Sensor{}, err
	}

	return Sensor{
		Common:            common,
		BLEAdapter:        envString("BLE_ADAPTER", "hci0"),
		BroadcastInterval: interval,
		AdvertiseDuration: advertise,
		BatterySource:     batterySource,
		ADS1115Address:    adsAddress,
		ADS1115Channel:    adsChannel,
		BatteryDivider:    divider,
		TemperatureSource: temperatureSource,
		BME280Address:     bme280Address,
		ThermalZone:       envString("THERMAL_ZONE", "thermal_zone0"),
	}, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key, def string) (int, error) {
	s := envString(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envUint16(key, def string) (uint16, error) {
	s := envString(key, def)
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return uint16(n), nil
}

func envBool(key, def string) (bool, error) {
	s := envString(key, def)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func envDuration(key, def string) (time.Duration, error) {
	s := envString(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
