package config

import (
	"log/slog"
	"testing"
	"time"
)

var bridgeKeys = []string{
	"APP_ENV", "LOG_LEVEL", "AIO_BASE_URL", "AIO_TIMEOUT", "BLE_ADAPTER", "BRIDGE_ADDRESS",
	"SCAN_BUFFER", "HTTP_ADDR", "SQLITE_PATH", "SQLITE_DSN", "DB_MAX_OPEN_CONNS", "DB_LOG_SQL",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID", "MQTT_TOPIC_PREFIX",
}

var sensorKeys = []string{
	"APP_ENV", "LOG_LEVEL", "BLE_ADAPTER", "BROADCAST_INTERVAL", "ADVERTISE_DURATION",
	"SENSOR_BATTERY_SOURCE", "ADS1115_ADDRESS", "ADS1115_CHANNEL", "BATTERY_DIVIDER_RATIO",
	"SENSOR_TEMPERATURE_SOURCE", "BME280_ADDRESS", "THERMAL_ZONE",
}

func setBridgeEnv(t *testing.T) {
	t.Helper()
	for _, k := range bridgeKeys {
		t.Setenv(k, "")
	}
	t.Setenv("AIO_USERNAME", "alice")
	t.Setenv("AIO_KEY", "aio_secret")
}

func setSensorEnv(t *testing.T) {
	t.Helper()
	for _, k := range sensorKeys {
		t.Setenv(k, "")
	}
}

func TestLoadBridgeFromEnv_Defaults(t *testing.T) {
	setBridgeEnv(t)

	got, err := LoadBridgeFromEnv()
	if err != nil {
		t.Fatalf("LoadBridgeFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.AIOBaseURL != "https://io.adafruit.com/api/v2" {
		t.Errorf("AIOBaseURL = %q", got.AIOBaseURL)
	}
	if got.AIOTimeout != 30*time.Second {
		t.Errorf("AIOTimeout = %v, want 30s", got.AIOTimeout)
	}
	if got.BLEAdapter != "hci0" {
		t.Errorf("BLEAdapter = %q, want hci0", got.BLEAdapter)
	}
	if got.ScanBuffer != 64 {
		t.Errorf("ScanBuffer = %d, want 64", got.ScanBuffer)
	}
	if got.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", got.HTTPAddr, ":8080")
	}
	if got.MQTTBroker != "" {
		t.Errorf("MQTTBroker = %q, want empty", got.MQTTBroker)
	}
	if got.MQTTPort != 1883 {
		t.Errorf("MQTTPort = %d, want 1883", got.MQTTPort)
	}
	if got.MQTTTopicPrefix != "broadcastnet" {
		t.Errorf("MQTTTopicPrefix = %q, want broadcastnet", got.MQTTTopicPrefix)
	}
	if got.SQLiteMaxOpenConns != 1 {
		t.Errorf("SQLiteMaxOpenConns = %d, want 1", got.SQLiteMaxOpenConns)
	}
}

func TestLoadBridgeFromEnv_Required(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "username", key: "AIO_USERNAME"},
		{name: "key", key: "AIO_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBridgeEnv(t)
			t.Setenv(tt.key, "  ")

			if _, err := LoadBridgeFromEnv(); err == nil {
				t.Fatalf("LoadBridgeFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadBridgeFromEnv_BridgeAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "empty", in: "", want: ""},
		{name: "colons", in: "AA:BB:CC:DD:EE:FF", want: "aabbccddeeff"},
		{name: "bare", in: "0123456789ab", want: "0123456789ab"},
		{name: "short", in: "aabb", wantErr: true},
		{name: "not hex", in: "zzbbccddeeff", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBridgeEnv(t)
			t.Setenv("BRIDGE_ADDRESS", tt.in)

			got, err := LoadBridgeFromEnv()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("LoadBridgeFromEnv() error = nil, want non-nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadBridgeFromEnv() error = %v, want nil", err)
			}
			if got.BridgeAddress != tt.want {
				t.Errorf("BridgeAddress = %q, want %q", got.BridgeAddress, tt.want)
			}
		})
	}
}

func TestLoadBridgeFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "app env", key: "APP_ENV", value: "staging"},
		{name: "log level", key: "LOG_LEVEL", value: "trace"},
		{name: "timeout", key: "AIO_TIMEOUT", value: "soon"},
		{name: "negative timeout", key: "AIO_TIMEOUT", value: "-1s"},
		{name: "scan buffer zero", key: "SCAN_BUFFER", value: "0"},
		{name: "scan buffer text", key: "SCAN_BUFFER", value: "many"},
		{name: "mqtt port", key: "MQTT_PORT", value: "abc"},
		{name: "log sql", key: "DB_LOG_SQL", value: "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBridgeEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := LoadBridgeFromEnv(); err == nil {
				t.Fatalf("LoadBridgeFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadBridgeFromEnv_TopicPrefixTrimmed(t *testing.T) {
	setBridgeEnv(t)
	t.Setenv("MQTT_TOPIC_PREFIX", "/home/ble/")

	got, err := LoadBridgeFromEnv()
	if err != nil {
		t.Fatalf("LoadBridgeFromEnv() error = %v, want nil", err)
	}
	if got.MQTTTopicPrefix != "home/ble" {
		t.Errorf("MQTTTopicPrefix = %q, want %q", got.MQTTTopicPrefix, "home/ble")
	}
}

func TestLoadSensorFromEnv_Defaults(t *testing.T) {
	setSensorEnv(t)

	got, err := LoadSensorFromEnv()
	if err != nil {
		t.Fatalf("LoadSensorFromEnv() error = %v, want nil", err)
	}
	if got.BroadcastInterval != 30*time.Second {
		t.Errorf("BroadcastInterval = %v, want 30s", got.BroadcastInterval)
	}
	if got.AdvertiseDuration != time.Second {
		t.Errorf("AdvertiseDuration = %v, want 1s", got.AdvertiseDuration)
	}
	if got.BatterySource != "ads1115" {
		t.Errorf("BatterySource = %q, want ads1115", got.BatterySource)
	}
	if got.ADS1115Address != 0x48 {
		t.Errorf("ADS1115Address = %#x, want 0x48", got.ADS1115Address)
	}
	if got.BatteryDivider != 2 {
		t.Errorf("BatteryDivider = %v, want 2", got.BatteryDivider)
	}
	if got.TemperatureSource != "cpu" {
		t.Errorf("TemperatureSource = %q, want cpu", got.TemperatureSource)
	}
	if got.BME280Address != 0x76 {
		t.Errorf("BME280Address = %#x, want 0x76", got.BME280Address)
	}
	if got.ThermalZone != "thermal_zone0" {
		t.Errorf("ThermalZone = %q, want thermal_zone0", got.ThermalZone)
	}
}

func TestLoadSensorFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "interval zero", key: "BROADCAST_INTERVAL", value: "0s"},
		{name: "advertise longer than interval", key: "ADVERTISE_DURATION", value: "1m"},
		{name: "battery source", key: "SENSOR_BATTERY_SOURCE", value: "ina219"},
		{name: "ads address", key: "ADS1115_ADDRESS", value: "0x1ffff"},
		{name: "ads channel", key: "ADS1115_CHANNEL", value: "4"},
		{name: "divider", key: "BATTERY_DIVIDER_RATIO", value: "0"},
		{name: "temperature source", key: "SENSOR_TEMPERATURE_SOURCE", value: "dht22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setSensorEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := LoadSensorFromEnv(); err == nil {
				t.Fatalf("LoadSensorFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: " warning ", want: slog.LevelWarn},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadMigrateFromEnv(t *testing.T) {
	for _, k := range []string{"APP_ENV", "LOG_LEVEL", "SQLITE_PATH", "SQLITE_DSN", "DB_MAX_OPEN_CONNS", "DB_LOG_SQL", "AIO_USERNAME", "AIO_KEY"} {
		t.Setenv(k, "")
	}
	t.Setenv("SQLITE_PATH", "/var/lib/broadcastnet/bridge.db")
	t.Setenv("DB_LOG_SQL", "true")

	got, err := LoadMigrateFromEnv()
	if err != nil {
		t.Fatalf("LoadMigrateFromEnv() error = %v, want nil", err)
	}
	if got.SQLitePath != "/var/lib/broadcastnet/bridge.db" {
		t.Errorf("SQLitePath = %q", got.SQLitePath)
	}
	if !got.SQLiteLogSQL {
		t.Error("SQLiteLogSQL = false, want true")
	}
	if got.SQLiteMaxOpenConns != 1 {
		t.Errorf("SQLiteMaxOpenConns = %d, want 1", got.SQLiteMaxOpenConns)
	}

	t.Setenv("DB_MAX_OPEN_CONNS", "-2")
	if _, err := LoadMigrateFromEnv(); err == nil {
		t.Fatal("LoadMigrateFromEnv() with negative DB_MAX_OPEN_CONNS: error = nil, want non-nil")
	}
}
