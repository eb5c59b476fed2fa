package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"smart_farm/internal/sysmgr"
)

// appConfig is the process configuration read from the environment. The
// greenhouse thresholds live in sysmgr.Config and are changed at runtime.
type appConfig struct {
	HTTPAddr  string
	LogLevel  slog.Level
	Tick      time.Duration
	SensorIDs []int
	Units     map[sysmgr.Class][]int
	FireC     float64
	TempAlpha float64
	HumAlpha  float64

	ActuatorBackend string // serial | gpio
	RelayPins       string

	SerialPort  string
	SerialBaud  int
	SensorStale time.Duration

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	DBDriver  string // postgres | sqlite3 | "" for file storage
	DBDSN     string
	ConfigDir string

	KafkaBrokers []string
	LedgerTopic  string
}

var unitVars = map[sysmgr.Class]string{
	sysmgr.ClassFan:    "FAN_UNITS",
	sysmgr.ClassHeater: "HEATER_UNITS",
	sysmgr.ClassPump:   "PUMP_UNITS",
	sysmgr.ClassVent:   "VENT_UNITS",
	sysmgr.ClassLight:  "LIGHT_UNITS",
	sysmgr.ClassLED:    "LED_UNITS",
}

func loadEnv() (*appConfig, error) {
	cfg := &appConfig{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		Tick:            time.Duration(getEnvInt("TICK_MS", 1000)) * time.Millisecond,
		FireC:           getEnvFloat("FIRE_THRESHOLD_C", sysmgr.DefaultFireThresholdC),
		TempAlpha:       getEnvFloat("TEMP_ALPHA", sysmgr.DefaultTempAlpha),
		HumAlpha:        getEnvFloat("HUM_ALPHA", sysmgr.DefaultHumAlpha),
		ActuatorBackend: getEnv("ACTUATOR_BACKEND", "serial"),
		RelayPins:       os.Getenv("RELAY_PINS"),
		SerialPort:      getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud:      getEnvInt("SERIAL_BAUD", 115200),
		SensorStale:     time.Duration(getEnvInt("SENSOR_STALE_SEC", 30)) * time.Second,
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "smartfarm-sysmgr"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "smartfarm"),
		DBDriver:        os.Getenv("DB_DRIVER"),
		DBDSN:           os.Getenv("DB_DSN"),
		ConfigDir:       getEnv("CONFIG_DIR", "./data"),
		KafkaBrokers:    splitAndTrim(os.Getenv("KAFKA_BROKERS"), ","),
		LedgerTopic:     getEnv("LEDGER_TOPIC", "smartfarm.sysmgr.ledger"),
		Units:           map[sysmgr.Class][]int{},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "INFO"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.SensorIDs, err = parseInts(getEnv("SENSOR_IDS", "1,2,3,4")); err != nil {
		return nil, fmt.Errorf("SENSOR_IDS: %w", err)
	}
	if len(cfg.SensorIDs) == 0 {
		return nil, fmt.Errorf("SENSOR_IDS: %w: at least one sensor is required", sysmgr.ErrInvalidParameter)
	}
	for c, name := range unitVars {
		if cfg.Units[c], err = parseInts(getEnv(name, "0")); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	switch cfg.ActuatorBackend {
	case "serial":
	case "gpio":
		if cfg.RelayPins == "" {
			return nil, fmt.Errorf("RELAY_PINS is required for the gpio backend")
		}
	default:
		return nil, fmt.Errorf("ACTUATOR_BACKEND: %w: %q", sysmgr.ErrNotSupported, cfg.ActuatorBackend)
	}
	if cfg.DBDriver != "" && cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required when DB_DRIVER is set")
	}
	return cfg, nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range splitAndTrim(s, ",") {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", sysmgr.ErrInvalidParameter, p)
		}
		out = append(out, n)
	}
	return out, nil
}
