package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shaunagostinho/luminox-dash/internal/luminox"
	"gopkg.in/yaml.v3"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Sensor serial port and protocol
	Sensor luminox.DeviceConfig `yaml:"sensor" json:"sensor"`

	// Polling
	Poll PollConfig `yaml:"poll" json:"poll"`

	// Display preferences
	Display DisplayConfig `yaml:"display" json:"display"`

	// CSV logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// MQTT publishing
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms" json:"intervalMs"` // ms between 'A' requests
}

type DisplayConfig struct {
	Thresholds ThresholdConfig `yaml:"thresholds" json:"thresholds"`
	Layout     string          `yaml:"layout" json:"layout"` // "gauge" or "table"
}

// ThresholdConfig drives the warning colours of the dashboard.
type ThresholdConfig struct {
	PPO2Low      float64 `yaml:"ppo2_low" json:"ppo2Low"`            // mbar
	PPO2High     float64 `yaml:"ppo2_high" json:"ppo2High"`          // mbar
	PercentLow   float64 `yaml:"percent_low" json:"percentLow"`      // %
	PercentHigh  float64 `yaml:"percent_high" json:"percentHigh"`    // %
	TempHigh     float64 `yaml:"temp_high" json:"tempHigh"`          // °C
	StaleAfterMs int     `yaml:"stale_after_ms" json:"staleAfterMs"` // grey out old readings
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

type MQTTConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Server         string `yaml:"server" json:"server"` // tcp://host:1883
	Username       string `yaml:"username" json:"username"`
	Password       string `yaml:"password" json:"-"`
	ClientID       string `yaml:"client_id" json:"clientId"`
	StateTopic     string `yaml:"state_topic" json:"stateTopic"`
	DiscoveryTopic string `yaml:"discovery_topic" json:"discoveryTopic"` // Home Assistant, empty to skip
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sensor: luminox.DeviceConfig{
			Type:      "demo",
			PortPath:  "/dev/ttyLuminOx",
			BaudRate:  luminox.DefaultBaudRate,
			TimeoutMs: luminox.DefaultTimeoutMs,
			Retries:   luminox.DefaultRetries,
			PrintInfo: true,
		},
		Poll: PollConfig{
			IntervalMs: 1000,
		},
		Display: DisplayConfig{
			Thresholds: ThresholdConfig{
				PPO2Low:      160,
				PPO2High:     1600,
				PercentLow:   19.5,
				PercentHigh:  23.5,
				TempHigh:     50,
				StaleAfterMs: 5000,
			},
			Layout: "gauge",
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/luminox",
			Interval: 1000,
		},
		MQTT: MQTTConfig{
			Enabled:    false,
			Server:     "tcp://localhost:1883",
			ClientID:   "luminox-dash",
			StateTopic: "luminox/state",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		// Strip surrounding quotes
		val = strings.Trim(val, `"'`)
		// Only set if not already set in real env (real env takes precedence)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SENSOR_TYPE, SENSOR_PORT, SENSOR_BAUD, SENSOR_TIMEOUT_MS,
// SENSOR_RETRIES, SENSOR_DEBUG, POLL_MS, LISTEN_ADDR, LOG_ENABLED, LOG_PATH,
// LOG_INTERVAL_MS, MQTT_ENABLED, MQTT_SERVER, MQTT_USER, MQTT_PASS, MQTT_TOPIC
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SENSOR_TYPE"); v != "" {
		c.Sensor.Type = v
	}
	if v := os.Getenv("SENSOR_PORT"); v != "" {
		c.Sensor.PortPath = v
	}
	envInt("SENSOR_BAUD", &c.Sensor.BaudRate)
	envInt("SENSOR_TIMEOUT_MS", &c.Sensor.TimeoutMs)
	envInt("SENSOR_RETRIES", &c.Sensor.Retries)
	envBool("SENSOR_DEBUG", &c.Sensor.Debug)
	envInt("POLL_MS", &c.Poll.IntervalMs)
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Logging
	envBool("LOG_ENABLED", &c.Logging.Enabled)
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	envInt("LOG_INTERVAL_MS", &c.Logging.Interval)
	// MQTT
	envBool("MQTT_ENABLED", &c.MQTT.Enabled)
	if v := os.Getenv("MQTT_SERVER"); v != "" {
		c.MQTT.Server = v
	}
	if v := os.Getenv("MQTT_USER"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASS"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.StateTopic = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || v == "true" || v == "yes"
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/luminox/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port path, baud rate, MQTT password).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	// Deep merge patch into base
	deepMerge(base, patch)

	// Marshal merged result and unmarshal back into the config struct
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
