package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/pylonmon/internal/table"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/pylonmon/config.yaml"

// redacted replaces secrets in API output.
const redacted = "********"

// Config holds all monitor configuration.
type Config struct {
	mu sync.RWMutex

	// Battery console
	Device DeviceConfig `yaml:"device" json:"device"`
	Table  TableConfig  `yaml:"table" json:"table"`

	// Telemetry sink
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`

	// Poll loop
	Poll PollConfig `yaml:"poll" json:"poll"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type DeviceConfig struct {
	Type     string `yaml:"type" json:"type"` // "raw", "serial" or "demo"
	Path     string `yaml:"path" json:"path"` // e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	Retries  int    `yaml:"retries" json:"retries"` // extra attempts per command
	Probe    bool   `yaml:"probe" json:"probe"`     // resync the prompt before each command
}

type TableConfig struct {
	Strategy string `yaml:"strategy" json:"strategy"` // "tokens" or "columns"
	Coercion string `yaml:"coercion" json:"coercion"` // "", "strict" or "lenient"
}

type MQTTConfig struct {
	Server    string `yaml:"server" json:"server"` // empty logs payloads instead
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	ClientID  string `yaml:"client_id" json:"clientId"`
	Topic     string `yaml:"topic" json:"topic"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeoutMs"`
}

type PollConfig struct {
	Command     string  `yaml:"command" json:"command"`
	Interval    float64 `yaml:"interval_s" json:"intervalS"`     // seconds between poll starts
	MaxFailures int     `yaml:"max_failures" json:"maxFailures"` // 0 polls forever
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"` // empty disables HTTP
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:     "raw",
			Path:     "/dev/ttyUSB0",
			BaudRate: 115200,
			Retries:  1,
			Probe:    true,
		},
		Table: TableConfig{
			Strategy: "tokens",
		},
		MQTT: MQTTConfig{
			ClientID:  "pylonmon",
			Topic:     "pylon/power",
			TimeoutMs: 10000,
		},
		Poll: PollConfig{
			Command:  "pwr",
			Interval: 5,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Path:    "/var/log/pylonmon",
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
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Only set if not already set in real env (real env takes precedence)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: DEVICE, DEVICE_TYPE, DEVICE_BAUD, RETRIES, COMMAND, MQTT_SERVER,
// MQTT_USER, MQTT_PASS, MQTT_CLIENT_ID, MQTT_TOPIC, SLEEP_ITERATION,
// TABLE_STRATEGY, TABLE_COERCION, LISTEN_ADDR, LOG_ENABLED, LOG_PATH,
// LOG_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEVICE"); v != "" {
		c.Device.Path = v
	}
	if v := os.Getenv("DEVICE_TYPE"); v != "" {
		c.Device.Type = v
	}
	if v := os.Getenv("DEVICE_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Device.BaudRate = n
		}
	}
	if v := os.Getenv("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Device.Retries = n
		}
	}
	if v := os.Getenv("COMMAND"); v != "" {
		c.Poll.Command = v
	}
	// MQTT
	if v := os.Getenv("MQTT_SERVER"); v != "" {
		c.MQTT.Server = v
	}
	if v := os.Getenv("MQTT_USER"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASS"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.Topic = v
	}
	if v := os.Getenv("SLEEP_ITERATION"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Poll.Interval = n
		}
	}
	if v := os.Getenv("TABLE_STRATEGY"); v != "" {
		c.Table.Strategy = v
	}
	if v := os.Getenv("TABLE_COERCION"); v != "" {
		c.Table.Coercion = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
}

// Validate reports settings the monitor cannot run with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	switch c.Device.Type {
	case "raw", "serial":
		if c.Device.Path == "" {
			errs = append(errs, errors.New("device.path is required"))
		}
	case "demo":
	default:
		errs = append(errs, fmt.Errorf("device.type %q is not raw, serial or demo", c.Device.Type))
	}
	if c.Device.Retries < 0 {
		errs = append(errs, errors.New("device.retries must not be negative"))
	}
	if strings.TrimSpace(c.Poll.Command) == "" {
		errs = append(errs, errors.New("poll.command is required"))
	}
	if c.Poll.Interval < 0 {
		errs = append(errs, errors.New("poll.interval_s must not be negative"))
	}
	if c.MQTT.Server != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required with mqtt.server"))
	}
	if _, err := table.ParseStrategy(c.Table.Strategy, table.PowerSchema()); err != nil {
		errs = append(errs, err)
	}
	if _, err := table.ParseCoercion(c.Table.Coercion); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Poll.Interval * float64(time.Second))
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = DefaultPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// ToJSON serializes config for the API with the broker password redacted.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, err := c.toMap()
	if err != nil {
		return nil, err
	}
	if mq, ok := m["mqtt"].(map[string]interface{}); ok && c.MQTT.Password != "" {
		mq["password"] = redacted
	}
	return json.Marshal(m)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved, as is the password when the redacted
// placeholder is sent back.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	base, err := c.toMap()
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	password := c.MQTT.Password
	deepMerge(base, patch)

	// Marshal merged result and unmarshal back into the config struct
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	if err := json.Unmarshal(merged, c); err != nil {
		return err
	}
	if c.MQTT.Password == redacted {
		c.MQTT.Password = password
	}
	return nil
}

// LoggingEnabled reports the current logging toggle.
func (c *Config) LoggingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging.Enabled
}

func (c *Config) toMap() (map[string]interface{}, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
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
