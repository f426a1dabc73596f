package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors Config for the optional TOML file. Durations are plain
// integers with a unit suffix in the key, never duration strings.
type fileConfig struct {
	Database      string   `toml:"database"`
	SlotName      string   `toml:"slot_name"`
	Plugin        string   `toml:"plugin"`
	DatabaseURL   string   `toml:"database_url"`
	Publications  []string `toml:"publications"`
	TableFilters  []string `toml:"table_filters"`
	AutoProvision bool     `toml:"auto_provision"`

	BatchSize      int    `toml:"batch_size"`
	BatchTimeoutMS int    `toml:"batch_timeout_ms"`
	Encoding       string `toml:"encoding"`

	Sink          string   `toml:"sink"`
	NATSURLs      []string `toml:"nats_urls"`
	NATSUsername  string   `toml:"nats_username"`
	NATSPassword  string   `toml:"nats_password"`
	NATSTimeoutMS int      `toml:"nats_timeout_ms"`
	StreamName    string   `toml:"stream_name"`
	KafkaBrokers  []string `toml:"kafka_brokers"`
	KafkaTopic    string   `toml:"kafka_topic"`

	CheckpointBackend    string `toml:"checkpoint_backend"`
	CheckpointIntervalMS int    `toml:"checkpoint_interval_ms"`
	RedisURL             string `toml:"redis_url"`
	CheckpointKey        string `toml:"checkpoint_key"`
	CheckpointTTLHours   int    `toml:"checkpoint_ttl_hours"`

	HealthAddr string `toml:"health_addr"`
	Debug      bool   `toml:"debug"`

	RawMessageBufferSize  int `toml:"raw_message_buffer_size"`
	ParsedEventBufferSize int `toml:"parsed_event_buffer_size"`
}

// Load builds the configuration in three layers: defaults, then the optional
// TOML file named by WIRECDC_CONFIG, then environment variables. Environment
// always wins.
func Load() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("WIRECDC_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	if fc.Database != "" {
		cfg.Database = fc.Database
	}
	if fc.SlotName != "" {
		cfg.SlotName = fc.SlotName
	}
	if fc.Plugin != "" {
		cfg.Plugin = fc.Plugin
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if len(fc.Publications) > 0 {
		cfg.Publications = fc.Publications
	}
	if len(fc.TableFilters) > 0 {
		cfg.TableFilters = fc.TableFilters
	}
	if fc.AutoProvision {
		cfg.AutoProvision = true
	}
	if fc.BatchSize > 0 {
		cfg.BatchSize = fc.BatchSize
	}
	if fc.BatchTimeoutMS > 0 {
		cfg.BatchTimeout = time.Duration(fc.BatchTimeoutMS) * time.Millisecond
	}
	if fc.Encoding != "" {
		cfg.Encoding = fc.Encoding
	}
	if fc.Sink != "" {
		cfg.Sink = fc.Sink
	}
	if len(fc.NATSURLs) > 0 {
		cfg.NATSURLs = fc.NATSURLs
	}
	if fc.NATSUsername != "" {
		cfg.NATSUsername = fc.NATSUsername
	}
	if fc.NATSPassword != "" {
		cfg.NATSPassword = fc.NATSPassword
	}
	if fc.NATSTimeoutMS > 0 {
		cfg.NATSTimeout = time.Duration(fc.NATSTimeoutMS) * time.Millisecond
	}
	if fc.StreamName != "" {
		cfg.StreamName = fc.StreamName
	}
	if len(fc.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fc.KafkaBrokers
	}
	if fc.KafkaTopic != "" {
		cfg.KafkaTopic = fc.KafkaTopic
	}
	if fc.CheckpointBackend != "" {
		cfg.CheckpointBackend = fc.CheckpointBackend
	}
	if fc.CheckpointIntervalMS > 0 {
		cfg.CheckpointFreq = time.Duration(fc.CheckpointIntervalMS) * time.Millisecond
	}
	if fc.RedisURL != "" {
		cfg.RedisURL = fc.RedisURL
	}
	if fc.CheckpointKey != "" {
		cfg.CheckpointKey = fc.CheckpointKey
	}
	if fc.CheckpointTTLHours > 0 {
		cfg.CheckpointTTL = time.Duration(fc.CheckpointTTLHours) * time.Hour
	}
	if fc.HealthAddr != "" {
		cfg.HealthAddr = fc.HealthAddr
	}
	if fc.Debug {
		cfg.Debug = true
	}
	if fc.RawMessageBufferSize > 0 {
		cfg.RawMessageBufferSize = fc.RawMessageBufferSize
	}
	if fc.ParsedEventBufferSize > 0 {
		cfg.ParsedEventBufferSize = fc.ParsedEventBufferSize
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CDC_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("CDC_SLOT_NAME"); v != "" {
		cfg.SlotName = v
	}
	if v := os.Getenv("CDC_PLUGIN"); v != "" {
		cfg.Plugin = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CDC_PUBLICATIONS"); v != "" {
		if out := splitList(v); len(out) > 0 {
			cfg.Publications = out
		}
	}
	if v := os.Getenv("TABLE_FILTERS"); v != "" {
		cfg.TableFilters = splitList(v)
	}
	if v := os.Getenv("AUTO_PROVISION"); v != "" {
		cfg.AutoProvision = isTruthy(v)
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = i
		}
	}
	if v := os.Getenv("BATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BatchTimeout = d
		}
	}
	if v := os.Getenv("CDC_ENCODING"); v != "" {
		cfg.Encoding = v
	}
	if v := os.Getenv("CDC_SINK"); v != "" {
		cfg.Sink = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURLs = strings.Split(v, ",")
	}
	if v := os.Getenv("NATS_USERNAME"); v != "" {
		cfg.NATSUsername = v
	}
	if v := os.Getenv("NATS_PASSWORD"); v != "" {
		cfg.NATSPassword = v
	}
	if v := os.Getenv("NATS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NATSTimeout = d
		}
	}
	if v := os.Getenv("NATS_STREAM"); v != "" {
		cfg.StreamName = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if v := os.Getenv("CHECKPOINT_BACKEND"); v != "" {
		cfg.CheckpointBackend = v
	}
	if v := os.Getenv("CHECKPOINT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointFreq = d
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("CHECKPOINT_KEY"); v != "" {
		cfg.CheckpointKey = v
	}
	if v := os.Getenv("CHECKPOINT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointTTL = d
		}
	}
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = isTruthy(v)
	}
	if v := os.Getenv("RAW_MESSAGE_BUFFER_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			cfg.RawMessageBufferSize = i
		}
	}
	if v := os.Getenv("PARSED_EVENT_BUFFER_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			cfg.ParsedEventBufferSize = i
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
