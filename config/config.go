// Package config holds the YAML configuration of the core server and of
// the station process.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// MessagingConfig defines the messaging backend. An empty Backend disables
// messaging altogether.
type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "mqtt", "kafka" or ""
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	EventsTopic         string        `yaml:"events_topic"`
	StationsTopic       string        `yaml:"stations_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	NodeID              string        `yaml:"node_id"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

func defaultMessaging(nodeID string) MessagingConfig {
	return MessagingConfig{
		Backend: "",
		MQTT: MQTTConfig{
			Broker: "localhost",
			Port:   1883,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: nodeID,
		},
		EventsTopic:         "phasetrack/events",
		StationsTopic:       "phasetrack/stations",
		OutboxDrainInterval: 5 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		NodeID:              nodeID,
	}
}

// load reads a YAML file over the defaults in cfg. A missing file leaves the
// defaults untouched.
func load(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func save(path string, cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
