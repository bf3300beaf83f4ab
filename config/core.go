package config

import "time"

// CoreConfig configures the phasecore server.
type CoreConfig struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Auth      AuthConfig      `yaml:"auth"`
}

// AuthConfig controls operator sign-in. BootstrapUser is created with
// BootstrapPassword when the operators table is empty.
type AuthConfig struct {
	BootstrapUser     string        `yaml:"bootstrap_user"`
	BootstrapPassword string        `yaml:"bootstrap_password"`
	SessionMaxAge     time.Duration `yaml:"session_max_age"`
}

// CoreDefaults returns a CoreConfig with sane defaults.
func CoreDefaults() *CoreConfig {
	return &CoreConfig{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "phasecore.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "phasecore",
				User:     "phasecore",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address:  "",
			Password: "",
			DB:       0,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			SessionSecret: "change-me-in-production",
		},
		Messaging: defaultMessaging("phasecore"),
		Auth: AuthConfig{
			BootstrapUser:     "admin",
			BootstrapPassword: "admin",
			SessionMaxAge:     12 * time.Hour,
		},
	}
}

// LoadCore reads a YAML config file. If the file doesn't exist, defaults are used.
func LoadCore(path string) (*CoreConfig, error) {
	cfg := CoreDefaults()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
