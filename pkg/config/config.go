package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the yaml-backed configuration shared by the daemon and the
// client engine. Environment variables override file values; explicit
// flags override both.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Client struct {
		ServerURL     string  `yaml:"server_url"`
		WSURL         string  `yaml:"ws_url"`
		Token         string  `yaml:"token"`
		AckTimeoutMS  int     `yaml:"ack_timeout_ms"`
		QueueCapacity int     `yaml:"queue_capacity"`
		FetchRPS      float64 `yaml:"fetch_rps"`
		FetchBurst    int     `yaml:"fetch_burst"`
	} `yaml:"client"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
	Retention struct {
		Enabled    bool   `yaml:"enabled"`
		Schedule   string `yaml:"schedule"` // cron expression
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"retention"`
	Limits struct {
		MaxContentBytes int `yaml:"max_content_bytes"`
		MaxEventBytes   int `yaml:"max_event_bytes"`
	} `yaml:"limits"`
}

// Addr returns "address:port" from the server block.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	port := c.Server.Port
	if port == 0 {
		port = 8871
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// Load reads a yaml config file (empty path yields defaults) and applies
// environment overrides.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATSYNC_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CHATSYNC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("CHATSYNC_WS_URL"); v != "" {
		cfg.Client.WSURL = v
	}
	if v := os.Getenv("CHATSYNC_TOKEN"); v != "" {
		cfg.Client.Token = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = "./data"
	}
	if cfg.Client.AckTimeoutMS <= 0 {
		cfg.Client.AckTimeoutMS = 15000
	}
	if cfg.Client.QueueCapacity <= 0 {
		cfg.Client.QueueCapacity = 4096
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}
	if cfg.Limits.MaxContentBytes <= 0 {
		cfg.Limits.MaxContentBytes = 1 << 20
	}
	if cfg.Limits.MaxEventBytes <= 0 {
		cfg.Limits.MaxEventBytes = 4 << 20
	}
}

// ParseCommandFlags registers and parses the daemon's command flags.
// Returns the flag values plus a map of which were explicitly set so
// callers can apply flags-over-config precedence.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrF := flag.String("addr", "", "listen address (host:port)")
	dbF := flag.String("db", "", "database path")
	cfgF := flag.String("config", "", "path to yaml config")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrF, *dbF, *cfgF, set
}

// ResolveConfigPath prefers an explicit flag over the environment.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CHATSYNC_CONFIG"); v != "" {
		return v
	}
	return flagVal
}
