// Package config provides configuration management for the planner control plane.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/scheduler"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Solver   SolverConfig   `mapstructure:"solver"`
	DRS      DRSConfig      `mapstructure:"drs"`
	HA       HAConfig       `mapstructure:"ha"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration. Plans are kept in memory
// when disabled.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as expected by migrations.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// EtcdConfig holds etcd configuration, used to elect the instance running
// the DRS engine.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int           `mapstructure:"lease_ttl"`
}

// RedisConfig holds Redis configuration, used to cache solved plans.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PlanTTL  time.Duration `mapstructure:"plan_ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	Issuer      string        `mapstructure:"issuer"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// SolverConfig holds the default solving parameters.
type SolverConfig struct {
	TimeLimit     time.Duration `mapstructure:"time_limit"`
	MaxEnd        int           `mapstructure:"max_end"`
	Optimize      bool          `mapstructure:"optimize"`
	Repair        bool          `mapstructure:"repair"`
	Objective     string        `mapstructure:"objective"`
	SolutionLimit int           `mapstructure:"solution_limit"`
	NodeLimit     int           `mapstructure:"node_limit"`
	// Durations overrides the default duration of action kinds, keyed by
	// kind in lower case (migrate_vm, boot_node, ...).
	Durations map[string]int `mapstructure:"durations"`
}

// Parameters converts the section into solving parameters.
func (c SolverConfig) Parameters() scheduler.Parameters {
	p := scheduler.DefaultParameters()
	p.TimeLimit = c.TimeLimit
	if c.MaxEnd > 0 {
		p.MaxEnd = c.MaxEnd
	}
	p.Optimize = c.Optimize
	p.Repair = c.Repair
	p.SolutionLimit = c.SolutionLimit
	p.NodeLimit = c.NodeLimit
	for kind, d := range c.Durations {
		p.Durations.Register(plan.ActionKind(strings.ToUpper(kind)), d)
	}
	return p
}

// Automation levels of the DRS engine.
const (
	AutomationManual  = "manual"
	AutomationPartial = "partial"
	AutomationFull    = "full"
)

// DRSConfig holds Distributed Resource Scheduler configuration.
type DRSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	AutomationLevel string        `mapstructure:"automation_level"`
	Interval        time.Duration `mapstructure:"interval"`
	MaxMigrations   int           `mapstructure:"max_migrations"`
	OvercommitCPU   float64       `mapstructure:"overcommit_cpu"`
	OvercommitMem   float64       `mapstructure:"overcommit_memory"`
}

// HAConfig holds High Availability configuration. Nodes are monitored once
// they have sent a first heartbeat.
type HAConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values viper cannot check by itself.
func (c *Config) Validate() error {
	switch c.DRS.AutomationLevel {
	case AutomationManual, AutomationPartial, AutomationFull:
	default:
		return fmt.Errorf("invalid drs.automation_level %q", c.DRS.AutomationLevel)
	}
	if c.DRS.Enabled && c.DRS.Interval <= 0 {
		return fmt.Errorf("drs.interval must be positive")
	}
	if c.DRS.OvercommitCPU < 1 || c.DRS.OvercommitMem < 1 {
		return fmt.Errorf("drs overcommit ratios must be at least 1")
	}
	for kind, d := range c.Solver.Durations {
		if d <= 0 {
			return fmt.Errorf("solver.durations.%s must be positive", kind)
		}
	}
	if c.HA.Enabled && (c.HA.CheckInterval <= 0 || c.HA.HeartbeatTimeout <= 0 || c.HA.FailureThreshold < 1) {
		return fmt.Errorf("ha intervals and failure threshold must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "planner")
	v.SetDefault("database.user", "planner")
	v.SetDefault("database.password", "planner")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.prefix", "/planner")
	v.SetDefault("etcd.lease_ttl", 15)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.plan_ttl", "10m")

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.issuer", "planner")
	v.SetDefault("auth.token_expiry", "24h")

	// Solver
	v.SetDefault("solver.time_limit", "10s")
	v.SetDefault("solver.max_end", scheduler.DefaultMaxEnd)
	v.SetDefault("solver.optimize", false)
	v.SetDefault("solver.repair", true)
	v.SetDefault("solver.objective", "minimizeMTTR")
	v.SetDefault("solver.solution_limit", 0)
	v.SetDefault("solver.node_limit", 0)

	// DRS
	v.SetDefault("drs.enabled", true)
	v.SetDefault("drs.automation_level", AutomationPartial)
	v.SetDefault("drs.interval", "5m")
	v.SetDefault("drs.max_migrations", 10)
	v.SetDefault("drs.overcommit_cpu", 2.0)
	v.SetDefault("drs.overcommit_memory", 1.0)

	// HA
	v.SetDefault("ha.enabled", true)
	v.SetDefault("ha.check_interval", "10s")
	v.SetDefault("ha.heartbeat_timeout", "30s")
	v.SetDefault("ha.failure_threshold", 3)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)
}
