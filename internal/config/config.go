// Package config loads the zepindex configuration.
//
// Precedence, lowest first: built-in defaults, the user file
// ($XDG_CONFIG_HOME/zep/config.yaml), the project file (.zep.yaml or .zep.yml
// in the working directory) and finally ZEP_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend statuses as written in configuration files.
const (
	StatusDisabled = "DISABLED"
	StatusStandby  = "STANDBY"
	StatusEnabled  = "ENABLED"
)

// Backend implementations.
const (
	BackendBleve  = "bleve"
	BackendSQLite = "sqlite"
)

// Queue store implementations.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
	QueueSQLite = "sqlite"
)

// DefaultBatchSize is used for backends that leave batch_size unset.
const DefaultBatchSize = 1000

// Config is the complete zepindex configuration.
type Config struct {
	Version        int                `yaml:"version" json:"version"`
	DataDir        string             `yaml:"data_dir" json:"data_dir"`
	Server         ServerConfig       `yaml:"server" json:"server"`
	Logging        LoggingConfig      `yaml:"logging" json:"logging"`
	Store          StoreConfig        `yaml:"store" json:"store"`
	Queue          QueueConfig        `yaml:"queue" json:"queue"`
	Backends       []BackendConfig    `yaml:"backends" json:"backends"`
	IndexedDetails []IndexedDetail    `yaml:"indexed_details" json:"indexed_details"`
	Rebuild        RebuildConfig      `yaml:"rebuild" json:"rebuild"`
	Orchestrator   OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen       string        `yaml:"listen" json:"listen"`
	MetricsPath  string        `yaml:"metrics_path" json:"metrics_path"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// StoreConfig locates the canonical event store.
type StoreConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// QueueConfig selects the shared store behind every backend's work queue.
type QueueConfig struct {
	Type string `yaml:"type" json:"type"`
	// Path is the database file for the sqlite queue store.
	Path          string `yaml:"path" json:"path"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	// Prefix namespaces the keys; the backend id is appended per queue.
	Prefix             string        `yaml:"prefix" json:"prefix"`
	PollInterval       time.Duration `yaml:"poll_interval" json:"poll_interval"`
	InProgressDuration time.Duration `yaml:"in_progress_duration" json:"in_progress_duration"`
	BreakerFailures    int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset       time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// BackendConfig is one index backend as configured on disk.
type BackendConfig struct {
	ID              string `yaml:"id" json:"id"`
	Type            string `yaml:"type" json:"type"`
	Path            string `yaml:"path" json:"path"`
	Status          string `yaml:"status" json:"status"`
	AsyncUpdates    bool   `yaml:"async_updates" json:"async_updates"`
	HonorDeletes    bool   `yaml:"honor_deletes" json:"honor_deletes"`
	EnableRebuilder bool   `yaml:"enable_rebuilder" json:"enable_rebuilder"`
	BatchSize       int    `yaml:"batch_size" json:"batch_size"`
	// CacheSize bounds the FindByUUID read cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// MaxResultMB bounds the estimated size of a single read's result set.
	MaxResultMB int `yaml:"max_result_mb" json:"max_result_mb"`
}

// IndexedDetail declares an event detail that is searchable.
type IndexedDetail struct {
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// RebuildConfig controls the rebuild checker.
type RebuildConfig struct {
	StateDir      string        `yaml:"state_dir" json:"state_dir"`
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	BatchDelay    time.Duration `yaml:"batch_delay" json:"batch_delay"`
}

// OrchestratorConfig tunes the background workers.
type OrchestratorConfig struct {
	Name                     string        `yaml:"name" json:"name"`
	MaxOutstandingProcessors int           `yaml:"max_outstanding_processors" json:"max_outstanding_processors"`
	GrabberDelay             time.Duration `yaml:"grabber_delay" json:"grabber_delay"`
	RequeuePeriod            time.Duration `yaml:"requeue_period" json:"requeue_period"`
	DrainTimeout             time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// DetailTypes lists the accepted indexed_details types.
var DetailTypes = []string{"STRING", "INTEGER", "LONG", "FLOAT", "DOUBLE", "IP_ADDRESS", "PATH"}

// NewConfig returns the defaults: a single synchronous bleve backend and an
// in-memory queue under ~/.zep/data.
func NewConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Version: 1,
		DataDir: dataDir,
		Server: ServerConfig{
			Listen:       "127.0.0.1:8084",
			MetricsPath:  "/metrics",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Queue: QueueConfig{
			Type:               QueueMemory,
			RedisAddr:          "127.0.0.1:6379",
			Prefix:             "zep:index",
			PollInterval:       time.Millisecond,
			InProgressDuration: time.Minute,
			BreakerFailures:    5,
			BreakerReset:       30 * time.Second,
		},
		Backends: []BackendConfig{{
			ID:              "bleve",
			Type:            BackendBleve,
			Status:          StatusEnabled,
			HonorDeletes:    true,
			EnableRebuilder: true,
			BatchSize:       DefaultBatchSize,
			CacheSize:       1000,
			MaxResultMB:     256,
		}},
		Rebuild: RebuildConfig{
			CheckInterval: time.Minute,
			BatchDelay:    time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			Name:                     "event_summary",
			MaxOutstandingProcessors: 4,
			GrabberDelay:             time.Millisecond,
			RequeuePeriod:            time.Second,
			DrainTimeout:             30 * time.Second,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".zep", "data")
	}
	return filepath.Join(home, ".zep", "data")
}

// GetUserConfigPath follows XDG: $XDG_CONFIG_HOME/zep/config.yaml, else ~/.config/zep/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zep", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "zep", "config.yaml")
	}
	return filepath.Join(home, ".config", "zep", "config.yaml")
}

// ProjectConfigPath returns the project config file in dir, preferring .zep.yaml.
// The second result is false when neither file exists.
func ProjectConfigPath(dir string) (string, bool) {
	for _, name := range []string{".zep.yaml", ".zep.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p, true
		}
	}
	return filepath.Join(dir, ".zep.yaml"), false
}

// Load resolves the configuration for dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath, ok := ProjectConfigPath(dir); ok {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a single YAML file on top of the defaults, without the
// user/project/env layering.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero scalars from other. Lists replace wholesale since
// a backend entry is only meaningful as a unit.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	setString(&c.DataDir, other.DataDir)

	setString(&c.Server.Listen, other.Server.Listen)
	setString(&c.Server.MetricsPath, other.Server.MetricsPath)
	setDuration(&c.Server.ReadTimeout, other.Server.ReadTimeout)
	setDuration(&c.Server.WriteTimeout, other.Server.WriteTimeout)

	setString(&c.Logging.Level, other.Logging.Level)
	setString(&c.Logging.File, other.Logging.File)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
	if other.Logging.Stderr {
		c.Logging.Stderr = true
	}

	setString(&c.Store.Driver, other.Store.Driver)
	setString(&c.Store.Path, other.Store.Path)

	setString(&c.Queue.Type, other.Queue.Type)
	setString(&c.Queue.Path, other.Queue.Path)
	setString(&c.Queue.RedisAddr, other.Queue.RedisAddr)
	setString(&c.Queue.RedisPassword, other.Queue.RedisPassword)
	setInt(&c.Queue.RedisDB, other.Queue.RedisDB)
	setString(&c.Queue.Prefix, other.Queue.Prefix)
	setDuration(&c.Queue.PollInterval, other.Queue.PollInterval)
	setDuration(&c.Queue.InProgressDuration, other.Queue.InProgressDuration)
	setInt(&c.Queue.BreakerFailures, other.Queue.BreakerFailures)
	setDuration(&c.Queue.BreakerReset, other.Queue.BreakerReset)

	if len(other.Backends) > 0 {
		c.Backends = other.Backends
	}
	if len(other.IndexedDetails) > 0 {
		c.IndexedDetails = other.IndexedDetails
	}

	setString(&c.Rebuild.StateDir, other.Rebuild.StateDir)
	setDuration(&c.Rebuild.CheckInterval, other.Rebuild.CheckInterval)
	setDuration(&c.Rebuild.BatchDelay, other.Rebuild.BatchDelay)

	setString(&c.Orchestrator.Name, other.Orchestrator.Name)
	setInt(&c.Orchestrator.MaxOutstandingProcessors, other.Orchestrator.MaxOutstandingProcessors)
	setDuration(&c.Orchestrator.GrabberDelay, other.Orchestrator.GrabberDelay)
	setDuration(&c.Orchestrator.RequeuePeriod, other.Orchestrator.RequeuePeriod)
	setDuration(&c.Orchestrator.DrainTimeout, other.Orchestrator.DrainTimeout)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZEP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ZEP_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("ZEP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ZEP_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("ZEP_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("ZEP_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("ZEP_QUEUE_TYPE"); v != "" {
		c.Queue.Type = strings.ToLower(v)
	}
	if v := os.Getenv("ZEP_REDIS_ADDR"); v != "" {
		c.Queue.RedisAddr = v
	}
	if v := os.Getenv("ZEP_REDIS_PASSWORD"); v != "" {
		c.Queue.RedisPassword = v
	}
	if v := os.Getenv("ZEP_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Queue.RedisDB = n
		}
	}
	if v := os.Getenv("ZEP_QUEUE_IN_PROGRESS_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Queue.InProgressDuration = d
		}
	}
	if v := os.Getenv("ZEP_REBUILD_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Rebuild.CheckInterval = d
		}
	}
	if v := os.Getenv("ZEP_MAX_OUTSTANDING_PROCESSORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.MaxOutstandingProcessors = n
		}
	}
}

// resolvePaths fills unset file locations from DataDir.
func (c *Config) resolvePaths() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "events.db")
	}
	if c.Queue.Type == QueueSQLite && c.Queue.Path == "" {
		c.Queue.Path = filepath.Join(c.DataDir, "queue.db")
	}
	if c.Rebuild.StateDir == "" {
		c.Rebuild.StateDir = filepath.Join(c.DataDir, "rebuild")
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Path == "" && b.ID != "" {
			b.Path = filepath.Join(c.DataDir, "index", b.ID)
		}
		if b.BatchSize == 0 {
			b.BatchSize = DefaultBatchSize
		}
		b.Status = strings.ToUpper(b.Status)
	}
	for i := range c.IndexedDetails {
		d := &c.IndexedDetails[i]
		d.Type = strings.ToUpper(d.Type)
		if d.Name == "" {
			d.Name = d.Key
		}
	}
}

// Validate checks field formats. Cross-backend invariants (one ENABLED
// backend, unique ids) are enforced when the orchestrator is built.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver must be 'sqlite' or 'sqlite3', got %s", c.Store.Driver)
	}

	switch c.Queue.Type {
	case QueueMemory, QueueSQLite:
	case QueueRedis:
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis queue")
		}
	default:
		return fmt.Errorf("queue.type must be 'memory', 'redis', or 'sqlite', got %s", c.Queue.Type)
	}
	if c.Queue.PollInterval < 0 || c.Queue.InProgressDuration < 0 {
		return fmt.Errorf("queue durations must be non-negative")
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backends[%d]: id is required", i)
		}
		switch b.Type {
		case BackendBleve, BackendSQLite:
		default:
			return fmt.Errorf("backend '%s': type must be 'bleve' or 'sqlite', got %s", b.ID, b.Type)
		}
		switch strings.ToUpper(b.Status) {
		case StatusDisabled, StatusStandby, StatusEnabled:
		default:
			return fmt.Errorf("backend '%s': status must be DISABLED, STANDBY, or ENABLED, got %s", b.ID, b.Status)
		}
		if b.BatchSize < 0 {
			return fmt.Errorf("backend '%s': batch_size must be non-negative, got %d", b.ID, b.BatchSize)
		}
	}

	seen := make(map[string]bool, len(c.IndexedDetails))
	for i, d := range c.IndexedDetails {
		if d.Key == "" {
			return fmt.Errorf("indexed_details[%d]: key is required", i)
		}
		if seen[d.Key] {
			return fmt.Errorf("indexed detail '%s' is declared twice", d.Key)
		}
		seen[d.Key] = true
		if !validDetailType(d.Type) {
			return fmt.Errorf("indexed detail '%s': unknown type %s", d.Key, d.Type)
		}
	}

	if c.Orchestrator.MaxOutstandingProcessors < 1 {
		return fmt.Errorf("orchestrator.max_outstanding_processors must be at least 1, got %d", c.Orchestrator.MaxOutstandingProcessors)
	}
	if c.Rebuild.CheckInterval <= 0 {
		return fmt.Errorf("rebuild.check_interval must be positive")
	}
	return nil
}

func validDetailType(t string) bool {
	for _, v := range DetailTypes {
		if strings.EqualFold(v, t) {
			return true
		}
	}
	return false
}

// WriteYAML writes c to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
