package config

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	ModeDevelopment = "development"

	devKVBatchSize  = 3
	prodKVBatchSize = 5

	devFileName  = "server.json"
	prodFileName = "log-batch"
)

// Config holds all the configuration for our application
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Logging LoggingConfig `mapstructure:"logging"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type ProxyConfig struct {
	Target string `mapstructure:"target"`
}

type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Mode    string `mapstructure:"mode"`
	Level   string `mapstructure:"level"`
	// BatchSize overrides the mode's KV flush threshold when > 0.
	BatchSize           int           `mapstructure:"kv_batch_size"`
	DBBatchSize         int           `mapstructure:"db_batch_size"`
	FlushTimeout        time.Duration `mapstructure:"flush_timeout"`
	KeepOnInsertFailure bool          `mapstructure:"keep_on_insert_failure"`
	RetentionDays       int           `mapstructure:"retention_days"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type SinkConfig struct {
	Type    string        `mapstructure:"type"` // "log", "mongo", "kafka"
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type AdminConfig struct {
	Key string `mapstructure:"key"`
}

// IsDevelopment reports whether logging runs in development mode.
func (c LoggingConfig) IsDevelopment() bool {
	return strings.EqualFold(c.Mode, ModeDevelopment)
}

// KVThreshold is how many buffered entries trigger a flush.
func (c LoggingConfig) KVThreshold() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	if c.IsDevelopment() {
		return devKVBatchSize
	}
	return prodKVBatchSize
}

// FileName is the KV key batches are parked under.
func (c LoggingConfig) FileName() string {
	if c.IsDevelopment() {
		return devFileName
	}
	return prodFileName
}

// LogLevel parses Level, falling back to info.
func (c LoggingConfig) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func (c LoggingConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore returns a Store pinned to cfg, without any file watching.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// LoadAndWatch loads ./configs/config.yaml and watches it for changes.
func LoadAndWatch() (*Store, error) {
	return LoadAndWatchDir("./configs")
}

// LoadAndWatchDir loads config.yaml from dir and watches it for on-disk changes.
// REQLOG_* environment variables override file values
// (e.g. REQLOG_LOGGING_MODE=development).
func LoadAndWatchDir(dir string) (*Store, error) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := refresh(v, store); err != nil {
			log.Errorf("[config] reload failed: %v", err)
		} else {
			log.Infof("[config] reloaded from %s", e.Name)
		}
	})
	v.WatchConfig()

	return store, nil
}

// Load preserves the old API: it loads once and does not watch.
func Load() (*Config, error) {
	v := newViper("./configs")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("REQLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// setDefaults also registers every key so AutomaticEnv can see it on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("proxy.target", "http://localhost:3000")

	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.kv_batch_size", 0)
	v.SetDefault("logging.db_batch_size", 30)
	v.SetDefault("logging.flush_timeout", 5*time.Second)
	v.SetDefault("logging.keep_on_insert_failure", false)
	v.SetDefault("logging.retention_days", 0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sink.type", "log")
	v.SetDefault("sink.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("sink.mongo.database", "reqlog")
	v.SetDefault("sink.mongo.collection", "logs")
	v.SetDefault("sink.kafka.brokers", []string{})
	v.SetDefault("sink.kafka.topic", "")
	v.SetDefault("sink.breaker.enabled", true)
	v.SetDefault("sink.breaker.max_failures", 5)
	v.SetDefault("sink.breaker.timeout", 30*time.Second)

	v.SetDefault("admin.key", "")
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	store.set(&cfg)
	return nil
}
