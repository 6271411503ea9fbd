// Package config loads harvester settings from a YAML file, a .env file and
// the process environment, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendS3    = "s3"
	BackendMinio = "minio"
)

type Config struct {
	Harvester HarvesterConfig `yaml:"harvester"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Storage   StorageConfig   `yaml:"storage"`
	S3        S3Config        `yaml:"s3"`
	Minio     MinioConfig     `yaml:"minio"`
	Redis     RedisConfig     `yaml:"redis"`
	Renderer  RendererConfig  `yaml:"renderer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

type HarvesterConfig struct {
	InstanceID string `yaml:"instanceId"`
	// Version is the "major.minor" version stamped on processed records.
	Version string `yaml:"version"`
	Mode    string `yaml:"mode"`
	// Filter is an extra catalog filter merged into every query.
	Filter         map[string]any `yaml:"filter"`
	Limit          int            `yaml:"limit"`
	Continuous     bool           `yaml:"continuous"`
	PollInterval   time.Duration  `yaml:"pollInterval"`
	CacheDir       string         `yaml:"cacheDir"`
	CacheRetention time.Duration  `yaml:"cacheRetention"`
	ArtifactPrefix string         `yaml:"artifactPrefix"`
	Concurrency    int            `yaml:"concurrency"`
	SkipEpub       bool           `yaml:"skipEpub"`
	SkipBloomPub   bool           `yaml:"skipBloomPub"`
	SkipThumbnails bool           `yaml:"skipThumbnails"`
	Testing        bool           `yaml:"testing"`
}

type CatalogConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
	QueryLimit int           `yaml:"queryLimit"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	StatusTTL time.Duration `yaml:"statusTTL"`
}

type RendererConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allowOrigins"`
}

// DefaultFile is read when HARVESTER_CONFIG is unset and the file exists.
const DefaultFile = "config.yaml"

// Path returns the config file named by HARVESTER_CONFIG, falling back to
// DefaultFile in the working directory. It returns "" when neither is set.
func Path() string {
	if p := os.Getenv("HARVESTER_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	return ""
}

// Load reads path (optional), then .env, then the environment, applying
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Harvester.InstanceID, "HARVESTER_INSTANCE_ID")
	setString(&c.Harvester.Mode, "HARVESTER_MODE")
	setString(&c.Harvester.CacheDir, "HARVESTER_CACHE_DIR")
	setBool(&c.Harvester.Continuous, "HARVESTER_CONTINUOUS")
	setInt(&c.Harvester.Limit, "HARVESTER_LIMIT")
	setString(&c.Catalog.URI, "MONGO_URI")
	setString(&c.Catalog.Database, "MONGO_DATABASE")
	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.Renderer.Command, "RENDERER_COMMAND")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Server.Addr, "SERVER_ADDR")
	c.S3.applyEnv()
	c.Minio.applyEnv()
}

func (c *Config) applyDefaults() {
	h := &c.Harvester
	if h.InstanceID == "" {
		h.InstanceID = defaultInstanceID()
	}
	if h.Version == "" {
		h.Version = "1.0"
	}
	if h.PollInterval == 0 {
		h.PollInterval = 5 * time.Minute
	}
	if h.CacheDir == "" {
		h.CacheDir = filepath.Join(os.TempDir(), "book-harvester")
	}
	if h.CacheRetention == 0 {
		h.CacheRetention = 7 * 24 * time.Hour
	}
	if h.ArtifactPrefix == "" {
		h.ArtifactPrefix = "harvest"
	}
	if h.Concurrency <= 0 {
		h.Concurrency = 8
	}

	if c.Catalog.Database == "" {
		c.Catalog.Database = "library"
	}
	if c.Catalog.Collection == "" {
		c.Catalog.Collection = "books"
	}
	if c.Catalog.Timeout == 0 {
		c.Catalog.Timeout = 30 * time.Second
	}

	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendS3
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.StatusTTL == 0 {
		c.Redis.StatusTTL = 24 * time.Hour
	}
	if c.Renderer.Command == "" {
		c.Renderer.Command = "createArtifacts"
	}
	if c.Renderer.Timeout == 0 {
		c.Renderer.Timeout = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout", "logs/harvester.log"}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"*"}
	}
}

// defaultInstanceID names an unconfigured instance after its host and
// process, so instances sharing a host keep separate cache directories.
func defaultInstanceID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "harvester"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Bucket returns the bucket name of the selected storage backend.
func (c *Config) Bucket() string {
	if strings.EqualFold(c.Storage.Backend, BackendMinio) {
		return c.Minio.BucketName
	}
	return c.S3.BucketName
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Catalog.URI == "" {
		errs = append(errs, errors.New("catalog.uri is required"))
	}
	switch strings.ToLower(c.Storage.Backend) {
	case BackendS3:
		if c.S3.BucketName == "" {
			errs = append(errs, errors.New("s3.bucketName is required"))
		}
	case BackendMinio:
		if c.Minio.BucketName == "" || c.Minio.Endpoint == "" {
			errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
