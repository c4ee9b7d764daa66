package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "DROPTRACKER_CONFIG"

	EngineMemory   = "memory"
	EnginePostgres = "postgres"
	EngineMongo    = "mongo"
	EngineRedis    = "redis"

	ProviderNone = "none"
	ProviderB2   = "b2"
	ProviderS3   = "s3"
)

// Config holds every setting the service reads at startup.
type Config struct {
	Logging     LoggingConfig      `yaml:"logging"`
	HTTP        HTTPConfig         `yaml:"http"`
	Storage     StorageConfig      `yaml:"storage"`
	Collections []CollectionConfig `yaml:"collections"`
	Assets      AssetsConfig       `yaml:"assets"`
	Queue       QueueConfig        `yaml:"queue"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Address         string        `yaml:"address"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	JWTSecret       string        `yaml:"jwtSecret"`
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig picks the record store engine.
type StorageConfig struct {
	Engine   string         `yaml:"engine"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// PostgresConfig describes the relational store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// MongoConfig describes the document store.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// CollectionConfig is one allow-listed collection.
type CollectionConfig struct {
	Name            string `yaml:"name"`
	Table           string `yaml:"table"`
	Workflow        string `yaml:"workflow"`
	UniqueSourceURL bool   `yaml:"uniqueSourceUrl"`
}

// AssetsConfig selects the object store that serves thumbnails.
type AssetsConfig struct {
	Provider      string        `yaml:"provider"`
	DefaultTTL    time.Duration `yaml:"defaultTtl"`
	MaxTTL        time.Duration `yaml:"maxTtl"`
	RenewalMargin time.Duration `yaml:"renewalMargin"`
	B2            B2Config      `yaml:"b2"`
	S3            S3Config      `yaml:"s3"`
}

// B2Config carries Backblaze B2 credentials.
type B2Config struct {
	KeyID        string `yaml:"keyId"`
	AppKey       string `yaml:"appKey"`
	BucketID     string `yaml:"bucketId"`
	BucketName   string `yaml:"bucketName"`
	DownloadHost string `yaml:"downloadHost"`
	AuthURL      string `yaml:"authUrl"`
}

// S3Config carries S3-compatible bucket settings.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
}

// QueueConfig selects where extraction requests go.
type QueueConfig struct {
	Engine   string `yaml:"engine"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"maxLen"`
}

// Load reads .env files, the optional YAML file named by DROPTRACKER_CONFIG
// and environment overrides, in that order, on top of the defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.HTTP.Address, "HTTP_ADDRESS")
	setString(&c.HTTP.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	setString(&c.Storage.Engine, "STORAGE_ENGINE")
	setString(&c.Storage.Postgres.DSN, "DATABASE_DSN")
	setString(&c.Storage.Mongo.URI, "MONGO_URI")
	setString(&c.Storage.Mongo.Database, "MONGO_DATABASE")

	setString(&c.Assets.Provider, "ASSET_PROVIDER")
	setString(&c.Assets.B2.KeyID, "B2_KEY_ID")
	setString(&c.Assets.B2.AppKey, "B2_APP_KEY")
	setString(&c.Assets.B2.BucketID, "B2_BUCKET_ID")
	setString(&c.Assets.B2.BucketName, "B2_BUCKET_NAME")
	setString(&c.Assets.B2.DownloadHost, "B2_DOWNLOAD_HOST")
	setString(&c.Assets.S3.Region, "S3_REGION")
	setString(&c.Assets.S3.Bucket, "S3_BUCKET")
	setString(&c.Assets.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Assets.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Assets.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	setString(&c.Queue.Engine, "QUEUE_ENGINE")
	setString(&c.Queue.Address, "REDIS_ADDRESS")
	setString(&c.Queue.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.DB = n
		}
	}
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Engine {
	case EngineMemory:
	case EnginePostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required"))
		}
	case EngineMongo:
		if c.Storage.Mongo.URI == "" || c.Storage.Mongo.Database == "" {
			errs = append(errs, errors.New("storage.mongo.uri and storage.mongo.database are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.engine %q is not one of memory, postgres, mongo", c.Storage.Engine))
	}

	if len(c.Collections) == 0 {
		errs = append(errs, errors.New("at least one collection is required"))
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Name == "" {
			errs = append(errs, errors.New("collection name is empty"))
			continue
		}
		if seen[col.Name] {
			errs = append(errs, fmt.Errorf("collection %s is configured twice", col.Name))
		}
		seen[col.Name] = true
		if col.Workflow != "extraction" && col.Workflow != "moderation" {
			errs = append(errs, fmt.Errorf("collection %s: workflow %q is not extraction or moderation", col.Name, col.Workflow))
		}
	}

	switch c.Assets.Provider {
	case ProviderNone:
	case ProviderB2:
		if c.Assets.B2.KeyID == "" || c.Assets.B2.AppKey == "" || c.Assets.B2.BucketID == "" || c.Assets.B2.BucketName == "" {
			errs = append(errs, errors.New("assets.b2 requires keyId, appKey, bucketId and bucketName"))
		}
	case ProviderS3:
		if c.Assets.S3.Region == "" || c.Assets.S3.Bucket == "" {
			errs = append(errs, errors.New("assets.s3 requires region and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("assets.provider %q is not one of none, b2, s3", c.Assets.Provider))
	}
	if c.Assets.MaxTTL > 0 && c.Assets.DefaultTTL > c.Assets.MaxTTL {
		errs = append(errs, errors.New("assets.defaultTtl exceeds assets.maxTtl"))
	}

	switch c.Queue.Engine {
	case EngineMemory:
	case EngineRedis:
		if c.Queue.Address == "" {
			errs = append(errs, errors.New("queue.address is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.engine %q is not one of memory, redis", c.Queue.Engine))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	base.Logging.Development = base.Logging.Development || override.Logging.Development

	if override.HTTP.Address != "" {
		base.HTTP.Address = override.HTTP.Address
	}
	if len(override.HTTP.AllowedOrigins) > 0 {
		base.HTTP.AllowedOrigins = override.HTTP.AllowedOrigins
	}
	if override.HTTP.JWTSecret != "" {
		base.HTTP.JWTSecret = override.HTTP.JWTSecret
	}
	if override.HTTP.ShutdownTimeout > 0 {
		base.HTTP.ShutdownTimeout = override.HTTP.ShutdownTimeout
	}
	base.HTTP.Debug = base.HTTP.Debug || override.HTTP.Debug

	if override.Storage.Engine != "" {
		base.Storage.Engine = override.Storage.Engine
	}
	if override.Storage.Postgres.DSN != "" {
		base.Storage.Postgres.DSN = override.Storage.Postgres.DSN
	}
	if override.Storage.Postgres.MaxOpenConns > 0 {
		base.Storage.Postgres.MaxOpenConns = override.Storage.Postgres.MaxOpenConns
	}
	if override.Storage.Postgres.MaxIdleConns > 0 {
		base.Storage.Postgres.MaxIdleConns = override.Storage.Postgres.MaxIdleConns
	}
	if override.Storage.Postgres.ConnMaxLifetime > 0 {
		base.Storage.Postgres.ConnMaxLifetime = override.Storage.Postgres.ConnMaxLifetime
	}
	if override.Storage.Mongo.URI != "" {
		base.Storage.Mongo.URI = override.Storage.Mongo.URI
	}
	if override.Storage.Mongo.Database != "" {
		base.Storage.Mongo.Database = override.Storage.Mongo.Database
	}

	if len(override.Collections) > 0 {
		base.Collections = override.Collections
	}

	if override.Assets.Provider != "" {
		base.Assets.Provider = override.Assets.Provider
	}
	if override.Assets.DefaultTTL > 0 {
		base.Assets.DefaultTTL = override.Assets.DefaultTTL
	}
	if override.Assets.MaxTTL > 0 {
		base.Assets.MaxTTL = override.Assets.MaxTTL
	}
	if override.Assets.RenewalMargin > 0 {
		base.Assets.RenewalMargin = override.Assets.RenewalMargin
	}
	if override.Assets.B2 != (B2Config{}) {
		base.Assets.B2 = override.Assets.B2
	}
	if override.Assets.S3 != (S3Config{}) {
		base.Assets.S3 = override.Assets.S3
	}

	if override.Queue.Engine != "" {
		base.Queue.Engine = override.Queue.Engine
	}
	if override.Queue.Address != "" {
		base.Queue.Address = override.Queue.Address
	}
	if override.Queue.Password != "" {
		base.Queue.Password = override.Queue.Password
	}
	if override.Queue.DB != 0 {
		base.Queue.DB = override.Queue.DB
	}
	if override.Queue.Stream != "" {
		base.Queue.Stream = override.Queue.Stream
	}
	if override.Queue.MaxLen > 0 {
		base.Queue.MaxLen = override.Queue.MaxLen
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		HTTP: HTTPConfig{
			Address:         ":4000",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Engine: EngineMemory,
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Mongo: MongoConfig{Database: "drop-db"},
		},
		Collections: []CollectionConfig{
			{Name: "new-posts", Workflow: "extraction", UniqueSourceURL: true},
			{Name: "old-posts", Workflow: "extraction"},
			{Name: "new-p-posts", Workflow: "moderation"},
			{Name: "new-s-posts", Workflow: "moderation"},
			{Name: "new-o-posts", Workflow: "moderation"},
		},
		Assets: AssetsConfig{
			Provider:      ProviderNone,
			DefaultTTL:    300 * time.Second,
			MaxTTL:        time.Hour,
			RenewalMargin: 60 * time.Second,
		},
		Queue: QueueConfig{
			Engine: EngineMemory,
			Stream: "droptracker:extraction-requests",
		},
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
