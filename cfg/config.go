package cfg

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// StorageType defines where published artifacts are stored
type StorageType string

const (
	StorageS3     StorageType = "s3"     // S3-compatible storage (R2, MinIO, AWS)
	StorageLocal  StorageType = "local"  // Local directory mirror of a bucket
	StorageMemory StorageType = "memory" // In-process, discarded on exit (dry runs)
)

// MaxDeleteBatchSize is the documented ceiling of keys per batch delete call
const MaxDeleteBatchSize = 1000

// SourceConfiguration controls which font files are discovered
type SourceConfiguration struct {
	Dir       string   `toml:"dir"`
	DistDir   string   `toml:"dist_dir"`
	Patterns  []string `toml:"patterns"` // Matched against the lower-cased filename
	Exclude   []string `toml:"exclude"`
	CleanDist bool     `toml:"clean_dist"` // Remove dist before splitting
	Workers   int      `toml:"workers"`    // Assets processed concurrently
}

// CDNConfiguration controls the absolute URLs written into artifacts and indexes
type CDNConfiguration struct {
	AssetBase string `toml:"asset_base"` // Prefix for rewritten chunk URLs
	IndexBase string `toml:"index_base"` // Prefix for index directives (defaults to asset_base)
}

// EngineConfiguration controls the external font splitting engine
type EngineConfiguration struct {
	Command        []string `toml:"command"` // argv template, see engine.CommandEngine
	TargetType     string   `toml:"target_type"`
	ChunkSizeKB    int      `toml:"chunk_size_kb"`
	FontWeight     string   `toml:"font_weight"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// S3Configuration for S3-compatible storage backends
type S3Configuration struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// LocalStoreConfiguration for the directory-backed store
type LocalStoreConfiguration struct {
	Dir      string `toml:"dir"`
	PageSize int    `toml:"page_size"`
}

// StorageConfiguration selects and configures the object store
type StorageConfiguration struct {
	Type            StorageType             `toml:"type"`
	DeleteBatchSize int                     `toml:"delete_batch_size"`
	S3              S3Configuration         `toml:"s3"`
	Local           LocalStoreConfiguration `toml:"local"`
}

// UploadConfiguration controls the bulk upload step
type UploadConfiguration struct {
	Concurrency        int    `toml:"concurrency"`
	CacheControl       string `toml:"cache_control"`
	LatestCacheControl string `toml:"latest_cache_control"`
}

// IndexConfiguration controls both index builders
type IndexConfiguration struct {
	Key          string `toml:"key"`
	CacheControl string `toml:"cache_control"`
	LocalPath    string `toml:"local_path"`
	Title        string `toml:"title"`
}

// StateConfiguration controls the persisted publish signal record
type StateConfiguration struct {
	Path string `toml:"path"`
}

// LedgerConfiguration controls the release ledger
type LedgerConfiguration struct {
	Dir string `toml:"dir"`
}

// SinkConfiguration configures one release announcement sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "nats", "kafka" or "mock"
	Format          string   `toml:"format"` // "json"
	TopicPrefix     string   `toml:"topic_prefix"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	BatchSize       int      `toml:"batch_size"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// AnnounceConfiguration lists announcement sinks
type AnnounceConfiguration struct {
	Sinks []SinkConfiguration `toml:"sinks"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	PushGateway string `toml:"push_gateway"`
	Job         string `toml:"job"`
}

// PreviewConfiguration for the local preview server
type PreviewConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	Source     SourceConfiguration     `toml:"source"`
	CDN        CDNConfiguration        `toml:"cdn"`
	Engine     EngineConfiguration     `toml:"engine"`
	Storage    StorageConfiguration    `toml:"storage"`
	Upload     UploadConfiguration     `toml:"upload"`
	Index      IndexConfiguration      `toml:"index"`
	State      StateConfiguration      `toml:"state"`
	Ledger     LedgerConfiguration     `toml:"ledger"`
	Announce   AnnounceConfiguration   `toml:"announce"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Preview    PreviewConfiguration    `toml:"preview"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "fontpub.toml", "Path to configuration file")
	SourceDirFlag  = flag.String("src", "", "Source font directory (overrides config)")
	DistDirFlag    = flag.String("dist", "", "Output directory (overrides config)")
	DomainFlag     = flag.String("domain", "", "CDN asset base URL (overrides config)")
	StorageFlag    = flag.String("storage", "", "Storage type: s3, local or memory (overrides config)")
)

// Default configuration
var Config = Default()

// Default returns a fresh configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		Source: SourceConfiguration{
			Dir:       "src",
			DistDir:   "dist",
			Patterns:  []string{"*.ttf", "*.otf"},
			Exclude:   []string{},
			CleanDist: true,
			Workers:   1,
		},

		CDN: CDNConfiguration{
			AssetBase: "https://fonts.sanyyao.com/use",
		},

		Engine: EngineConfiguration{
			Command: []string{
				"cn-font-split",
				"-i", "{input}",
				"-o", "{out_dir}",
				"--target-type", "{target_type}",
				"--chunk-size", "{chunk_size}",
				"--css.font-family", "{font_family}",
				"--css.font-weight", "{font_weight}",
			},
			TargetType:     "woff2",
			ChunkSizeKB:    70,
			FontWeight:     "400",
			TimeoutSeconds: 600,
		},

		Storage: StorageConfiguration{
			Type:            StorageS3,
			DeleteBatchSize: MaxDeleteBatchSize,
			S3: S3Configuration{
				Region: "auto",
				UseSSL: true,
			},
			Local: LocalStoreConfiguration{
				Dir:      "bucket",
				PageSize: 1000,
			},
		},

		Upload: UploadConfiguration{
			Concurrency:        8,
			CacheControl:       "public, max-age=31536000, immutable",
			LatestCacheControl: "public, max-age=300",
		},

		Index: IndexConfiguration{
			Key:          "index.css",
			CacheControl: "no-cache, no-store, must-revalidate",
			LocalPath:    "index.css",
			Title:        "SanYYao Fonts Hub",
		},

		State: StateConfiguration{
			Path: ".fontpub/state.msgpack",
		},

		Ledger: LedgerConfiguration{
			Dir: ".fontpub/ledger",
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: false,
			Job:     "fontpub",
		},

		Preview: PreviewConfiguration{
			BindAddress: "127.0.0.1",
			Port:        8787,
		},
	}
}

// Load loads configuration from file and applies CLI and environment overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *SourceDirFlag != "" {
		Config.Source.Dir = *SourceDirFlag
	}
	if *DistDirFlag != "" {
		Config.Source.DistDir = *DistDirFlag
	}
	if *DomainFlag != "" {
		Config.CDN.AssetBase = *DomainFlag
	}
	if *StorageFlag != "" {
		Config.Storage.Type = StorageType(*StorageFlag)
	}

	applyEnv(Config)

	return nil
}

// applyEnv fills storage credentials from the environment. Secrets are kept
// out of the config file this way.
func applyEnv(c *Configuration) {
	s3 := &c.Storage.S3
	if v := os.Getenv("FONTPUB_S3_ENDPOINT"); v != "" {
		s3.Endpoint = v
	}
	if v := os.Getenv("FONTPUB_S3_ACCESS_KEY"); v != "" {
		s3.AccessKey = v
	}
	if v := os.Getenv("FONTPUB_S3_SECRET_KEY"); v != "" {
		s3.SecretKey = v
	}
	if v := os.Getenv("FONTPUB_S3_BUCKET"); v != "" {
		s3.Bucket = v
	}

	// Cloudflare R2 naming
	if s3.AccessKey == "" {
		s3.AccessKey = os.Getenv("R2_ACCESS_KEY_ID")
	}
	if s3.SecretKey == "" {
		s3.SecretKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	}
	if s3.Bucket == "" {
		s3.Bucket = os.Getenv("R2_BUCKET_NAME")
	}
	if s3.Endpoint == "" {
		if account := os.Getenv("R2_ACCOUNT_ID"); account != "" {
			s3.Endpoint = account + ".r2.cloudflarestorage.com"
		}
	}
}

// Validate checks configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks a configuration for errors and fills derived defaults
func (c *Configuration) Validate() error {
	if strings.TrimSpace(c.Source.Dir) == "" {
		return fmt.Errorf("source directory is required")
	}
	if strings.TrimSpace(c.Source.DistDir) == "" {
		return fmt.Errorf("dist directory is required")
	}
	if filepath.Clean(c.Source.Dir) == filepath.Clean(c.Source.DistDir) {
		return fmt.Errorf("source and dist directories must differ")
	}
	if c.Source.Workers < 1 {
		return fmt.Errorf("source workers must be >= 1")
	}
	if len(c.Source.Patterns) == 0 {
		return fmt.Errorf("at least one source pattern is required")
	}

	if err := validateBaseURL("cdn asset_base", c.CDN.AssetBase); err != nil {
		return err
	}
	if c.CDN.IndexBase == "" {
		c.CDN.IndexBase = c.CDN.AssetBase
	}
	if err := validateBaseURL("cdn index_base", c.CDN.IndexBase); err != nil {
		return err
	}

	if len(c.Engine.Command) == 0 {
		return fmt.Errorf("engine command is required")
	}
	if c.Engine.ChunkSizeKB < 1 {
		return fmt.Errorf("engine chunk size must be >= 1 KB")
	}
	if c.Engine.TargetType == "" {
		return fmt.Errorf("engine target type is required")
	}
	if c.Engine.TimeoutSeconds < 0 {
		return fmt.Errorf("engine timeout must be >= 0")
	}

	switch c.Storage.Type {
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 storage requires a bucket")
		}
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("s3 storage requires an endpoint")
		}
	case StorageLocal:
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("local storage requires a directory")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	if c.Storage.DeleteBatchSize < 1 || c.Storage.DeleteBatchSize > MaxDeleteBatchSize {
		return fmt.Errorf("delete batch size must be between 1 and %d", MaxDeleteBatchSize)
	}

	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload concurrency must be >= 1")
	}

	if c.Index.Key == "" {
		return fmt.Errorf("index key is required")
	}
	if c.Index.LocalPath == "" {
		return fmt.Errorf("index local path is required")
	}

	names := make(map[string]bool, len(c.Announce.Sinks))
	for i, s := range c.Announce.Sinks {
		if s.Name == "" {
			return fmt.Errorf("announce sink %d: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("announce sink %q: duplicate name", s.Name)
		}
		names[s.Name] = true
		switch s.Type {
		case "nats", "kafka", "mock":
		default:
			return fmt.Errorf("announce sink %q: unknown type %q", s.Name, s.Type)
		}
		if s.Format == "" {
			c.Announce.Sinks[i].Format = "json"
		}
	}
	if len(c.Announce.Sinks) > 0 && c.Ledger.Dir == "" {
		return fmt.Errorf("announce sinks require a ledger directory")
	}

	if c.Preview.Port < 1 || c.Preview.Port > 65535 {
		return fmt.Errorf("invalid preview port: %d", c.Preview.Port)
	}

	return nil
}

func validateBaseURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an absolute http(s) URL: %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", field, raw)
	}
	return nil
}

// AssetPrefix returns the absolute URL prefix for chunks under family/version.
// The result always ends in a slash.
func (c *Configuration) AssetPrefix(family, version string) string {
	return strings.TrimRight(c.CDN.AssetBase, "/") + "/" + family + "/" + version + "/"
}
