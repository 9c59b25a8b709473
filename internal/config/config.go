package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000" validate:"min=1,max=65535"`
	Environment string `envconfig:"ENV" default:"development" validate:"oneof=development staging production test"`

	// Database is optional: without it the snapshot and catalog come from files
	// and analysis audits are not persisted
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Snapshot publication
	SnapshotSource string `envconfig:"SNAPSHOT_SOURCE" default:"file" validate:"oneof=file postgres"`
	SnapshotPath   string `envconfig:"SNAPSHOT_PATH" default:"data/snapshot.json"`
	SnapshotWatch  bool   `envconfig:"SNAPSHOT_WATCH" default:"true"`

	// Product catalog
	CatalogSource string `envconfig:"CATALOG_SOURCE" default:"file" validate:"oneof=file postgres"`
	CatalogPath   string `envconfig:"CATALOG_PATH" default:"data/catalog.json"`

	// Providers
	DetectorType     string `envconfig:"DETECTOR_TYPE" default:"local" validate:"oneof=local deepface rekognition"`
	EmbeddingBackend string `envconfig:"EMBEDDING_BACKEND" default:"local" validate:"oneof=local deepface"`
	AWSRegion        string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSEndpoint      string `envconfig:"AWS_ENDPOINT" validate:"omitempty,url"`

	// Offline build
	BuildWorkers int `envconfig:"BUILD_WORKERS" default:"4" validate:"min=1,max=64"`

	AuditEnabled bool `envconfig:"AUDIT_ENABLED" default:"true"`

	Image     ImageConfig     `envconfig:"IMAGE"`
	Locator   LocatorConfig   `envconfig:"LOCATOR"`
	DeepFace  DeepFaceConfig  `envconfig:"DEEPFACE"`
	Scoring   ScoringConfig   `envconfig:"SCORING"`
	Index     IndexConfig     `envconfig:"INDEX"`
	Baseline  BaselineConfig  `envconfig:"BASELINE"`
	Recommend RecommendConfig `envconfig:"RECOMMEND"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
}

type ImageConfig struct {
	MaxBytes     int `envconfig:"MAX_BYTES" default:"10485760" validate:"min=1"`
	MaxDimension int `envconfig:"MAX_DIMENSION" default:"4096" validate:"min=16"`
}

type LocatorConfig struct {
	MinConfidence    float64 `envconfig:"MIN_CONFIDENCE" default:"0.5" validate:"gt=0,lte=1"`
	MinFaceAreaRatio float64 `envconfig:"MIN_FACE_AREA_RATIO" default:"0.01" validate:"gte=0,lt=1"`
}

type DeepFaceConfig struct {
	URL        string        `envconfig:"URL" default:"http://localhost:5005" validate:"url"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"30s"`
	Model      string        `envconfig:"MODEL" default:"Facenet512" validate:"required"`
	Detector   string        `envconfig:"DETECTOR" default:"retinaface" validate:"required"`
	RetryCount int           `envconfig:"RETRY_COUNT" default:"3" validate:"min=0,max=10"`
}

type ScoringConfig struct {
	TopK              int     `envconfig:"TOP_K" default:"20" validate:"min=1"`
	TopM              int     `envconfig:"TOP_M" default:"5" validate:"min=1"`
	HealthyThreshold  float64 `envconfig:"HEALTHY_THRESHOLD" default:"0.8" validate:"gte=0,lte=1"`
	DampingFactor     float64 `envconfig:"DAMPING_FACTOR" default:"0.7" validate:"gte=0,lte=1"`
	SevereThreshold   float64 `envconfig:"SEVERE_THRESHOLD" default:"0.85" validate:"gte=0,lte=1"`
	ModerateThreshold float64 `envconfig:"MODERATE_THRESHOLD" default:"0.7" validate:"gte=0,lte=1"`
	MildThreshold     float64 `envconfig:"MILD_THRESHOLD" default:"0.5" validate:"gte=0,lte=1"`
	MinConfidence     float64 `envconfig:"MIN_CONFIDENCE" default:"0.5" validate:"gte=0,lte=1"`
	BaselineWeight    float64 `envconfig:"BASELINE_WEIGHT" default:"0.4" validate:"gte=0,lte=1"`
}

type IndexConfig struct {
	Kind     string `envconfig:"KIND" default:"flat" validate:"oneof=flat ivf pgvector"`
	IVFLists int    `envconfig:"IVF_LISTS" default:"16" validate:"min=1"`
	IVFProbe int    `envconfig:"IVF_PROBES" default:"4" validate:"min=1"`
}

type BaselineConfig struct {
	MinSamples int `envconfig:"MIN_SAMPLES" default:"20" validate:"min=1"`
}

type RecommendConfig struct {
	MinScore   float64 `envconfig:"MIN_SCORE" default:"0.7" validate:"gte=0,lte=1"`
	MaxResults int     `envconfig:"MAX_RESULTS" default:"10" validate:"min=1"`

	// CatalogCacheTTL caches postgres catalog lookups per condition set; 0 disables
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"5m"`
}

type RateLimitConfig struct {
	Enabled   bool          `envconfig:"ENABLED" default:"true"`
	PerMinute int           `envconfig:"PER_MINUTE" default:"60" validate:"min=1"`
	Window    time.Duration `envconfig:"WINDOW" default:"1m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the cross-field rules envconfig cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.needsDatabase() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required when snapshot, catalog or index use postgres")
	}

	s := c.Scoring
	if !(s.SevereThreshold > s.ModerateThreshold && s.ModerateThreshold > s.MildThreshold) {
		return fmt.Errorf("severity thresholds must be strictly decreasing: severe=%v moderate=%v mild=%v",
			s.SevereThreshold, s.ModerateThreshold, s.MildThreshold)
	}
	if s.TopM > s.TopK {
		return fmt.Errorf("SCORING_TOP_M (%d) cannot exceed SCORING_TOP_K (%d)", s.TopM, s.TopK)
	}
	if c.Index.IVFProbe > c.Index.IVFLists {
		return fmt.Errorf("INDEX_IVF_PROBES (%d) cannot exceed INDEX_IVF_LISTS (%d)", c.Index.IVFProbe, c.Index.IVFLists)
	}

	return nil
}

func (c *Config) needsDatabase() bool {
	return c.SnapshotSource == "postgres" || c.CatalogSource == "postgres" || c.Index.Kind == "pgvector"
}

// HasDatabase reports whether a Postgres connection is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
