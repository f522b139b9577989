package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Config represents the complete covdiff configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Storage         StorageConfig         `json:"storage" mapstructure:"storage"`
	Logging         LoggingConfig         `json:"logging" mapstructure:"logging"`
	Aggregation     AggregationConfig     `json:"aggregation" mapstructure:"aggregation"`
	Cache           CacheConfig           `json:"cache" mapstructure:"cache"`
	Impact          ImpactConfig          `json:"impact" mapstructure:"impact"`
	Recommendations RecommendationsConfig `json:"recommendations" mapstructure:"recommendations"`
	Report          ReportConfig          `json:"report" mapstructure:"report"`
	Risks           RisksConfig           `json:"risks" mapstructure:"risks"`
	Retention       RetentionConfig       `json:"retention" mapstructure:"retention"`
	Jobs            JobsConfig            `json:"jobs" mapstructure:"jobs"`
}

// StorageConfig locates the database. An empty Path uses <root>/.covdiff/covdiff.db.
type StorageConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig contains logging configuration. File, when set, also
// receives every record at debug level; relative paths are under the root.
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file,omitempty" mapstructure:"file"`
}

// AggregationConfig controls the coverage aggregator.
type AggregationConfig struct {
	Workers          int  `json:"workers" mapstructure:"workers"`
	StoreAggregates  bool `json:"storeAggregates" mapstructure:"storeAggregates"`
	LogTreeAnomalies bool `json:"logTreeAnomalies" mapstructure:"logTreeAnomalies"`
}

// CacheConfig bounds the in-memory bundle cache.
type CacheConfig struct {
	MaxBundles int `json:"maxBundles" mapstructure:"maxBundles"`
	TTLSeconds int `json:"ttlSeconds" mapstructure:"ttlSeconds"`
}

// ImpactConfig holds the impacted-tests policy.
type ImpactConfig struct {
	IncludeNewMethods bool   `json:"includeNewMethods" mapstructure:"includeNewMethods"`
	Window            string `json:"window" mapstructure:"window"`
}

// RecommendationsConfig holds defaults for recommended-tests queries.
type RecommendationsConfig struct {
	PageSize           int      `json:"pageSize" mapstructure:"pageSize"`
	BaselineBranches   []string `json:"baselineBranches" mapstructure:"baselineBranches"`
	CoveragePeriodDays int      `json:"coveragePeriodDays" mapstructure:"coveragePeriodDays"`
}

// ReportConfig holds build diff report settings.
type ReportConfig struct {
	CoverageThreshold float64 `json:"coverageThreshold" mapstructure:"coverageThreshold"`
}

// RisksConfig bounds the risk ledger.
type RisksConfig struct {
	MaxBuilds int `json:"maxBuilds" mapstructure:"maxBuilds"`
}

// RetentionConfig controls build expiry.
type RetentionConfig struct {
	Days       int `json:"days" mapstructure:"days"`
	KeepLatest int `json:"keepLatest" mapstructure:"keepLatest"`
}

// JobsConfig sizes the background job runner.
type JobsConfig struct {
	Workers                  int `json:"workers" mapstructure:"workers"`
	QueueSize                int `json:"queueSize" mapstructure:"queueSize"`
	RetentionIntervalMinutes int `json:"retentionIntervalMinutes" mapstructure:"retentionIntervalMinutes"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
		Aggregation: AggregationConfig{
			Workers:          4,
			StoreAggregates:  true,
			LogTreeAnomalies: true,
		},
		Cache: CacheConfig{
			MaxBundles: 64,
			TTLSeconds: 3600,
		},
		Impact: ImpactConfig{
			IncludeNewMethods: false,
			Window:            "since-baseline",
		},
		Recommendations: RecommendationsConfig{
			PageSize:         50,
			BaselineBranches: []string{},
		},
		Report: ReportConfig{
			CoverageThreshold: 80,
		},
		Risks: RisksConfig{
			MaxBuilds: 20,
		},
		Retention: RetentionConfig{
			Days:       90,
			KeepLatest: 10,
		},
		Jobs: JobsConfig{
			Workers:                  1,
			QueueSize:                100,
			RetentionIntervalMinutes: 24 * 60,
		},
	}
}

// LoadConfig loads configuration from .covdiff/config.json, falling back to
// defaults for a missing file and for keys the file leaves out.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(root, ".covdiff"))

	// COVDIFF_LOGGING_LEVEL overrides logging.level
	v.SetEnvPrefix("COVDIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("aggregation.workers", d.Aggregation.Workers)
	v.SetDefault("aggregation.storeAggregates", d.Aggregation.StoreAggregates)
	v.SetDefault("aggregation.logTreeAnomalies", d.Aggregation.LogTreeAnomalies)
	v.SetDefault("cache.maxBundles", d.Cache.MaxBundles)
	v.SetDefault("cache.ttlSeconds", d.Cache.TTLSeconds)
	v.SetDefault("impact.includeNewMethods", d.Impact.IncludeNewMethods)
	v.SetDefault("impact.window", d.Impact.Window)
	v.SetDefault("recommendations.pageSize", d.Recommendations.PageSize)
	v.SetDefault("recommendations.baselineBranches", d.Recommendations.BaselineBranches)
	v.SetDefault("recommendations.coveragePeriodDays", d.Recommendations.CoveragePeriodDays)
	v.SetDefault("report.coverageThreshold", d.Report.CoverageThreshold)
	v.SetDefault("risks.maxBuilds", d.Risks.MaxBuilds)
	v.SetDefault("retention.days", d.Retention.Days)
	v.SetDefault("retention.keepLatest", d.Retention.KeepLatest)
	v.SetDefault("jobs.workers", d.Jobs.Workers)
	v.SetDefault("jobs.queueSize", d.Jobs.QueueSize)
	v.SetDefault("jobs.retentionIntervalMinutes", d.Jobs.RetentionIntervalMinutes)
}

// Save writes the configuration to .covdiff/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, ".covdiff")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be human or json"}
	}
	if c.Aggregation.Workers < 1 {
		return &ConfigError{Field: "aggregation.workers", Message: "must be at least 1"}
	}
	if c.Cache.MaxBundles < 0 {
		return &ConfigError{Field: "cache.maxBundles", Message: "must not be negative"}
	}
	switch c.Impact.Window {
	case "since-baseline", "all-prior":
	default:
		return &ConfigError{Field: "impact.window", Message: "must be since-baseline or all-prior"}
	}
	if c.Recommendations.PageSize < 1 {
		return &ConfigError{Field: "recommendations.pageSize", Message: "must be at least 1"}
	}
	if c.Recommendations.CoveragePeriodDays < 0 {
		return &ConfigError{Field: "recommendations.coveragePeriodDays", Message: "must not be negative"}
	}
	if c.Report.CoverageThreshold < 0 || c.Report.CoverageThreshold > 100 {
		return &ConfigError{Field: "report.coverageThreshold", Message: "must be between 0 and 100"}
	}
	if c.Risks.MaxBuilds < 0 {
		return &ConfigError{Field: "risks.maxBuilds", Message: "must not be negative"}
	}
	if c.Retention.Days < 0 || c.Retention.KeepLatest < 0 {
		return &ConfigError{Field: "retention", Message: "must not be negative"}
	}
	if c.Jobs.Workers < 1 {
		return &ConfigError{Field: "jobs.workers", Message: "must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
