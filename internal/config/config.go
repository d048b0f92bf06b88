package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Default filter expressions applied to every slice before analysis.
const (
	DefaultKeep   = "PcontrDb < -2.5 AND PwindMin < 4 AND SwindMean > 2 AND SwindMean < 10 AND Lcard < 10 AND Ldens < 0.0000075 AND SstdDb_Th < Th_SstdDb"
	DefaultReject = "Pice = 1 OR PnearLand = 1 OR PeulerN < -50"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Filter   FilterConfig   `yaml:"filter" mapstructure:"filter"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Aux      AuxConfig      `yaml:"aux" mapstructure:"aux"`
	Weight   WeightConfig   `yaml:"weight" mapstructure:"weight"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local SQLite store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnalysisConfig configures the persistence run.
type AnalysisConfig struct {
	Distances          []int   `yaml:"distances" mapstructure:"distances"`
	Mode               string  `yaml:"mode" mapstructure:"mode"`
	Workers            int     `yaml:"workers" mapstructure:"workers"`
	Geographic         bool    `yaml:"geographic" mapstructure:"geographic"`
	CellSize           float64 `yaml:"cell_size" mapstructure:"cell_size"`
	BufferSegments     int     `yaml:"buffer_segments" mapstructure:"buffer_segments"`
	BackendTimeoutSecs int     `yaml:"backend_timeout_secs" mapstructure:"backend_timeout_secs"`
	BackendAttempts    int     `yaml:"backend_attempts" mapstructure:"backend_attempts"`
}

// FilterConfig holds the SQL keep/reject expressions.
type FilterConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Keep       string `yaml:"keep" mapstructure:"keep"`
	Reject     string `yaml:"reject" mapstructure:"reject"`
	RejectOnly bool   `yaml:"reject_only" mapstructure:"reject_only"`
}

// IngestConfig configures slice discovery.
type IngestConfig struct {
	Dir          string         `yaml:"dir" mapstructure:"dir"`
	IDField      string         `yaml:"id_field" mapstructure:"id_field"`
	OtherSources []SourceConfig `yaml:"other_sources" mapstructure:"other_sources"`
}

// SourceConfig describes a non-SAR layer split into year slices.
type SourceConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	IDField   string `yaml:"id_field" mapstructure:"id_field"`
	YearField string `yaml:"year_field" mapstructure:"year_field"`
}

// OutputConfig configures what an analysis run writes.
type OutputConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Shapefile bool   `yaml:"shapefile" mapstructure:"shapefile"`
	Manifest  bool   `yaml:"manifest" mapstructure:"manifest"`
}

// AuxConfig configures the auxiliary chlorophyll download.
type AuxConfig struct {
	Host        string  `yaml:"host" mapstructure:"host"`
	BasePath    string  `yaml:"base_path" mapstructure:"base_path"`
	Days        int     `yaml:"days" mapstructure:"days"`
	DestDir     string  `yaml:"dest_dir" mapstructure:"dest_dir"`
	Attempts    int     `yaml:"attempts" mapstructure:"attempts"`
	BackoffSecs int     `yaml:"backoff_secs" mapstructure:"backoff_secs"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// WeightConfig configures the weight-likelihood attribute terms.
type WeightConfig struct {
	Attributes []AttributeSpec `yaml:"attributes" mapstructure:"attributes"`
}

// AttributeSpec is one piecewise-linear likelihood term.
type AttributeSpec struct {
	Field string  `yaml:"field" mapstructure:"field"`
	C1    float64 `yaml:"c1" mapstructure:"c1"`
	C2    float64 `yaml:"c2" mapstructure:"c2"`
	A     float64 `yaml:"a" mapstructure:"a"`
	B     float64 `yaml:"b" mapstructure:"b"`
}

// PostgresConfig configures publishing to PostGIS.
type PostgresConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PERSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "persistence.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("analysis.distances", []int{0, 500, 1000})
	v.SetDefault("analysis.mode", "auto")
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.geographic", true)
	v.SetDefault("analysis.cell_size", 0.0005)
	v.SetDefault("analysis.buffer_segments", 32)
	v.SetDefault("analysis.backend_timeout_secs", 600)
	v.SetDefault("analysis.backend_attempts", 2)
	v.SetDefault("filter.enabled", true)
	v.SetDefault("filter.keep", DefaultKeep)
	v.SetDefault("filter.reject", DefaultReject)
	v.SetDefault("filter.reject_only", false)
	v.SetDefault("ingest.dir", ".")
	v.SetDefault("ingest.id_field", "targetID")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.shapefile", false)
	v.SetDefault("output.manifest", true)
	v.SetDefault("aux.host", "oceandata.sci.gsfc.nasa.gov:21")
	v.SetDefault("aux.base_path", "/MODISA/L2")
	v.SetDefault("aux.days", 1)
	v.SetDefault("aux.dest_dir", "Auxiliary/Chlorophyll")
	v.SetDefault("aux.attempts", 5)
	v.SetDefault("aux.backoff_secs", 20)
	v.SetDefault("aux.timeout_secs", 30)
	v.SetDefault("aux.rate_per_sec", 2.0)
	v.SetDefault("postgres.database_url", "")
	v.SetDefault("postgres.schema", "persistence")
	v.SetDefault("postgres.table", "targets")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Weight.Attributes) == 0 {
		cfg.Weight.Attributes = DefaultWeightAttributes()
	}

	return &cfg, nil
}

// DefaultWeightAttributes returns the likelihood terms used when none are
// configured.
func DefaultWeightAttributes() []AttributeSpec {
	return []AttributeSpec{
		{Field: "Lcard", C1: 0.5, C2: 1, A: 10, B: 15},
		{Field: "PwindMin", C1: 0.5, C2: 1, A: 10, B: 15},
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze":
		if len(c.Analysis.Distances) == 0 {
			errs = append(errs, "analysis.distances must not be empty")
		}
		for _, d := range c.Analysis.Distances {
			if d < 0 {
				errs = append(errs, "analysis.distances must be >= 0")
				break
			}
		}
		switch c.Analysis.Mode {
		case "auto", "day", "year":
		default:
			errs = append(errs, "analysis.mode must be one of auto, day, year")
		}
		if c.Analysis.Workers < 1 || c.Analysis.Workers > 64 {
			errs = append(errs, "analysis.workers must be between 1 and 64")
		}
		if c.Analysis.CellSize <= 0 {
			errs = append(errs, "analysis.cell_size must be > 0")
		}
		if c.Ingest.IDField == "" {
			errs = append(errs, "ingest.id_field is required")
		}
		if c.Filter.Enabled && c.Filter.RejectOnly && c.Filter.Reject == "" {
			errs = append(errs, "filter.reject is required when filter.reject_only is set")
		}
		for _, src := range c.Ingest.OtherSources {
			if src.Path == "" || src.YearField == "" {
				errs = append(errs, "ingest.other_sources entries need path and year_field")
				break
			}
		}
		for _, a := range c.Weight.Attributes {
			if a.Field == "" || a.B < a.A {
				errs = append(errs, "weight.attributes entries need a field and a <= b")
				break
			}
		}
	case "fetch-aux":
		if c.Aux.Host == "" {
			errs = append(errs, "aux.host is required")
		}
		if c.Aux.Days < 0 {
			errs = append(errs, "aux.days must be >= 0")
		}
		if c.Aux.Attempts < 1 {
			errs = append(errs, "aux.attempts must be >= 1")
		}
		if c.Aux.RatePerSec <= 0 {
			errs = append(errs, "aux.rate_per_sec must be > 0")
		}
	case "publish":
		if c.Postgres.DatabaseURL == "" {
			errs = append(errs, "postgres.database_url is required")
		}
		if c.Postgres.Table == "" {
			errs = append(errs, "postgres.table is required")
		}
	case "runs", "export":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
