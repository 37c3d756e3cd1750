package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "smxpscan/internal/errors"
)

// EnvPrefix namespaces every environment variable, e.g. PSCAN_FIT_MAX_ATTEMPTS
const EnvPrefix = "PSCAN"

// Config represents the complete application configuration
type Config struct {
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Scan          ScanConfig          `yaml:"scan" envconfig:"SCAN"`
	Fit           FitConfig           `yaml:"fit" envconfig:"FIT"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
}

// ScanConfig controls ingestion of scan files
type ScanConfig struct {
	// DefaultPulseCount is used when the file name carries no NP_ token
	DefaultPulseCount int `yaml:"default_pulse_count" envconfig:"DEFAULT_PULSE_COUNT" validate:"min=1"`
	// Location is the time zone acquisition timestamps are interpreted in
	Location string `yaml:"location" envconfig:"LOCATION" validate:"location"`
	// MaxLineBytes bounds the length of a single data line
	MaxLineBytes int `yaml:"max_line_bytes" envconfig:"MAX_LINE_BYTES" validate:"min=256"`
}

// FitConfig controls the threshold fit
type FitConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"min=1,max=20"`
	MaxStrategy       int     `yaml:"max_strategy" envconfig:"MAX_STRATEGY" validate:"min=0,max=2"`
	ComparatorSpacing float64 `yaml:"comparator_spacing" envconfig:"COMPARATOR_SPACING" validate:"gte=0,lte=1"`
	// EDMTolerance is the estimated distance to minimum below which a minimum is accepted
	EDMTolerance float64 `yaml:"edm_tolerance" envconfig:"EDM_TOLERANCE" validate:"gt=0"`
	// MaxIterations is the iteration budget of strategy 0; higher strategies scale it
	MaxIterations int `yaml:"max_iterations" envconfig:"MAX_ITERATIONS" validate:"min=10"`
	// Concurrency bounds parallel fits in a batch; 1 fits sequentially
	Concurrency int `yaml:"concurrency" envconfig:"CONCURRENCY" validate:"min=1,max=256"`
}

// ObservabilityConfig selects metric and trace exporters
type ObservabilityConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableMetrics  bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing  bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"min=0,max=1"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/pscan.log",
		},
		Scan: ScanConfig{
			DefaultPulseCount: 100,
			Location:          "Local",
			MaxLineBytes:      64 * 1024,
		},
		Fit: FitConfig{
			MaxAttempts:       5,
			MaxStrategy:       2,
			ComparatorSpacing: 0.02,
			EDMTolerance:      1e-4,
			MaxIterations:     500,
			Concurrency:       1,
		},
		Observability: ObservabilityConfig{
			ServiceName:    "smx-pscan",
			Environment:    "development",
			EnableMetrics:  false,
			EnableTracing:  false,
			MetricExporter: "none",
			TraceExporter:  "none",
			SampleRatio:    1.0,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// PSCAN_* environment variables, in increasing order of precedence.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err).
				WithContext("path", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file keep their value
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	v, err := newValidator()
	if err != nil {
		return apperrors.NewConfigError("config validator setup failed", err)
	}
	err = v.Struct(c)
	if err == nil {
		return nil
	}

	var msgs []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	} else {
		msgs = append(msgs, err.Error())
	}
	return apperrors.NewConfigError("config validation failed: "+strings.Join(msgs, "; "), err)
}

// TimeLocation resolves the configured time zone
func (s ScanConfig) TimeLocation() *time.Location {
	loc, err := loadLocation(s.Location)
	if err != nil {
		return time.Local
	}
	return loc
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := v.RegisterValidation("location", isLocation); err != nil {
		return nil, fmt.Errorf("register location validation: %w", err)
	}

	// Report YAML key names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v, nil
}

func isLocation(fl validator.FieldLevel) bool {
	_, err := loadLocation(fl.Field().String())
	return err == nil
}

func loadLocation(name string) (*time.Location, error) {
	switch strings.ToLower(name) {
	case "", "local":
		return time.Local, nil
	case "utc":
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
