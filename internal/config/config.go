// Package config loads indexer settings from the environment, an optional
// YAML file and command line overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the immutable per-run configuration handed to the driver.
type Pipeline struct {
	IndexType     string `yaml:"index_type" validate:"required"`
	DataSource    string `yaml:"data_source" validate:"required"`
	Region        string `yaml:"region" validate:"required"`
	WorkingDir    string `yaml:"working_dir" validate:"required"`
	HandlersDir   string `yaml:"handlers_dir" validate:"required"`
	IndexEndpoint string `yaml:"index_endpoint" validate:"required,url"`
	Topic         string `yaml:"topic" validate:"required"`
}

// Bus holds the pub/sub connection settings.
type Bus struct {
	NATSURL        string        `yaml:"nats_url" validate:"required,url"`
	Codec          string        `yaml:"codec" validate:"oneof=json msgpack"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gt=0"`
}

// Validation configures the readiness check run after indexing.
type Validation struct {
	Settle  time.Duration `yaml:"settle" validate:"gte=0"`
	Probe   bool          `yaml:"probe"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Sources configures the built-in data source handlers.
type Sources struct {
	BanoBaseURL string `yaml:"bano_base_url" validate:"omitempty,url"`
	OSMBaseURL  string `yaml:"osm_base_url" validate:"omitempty,url"`
	NTFSBaseURL string `yaml:"ntfs_base_url" validate:"omitempty,url"`
	CountryCode string `yaml:"country_code" validate:"required,len=2"`
	CityLevel   int    `yaml:"city_level" validate:"gte=1,lte=12"`
}

type Config struct {
	Pipeline     `yaml:",inline"`
	Bus          Bus        `yaml:"bus"`
	Validation   Validation `yaml:"validation"`
	Sources      Sources    `yaml:"sources"`
	ErrorPolicy  string     `yaml:"error_policy" validate:"oneof=reset halt"`
	OTLPEndpoint string     `yaml:"otlp_endpoint"`
}

// Load reads defaults from the environment and overlays the YAML file at
// path when one is given. The result is not validated; callers apply their
// overrides first.
func Load(path string) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func FromEnv() (Config, error) {
	cfg := Config{
		Pipeline: Pipeline{
			IndexType:     getenv("INDEX_TYPE", ""),
			DataSource:    getenv("DATA_SOURCE", ""),
			Region:        getenv("REGION", ""),
			WorkingDir:    getenv("WORKING_DIR", "./work"),
			HandlersDir:   getenv("HANDLERS_DIR", "./bin"),
			IndexEndpoint: getenv("INDEX_ENDPOINT", "http://localhost:9200"),
			Topic:         getenv("STATE_TOPIC", "state"),
		},
		Bus: Bus{
			NATSURL: getenv("NATS_URL", "nats://127.0.0.1:4222"),
			Codec:   getenv("STATE_CODEC", "json"),
		},
		Sources: Sources{
			BanoBaseURL: getenv("BANO_BASE_URL", ""),
			OSMBaseURL:  getenv("OSM_BASE_URL", ""),
			NTFSBaseURL: getenv("NTFS_BASE_URL", ""),
			CountryCode: getenv("COSMOGONY_COUNTRY_CODE", "FR"),
		},
		ErrorPolicy:  getenv("ERROR_POLICY", "reset"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	var err error
	if cfg.Bus.PublishTimeout, err = parseDuration(getenv("PUBLISH_TIMEOUT", "5s"), "PUBLISH_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.Validation.Settle, err = parseDuration(getenv("VALIDATION_SETTLE", "1s"), "VALIDATION_SETTLE"); err != nil {
		return Config{}, err
	}
	if cfg.Validation.Timeout, err = parseDuration(getenv("VALIDATION_TIMEOUT", "30s"), "VALIDATION_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.Validation.Probe, err = parseBool(getenv("VALIDATION_PROBE", "false"), "VALIDATION_PROBE"); err != nil {
		return Config{}, err
	}
	if cfg.Sources.CityLevel, err = parsePositiveInt(getenv("OSM_CITY_LEVEL", "8"), "OSM_CITY_LEVEL"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseDuration(value string, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %s)", name, d)
	}
	return d, nil
}

func parseBool(value string, name string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}
