package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"INDEX_TYPE", "DATA_SOURCE", "REGION", "WORKING_DIR", "HANDLERS_DIR", "INDEX_ENDPOINT",
		"STATE_TOPIC", "NATS_URL", "STATE_CODEC", "PUBLISH_TIMEOUT", "VALIDATION_SETTLE",
		"VALIDATION_TIMEOUT", "VALIDATION_PROBE", "OSM_CITY_LEVEL", "COSMOGONY_COUNTRY_CODE",
		"ERROR_POLICY", "BANO_BASE_URL", "OSM_BASE_URL", "NTFS_BASE_URL", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}

	if cfg.Bus.NATSURL != "nats://127.0.0.1:4222" {
		t.Fatalf("unexpected NATS URL: %s", cfg.Bus.NATSURL)
	}
	if cfg.Topic != "state" || cfg.Bus.Codec != "json" {
		t.Fatalf("unexpected topic/codec: %s %s", cfg.Topic, cfg.Bus.Codec)
	}
	if cfg.WorkingDir != "./work" || cfg.HandlersDir != "./bin" {
		t.Fatalf("unexpected dirs: %s %s", cfg.WorkingDir, cfg.HandlersDir)
	}
	if cfg.IndexEndpoint != "http://localhost:9200" {
		t.Fatalf("unexpected index endpoint: %s", cfg.IndexEndpoint)
	}
	if cfg.ErrorPolicy != "reset" {
		t.Fatalf("unexpected error policy: %s", cfg.ErrorPolicy)
	}
	if cfg.Validation.Settle != time.Second || cfg.Validation.Timeout != 30*time.Second || cfg.Validation.Probe {
		t.Fatalf("unexpected validation settings: %+v", cfg.Validation)
	}
	if cfg.Bus.PublishTimeout != 5*time.Second {
		t.Fatalf("unexpected publish timeout: %s", cfg.Bus.PublishTimeout)
	}
	if cfg.Sources.CityLevel != 8 || cfg.Sources.CountryCode != "FR" {
		t.Fatalf("unexpected source settings: %+v", cfg.Sources)
	}
}

func TestFromEnvInvalidValues(t *testing.T) {
	cases := map[string]string{
		"OSM_CITY_LEVEL":     "not-a-number",
		"VALIDATION_SETTLE":  "soon",
		"VALIDATION_PROBE":   "maybe",
		"PUBLISH_TIMEOUT":    "-1s",
		"VALIDATION_TIMEOUT": "forever",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected error mentioning %s, got %v", key, err)
			}
		})
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("NATS_URL", "nats://env:4222")

	path := filepath.Join(t.TempDir(), "indexer.yaml")
	body := `
data_source: cosmogony
region: monaco
index_type: admins
error_policy: halt
bus:
  codec: msgpack
validation:
  settle: 250ms
  probe: true
sources:
  country_code: MC
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DataSource != "cosmogony" || cfg.Region != "monaco" || cfg.IndexType != "admins" {
		t.Fatalf("pipeline not loaded: %+v", cfg.Pipeline)
	}
	if cfg.Bus.NATSURL != "nats://env:4222" {
		t.Fatalf("env value lost: %s", cfg.Bus.NATSURL)
	}
	if cfg.Bus.Codec != "msgpack" || cfg.ErrorPolicy != "halt" {
		t.Fatalf("yaml overlay not applied: %+v", cfg)
	}
	if cfg.Validation.Settle != 250*time.Millisecond || !cfg.Validation.Probe {
		t.Fatalf("unexpected validation: %+v", cfg.Validation)
	}
	if cfg.Sources.CountryCode != "MC" || cfg.Sources.CityLevel != 8 {
		t.Fatalf("unexpected sources: %+v", cfg.Sources)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	base.IndexType, base.DataSource, base.Region = "addresses", "bano", "75"

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing region", func(c *Config) { c.Region = "" }, "pipeline.region failed validation for tag 'required'"},
		{"bad codec", func(c *Config) { c.Bus.Codec = "xml" }, "bus.codec failed validation for tag 'oneof'"},
		{"bad policy", func(c *Config) { c.ErrorPolicy = "retry" }, "errorpolicy failed validation for tag 'oneof'"},
		{"bad endpoint", func(c *Config) { c.IndexEndpoint = "localhost" }, "pipeline.indexendpoint failed validation for tag 'url'"},
		{"bad country", func(c *Config) { c.Sources.CountryCode = "FRA" }, "sources.countrycode failed validation for tag 'len'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.want {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestValidateWatchIgnoresPipeline(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if err := cfg.ValidateWatch(); err != nil {
		t.Fatalf("ValidateWatch returned error: %v", err)
	}
	cfg.Topic = ""
	err = cfg.ValidateWatch()
	if err == nil || err.Error() != "pipeline.topic failed validation for tag 'required'" {
		t.Fatalf("unexpected topic error: %v", err)
	}
}

func TestValidateWatchReportsBusFieldPath(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	cfg.Bus.NATSURL = ""

	err = cfg.ValidateWatch()
	if err == nil || err.Error() != "bus.natsurl failed validation for tag 'required'" {
		t.Fatalf("unexpected bus error: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.HasPrefix(err.Error(), "pipeline.") {
		t.Fatalf("Validate should report the pipeline first, got %v", err)
	}
}
