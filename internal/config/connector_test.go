package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSpec(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "connector.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestLoadConnectorSpec_ResolvesRelativeSourceConfigAndSchema(t *testing.T) {
	path := writeSpec(t, `schema_version: v1
source:
  kind: kafka
  driver: sarama
  config: kafka_source.yml
channel:
  backend: postgres
  postgres:
    dsn: postgres://localhost/basin?sslmode=disable
buffer:
  max_records: 500
  max_bytes: 1048576
  max_age_ms: 5000
retry:
  attempts: 4
  backoff_ms: 250
  backoff_cap_ms: 10000
`)
	cfg, abs, err := LoadConnectorSpec(path)
	if err != nil {
		t.Fatalf("LoadConnectorSpec: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want schema %s, got %s", SupportedSchema, cfg.SchemaVersion)
	}
	if abs == "" || !filepath.IsAbs(abs) {
		t.Fatalf("want absolute kafka config path, got %q", abs)
	}

	th := cfg.Threshold()
	if th.MaxRecords != 500 || th.MaxBytes != 1048576 || th.MaxAge != 5*time.Second {
		t.Fatalf("threshold = %+v", th)
	}
	rc := cfg.RetryConfig()
	if rc.MaxAttempts != 4 || rc.Backoff != 250*time.Millisecond || rc.BackoffCap != 10*time.Second {
		t.Fatalf("retry = %+v", rc)
	}
	raw, err := cfg.ChannelConfig()
	if err != nil {
		t.Fatalf("channel config: %v", err)
	}
	pg := cfg.Channel.Postgres
	if pg.DSN == "" {
		t.Fatal("postgres dsn not parsed")
	}
	if raw != any(pg) {
		t.Fatalf("ChannelConfig returned %#v, want the postgres section", raw)
	}
}

func TestLoadConnectorSpec_InvalidSchema(t *testing.T) {
	path := writeSpec(t, `schema_version: v999
source: { kind: kafka, driver: sarama }
channel: { backend: memory }
`)
	if _, _, err := LoadConnectorSpec(path); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoadConnectorSpec_RejectsUnknownSourceAndMissingBackend(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown source", "source: { kind: pulsar }\nchannel: { backend: memory }\n"},
		{"missing backend", "source: { kind: kafka, driver: sarama }\n"},
		{"no thresholds enabled", "source: { kind: kafka, driver: sarama }\nchannel: { backend: memory }\nbuffer: { max_records: 0 }\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := LoadConnectorSpec(writeSpec(t, tc.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestChannelConfig_UnknownBackend(t *testing.T) {
	var f File
	f.Channel.Backend = "s3"
	if _, err := f.ChannelConfig(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
