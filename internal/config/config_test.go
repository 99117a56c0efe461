package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("querypilot", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.Path != "olist.duckdb" {
		t.Fatalf("Dataset.Path = %q", cfg.Dataset.Path)
	}
	if cfg.Model.Deployment != "gpt-4o" {
		t.Fatalf("Model.Deployment = %q", cfg.Model.Deployment)
	}
	if cfg.Model.APIVersion != "2024-10-21" {
		t.Fatalf("Model.APIVersion = %q", cfg.Model.APIVersion)
	}
	if cfg.Model.InputCostPer1M != 2.5 {
		t.Fatalf("Model.InputCostPer1M = %v", cfg.Model.InputCostPer1M)
	}
	if cfg.Model.OutputCostPer1M != 10.0 {
		t.Fatalf("Model.OutputCostPer1M = %v", cfg.Model.OutputCostPer1M)
	}
	if cfg.Archive.Enabled {
		t.Fatal("Archive.Enabled should default to false")
	}
	if cfg.ReportStore.Enabled {
		t.Fatal("ReportStore.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYPILOT_PROFILE": "prod"})
	cfg, err := Load("querypilot", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true in prod")
	}
	if !cfg.ReportStore.UseSSL {
		t.Fatal("ReportStore.UseSSL should default to true in prod")
	}
	if cfg.ReportStore.AutoCreateBucket {
		t.Fatal("ReportStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYPILOT_MODEL_ENDPOINT":           "https://example.openai.azure.com",
		"QUERYPILOT_MODEL_API_KEY":            "secret",
		"QUERYPILOT_MODEL_DEPLOYMENT":         "o3-mini",
		"QUERYPILOT_MODEL_TIMEOUT":            "45s",
		"QUERYPILOT_MODEL_INPUT_COST_PER_1M":  "1.1",
		"QUERYPILOT_MODEL_OUTPUT_COST_PER_1M": "4.4",
		"QUERYPILOT_DATASET_PATH":             "/data/olist.duckdb",
		"QUERYPILOT_ARCHIVE_ENABLED":          "true",
		"QUERYPILOT_ARCHIVE_DSN":              "postgres://qp@db:5432/qp",
		"QUERYPILOT_ARCHIVE_MAX_CONNS":        "8",
		"QUERYPILOT_METRICS_ADDR":             ":9090",
	})
	cfg, err := Load("querypilot", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Endpoint != "https://example.openai.azure.com" {
		t.Fatalf("Model.Endpoint = %q", cfg.Model.Endpoint)
	}
	if cfg.Model.Deployment != "o3-mini" {
		t.Fatalf("Model.Deployment = %q", cfg.Model.Deployment)
	}
	if cfg.Model.Timeout != 45*time.Second {
		t.Fatalf("Model.Timeout = %v", cfg.Model.Timeout)
	}
	if cfg.Model.InputCostPer1M != 1.1 || cfg.Model.OutputCostPer1M != 4.4 {
		t.Fatalf("pricing = %v / %v", cfg.Model.InputCostPer1M, cfg.Model.OutputCostPer1M)
	}
	if cfg.Dataset.Path != "/data/olist.duckdb" {
		t.Fatalf("Dataset.Path = %q", cfg.Dataset.Path)
	}
	if !cfg.Archive.Enabled || cfg.Archive.DSN != "postgres://qp@db:5432/qp" {
		t.Fatalf("Archive = %+v", cfg.Archive)
	}
	if cfg.Archive.MaxConns != 8 {
		t.Fatalf("Archive.MaxConns = %d", cfg.Archive.MaxConns)
	}
	if cfg.Observability.MetricsAddr != ":9090" {
		t.Fatalf("MetricsAddr = %q", cfg.Observability.MetricsAddr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []map[string]string{
		{"QUERYPILOT_PROFILE": "staging"},
		{"QUERYPILOT_MODEL_TIMEOUT": "soon"},
		{"QUERYPILOT_MODEL_INPUT_COST_PER_1M": "free"},
		{"QUERYPILOT_ARCHIVE_ENABLED": "maybe"},
		{"QUERYPILOT_LOG_LEVEL": "loud"},
		{"QUERYPILOT_DATASET_PATH": ""},
		{"QUERYPILOT_ARCHIVE_ENABLED": "true", "QUERYPILOT_ARCHIVE_DSN": ""},
	}
	for _, env := range cases {
		if _, err := Load("querypilot", mapLookup(env)); err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
