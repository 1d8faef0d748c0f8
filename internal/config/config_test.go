package config

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func pointConfigAtMissingFile(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
}

func TestLoadConfigDefaults(t *testing.T) {
	pointConfigAtMissingFile(t)
	t.Setenv("TIMEZONE", "UTC")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8000" {
		t.Fatalf("unexpected http addr default: %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "./pminsight.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.EmbedModel != "all-MiniLM-L6-v2" || cfg.EmbedDim != 384 {
		t.Fatalf("unexpected embed defaults: %q dim %d", cfg.EmbedModel, cfg.EmbedDim)
	}
	if cfg.ConfidenceCutoff != 0.65 {
		t.Fatalf("unexpected confidence cutoff default: %f", cfg.ConfidenceCutoff)
	}
	if cfg.ClusterSeed != 42 {
		t.Fatalf("unexpected cluster seed default: %d", cfg.ClusterSeed)
	}
	if cfg.ReviewPerBin != 50 {
		t.Fatalf("unexpected review per-bin default: %d", cfg.ReviewPerBin)
	}
	if cfg.SyncSchedule != "0 2 * * *" || cfg.ReclassifySchedule != "30 2 * * *" {
		t.Fatalf("unexpected schedule defaults: %q / %q", cfg.SyncSchedule, cfg.ReclassifySchedule)
	}
	if cfg.SyncHistoryDays != 30 {
		t.Fatalf("unexpected sync history default: %d", cfg.SyncHistoryDays)
	}
	if cfg.ExternalHTTPTimeoutSeconds != int(defaultExternalHTTPTimeout/time.Second) {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if cfg.ChatConfigured() || cfg.HelpdeskConfigured() || cfg.TrackerConfigured() {
		t.Fatal("no source should be configured by default")
	}
	if cfg.EmbedConfigured() || cfg.AnswerConfigured() {
		t.Fatal("no provider should be configured by default")
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http_addr: ":9001"
db_path: "/tmp/yaml.db"
embed_base_url: "http://embed:8080"
embed_model: "yaml-model"
embed_dim: 512
confidence_cutoff: 0.7
chat_token: "xoxb-yaml"
chat_channels: ["C100"]
timezone: "America/Los_Angeles"
external_http_timeout_seconds: 75
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("CONFIDENCE_CUTOFF", "0.8")
	t.Setenv("CHAT_CHANNELS", "C200, C300")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9001" {
		t.Fatalf("expected http addr from yaml, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected db path from env override, got %q", cfg.DBPath)
	}
	if cfg.EmbedBaseURL != "http://embed:8080" || cfg.EmbedModel != "yaml-model" || cfg.EmbedDim != 512 {
		t.Fatalf("expected embed settings from yaml, got %q %q %d", cfg.EmbedBaseURL, cfg.EmbedModel, cfg.EmbedDim)
	}
	if cfg.ConfidenceCutoff != 0.8 {
		t.Fatalf("expected cutoff from env override, got %f", cfg.ConfidenceCutoff)
	}
	if len(cfg.ChatChannels) != 2 || cfg.ChatChannels[0] != "C200" || cfg.ChatChannels[1] != "C300" {
		t.Fatalf("expected channels from env override, got %v", cfg.ChatChannels)
	}
	if !cfg.ChatConfigured() {
		t.Fatal("chat should be configured")
	}
	if cfg.ExternalHTTPTimeoutSeconds != 75 {
		t.Fatalf("expected external HTTP timeout from yaml, got %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.Location == nil || cfg.Location.String() != "America/Los_Angeles" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	s := "initial"
	t.Setenv("PI_TEST_STR", "value")
	envOverride(&s, "PI_TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride failed, got %q", s)
	}

	i := 1
	t.Setenv("PI_TEST_INT", "42")
	envOverrideInt(&i, "PI_TEST_INT")
	if i != 42 {
		t.Fatalf("envOverrideInt failed, got %d", i)
	}

	f := 0.1
	t.Setenv("PI_TEST_FLOAT", "0.75")
	envOverrideFloat(&f, "PI_TEST_FLOAT")
	if f != 0.75 {
		t.Fatalf("envOverrideFloat failed, got %f", f)
	}

	var list []string
	t.Setenv("PI_TEST_LIST", "a, b , ,c")
	envOverrideList(&list, "PI_TEST_LIST")
	if len(list) != 3 || list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Fatalf("envOverrideList failed, got %v", list)
	}
}

func TestLoadConfigInvalidCutoffFatal(t *testing.T) {
	if os.Getenv("TEST_INVALID_CUTOFF_FATAL") == "1" {
		_ = os.Setenv("CONFIG_PATH", filepath.Join(os.TempDir(), "no-config.yaml"))
		_ = os.Setenv("CONFIDENCE_CUTOFF", "1.5")
		LoadConfig()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestLoadConfigInvalidCutoffFatal")
	cmd.Env = append(os.Environ(), "TEST_INVALID_CUTOFF_FATAL=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got: %v", err)
	}
}

func TestLoadConfigPartialTrackerFatal(t *testing.T) {
	if os.Getenv("TEST_PARTIAL_TRACKER_FATAL") == "1" {
		_ = os.Setenv("CONFIG_PATH", filepath.Join(os.TempDir(), "no-config.yaml"))
		_ = os.Setenv("TRACKER_BASE_URL", "https://tracker.example.com")
		LoadConfig()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestLoadConfigPartialTrackerFatal")
	cmd.Env = append(os.Environ(), "TEST_PARTIAL_TRACKER_FATAL=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got: %v", err)
	}
}
