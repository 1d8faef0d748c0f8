package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 30 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	DBPath   string `yaml:"db_path"`

	EmbedBaseURL string `yaml:"embed_base_url"`
	EmbedAPIKey  string `yaml:"embed_api_key"`
	EmbedModel   string `yaml:"embed_model"`
	EmbedDim     int    `yaml:"embed_dim"`

	VerticalsPath    string  `yaml:"verticals_path"`
	ConfidenceCutoff float64 `yaml:"confidence_cutoff"`
	ClusterSeed      int     `yaml:"cluster_seed"`
	ReviewPerBin     int     `yaml:"review_per_bin"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnswerModel     string `yaml:"answer_model"`

	ChatToken    string   `yaml:"chat_token"`
	ChatChannels []string `yaml:"chat_channels"`

	HelpdeskBaseURL      string   `yaml:"helpdesk_base_url"`
	HelpdeskEmail        string   `yaml:"helpdesk_email"`
	HelpdeskToken        string   `yaml:"helpdesk_token"`
	InternalEmailDomains []string `yaml:"internal_email_domains"`

	TrackerBaseURL  string   `yaml:"tracker_base_url"`
	TrackerEmail    string   `yaml:"tracker_email"`
	TrackerToken    string   `yaml:"tracker_token"`
	TrackerProjects []string `yaml:"tracker_projects"`

	SyncSchedule       string `yaml:"sync_schedule"`
	ReclassifySchedule string `yaml:"reclassify_schedule"`
	SyncHistoryDays    int    `yaml:"sync_history_days"`

	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Timezone                   string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.EmbedBaseURL, "EMBED_BASE_URL")
	envOverride(&cfg.EmbedAPIKey, "EMBED_API_KEY")
	envOverride(&cfg.EmbedModel, "EMBED_MODEL")
	envOverrideInt(&cfg.EmbedDim, "EMBED_DIM")
	envOverride(&cfg.VerticalsPath, "VERTICALS_PATH")
	envOverrideFloat(&cfg.ConfidenceCutoff, "CONFIDENCE_CUTOFF")
	envOverrideInt(&cfg.ClusterSeed, "CLUSTER_SEED")
	envOverrideInt(&cfg.ReviewPerBin, "REVIEW_PER_BIN")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnswerModel, "ANSWER_MODEL")
	envOverride(&cfg.ChatToken, "CHAT_TOKEN")
	envOverrideList(&cfg.ChatChannels, "CHAT_CHANNELS")
	envOverride(&cfg.HelpdeskBaseURL, "HELPDESK_BASE_URL")
	envOverride(&cfg.HelpdeskEmail, "HELPDESK_EMAIL")
	envOverride(&cfg.HelpdeskToken, "HELPDESK_TOKEN")
	envOverrideList(&cfg.InternalEmailDomains, "INTERNAL_EMAIL_DOMAINS")
	envOverride(&cfg.TrackerBaseURL, "TRACKER_BASE_URL")
	envOverride(&cfg.TrackerEmail, "TRACKER_EMAIL")
	envOverride(&cfg.TrackerToken, "TRACKER_TOKEN")
	envOverrideList(&cfg.TrackerProjects, "TRACKER_PROJECTS")
	envOverride(&cfg.SyncSchedule, "SYNC_SCHEDULE")
	envOverride(&cfg.ReclassifySchedule, "RECLASSIFY_SCHEDULE")
	envOverrideInt(&cfg.SyncHistoryDays, "SYNC_HISTORY_DAYS")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8000"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./pminsight.db"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "all-MiniLM-L6-v2"
	}
	if cfg.EmbedDim == 0 {
		cfg.EmbedDim = 384
	}
	if cfg.ConfidenceCutoff == 0 {
		cfg.ConfidenceCutoff = 0.65
	}
	if cfg.ClusterSeed == 0 {
		cfg.ClusterSeed = 42
	}
	if cfg.ReviewPerBin == 0 {
		cfg.ReviewPerBin = 50
	}
	if cfg.AnswerModel == "" {
		cfg.AnswerModel = "claude-sonnet-4-5-20250929"
	}
	if cfg.SyncSchedule == "" {
		cfg.SyncSchedule = "0 2 * * *"
	}
	if cfg.ReclassifySchedule == "" {
		cfg.ReclassifySchedule = "30 2 * * *"
	}
	if cfg.SyncHistoryDays == 0 {
		cfg.SyncHistoryDays = 30
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	helpdeskFields := map[string]string{
		"helpdesk_base_url": cfg.HelpdeskBaseURL,
		"helpdesk_email":    cfg.HelpdeskEmail,
		"helpdesk_token":    cfg.HelpdeskToken,
	}
	helpdeskSet := 0
	for _, v := range helpdeskFields {
		if v != "" {
			helpdeskSet++
		}
	}
	if helpdeskSet > 0 && helpdeskSet < len(helpdeskFields) {
		for name, val := range helpdeskFields {
			if val == "" {
				log.Fatalf("Partial helpdesk config: '%s' is not set (all of helpdesk_base_url, helpdesk_email, helpdesk_token are required together)", name)
			}
		}
	}

	trackerFields := map[string]string{
		"tracker_base_url": cfg.TrackerBaseURL,
		"tracker_email":    cfg.TrackerEmail,
		"tracker_token":    cfg.TrackerToken,
	}
	trackerSet := 0
	for _, v := range trackerFields {
		if v != "" {
			trackerSet++
		}
	}
	if trackerSet > 0 && trackerSet < len(trackerFields) {
		for name, val := range trackerFields {
			if val == "" {
				log.Fatalf("Partial tracker config: '%s' is not set (all of tracker_base_url, tracker_email, tracker_token are required together)", name)
			}
		}
	}

	if cfg.ChatToken != "" && len(cfg.ChatChannels) == 0 {
		log.Fatalf("chat_token is set but chat_channels is empty")
	}

	if !cfg.ChatConfigured() && !cfg.HelpdeskConfigured() && !cfg.TrackerConfigured() {
		log.Printf("WARNING: No ticket source is configured. Sync will have nothing to ingest.")
	}
	if !cfg.EmbedConfigured() {
		log.Printf("WARNING: embed_base_url is not set. Theme requests will run in degraded mode.")
	}

	if cfg.ConfidenceCutoff < 0 || cfg.ConfidenceCutoff > 1 {
		log.Fatalf("invalid confidence_cutoff '%f': must be between 0 and 1", cfg.ConfidenceCutoff)
	}
	if cfg.EmbedDim < 1 {
		log.Fatalf("invalid embed_dim '%d': must be >= 1", cfg.EmbedDim)
	}
	if cfg.ReviewPerBin < 1 {
		log.Fatalf("invalid review_per_bin '%d': must be >= 1", cfg.ReviewPerBin)
	}
	if cfg.SyncHistoryDays < 1 || cfg.SyncHistoryDays > 365 {
		log.Fatalf("invalid sync_history_days '%d': must be between 1 and 365", cfg.SyncHistoryDays)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideList(field *[]string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = nil
		for _, item := range strings.Split(val, ",") {
			item = strings.TrimSpace(item)
			if item != "" {
				*field = append(*field, item)
			}
		}
	}
}

func (c Config) ChatConfigured() bool {
	return c.ChatToken != "" && len(c.ChatChannels) > 0
}

func (c Config) HelpdeskConfigured() bool {
	return c.HelpdeskBaseURL != "" && c.HelpdeskEmail != "" && c.HelpdeskToken != ""
}

func (c Config) TrackerConfigured() bool {
	return c.TrackerBaseURL != "" && c.TrackerEmail != "" && c.TrackerToken != ""
}

func (c Config) EmbedConfigured() bool {
	return c.EmbedBaseURL != ""
}

func (c Config) AnswerConfigured() bool {
	return c.AnthropicAPIKey != ""
}
