package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	GitHub     GitHubConfig     `yaml:"github"`
	LLM        LLMConfig        `yaml:"llm"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Server     ServerConfig     `yaml:"server"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Collector  CollectorConfig  `yaml:"collector"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Notify     NotifyConfig     `yaml:"notify"`
	Cursor     CursorConfig     `yaml:"cursor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Admin      AdminConfig      `yaml:"admin"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	URL string `yaml:"url"` // empty disables Redis; the cache falls back to bbolt
}

type GitHubConfig struct {
	Token         string `yaml:"token"`
	RatePerSecond int    `yaml:"rate_per_second"`
	MaxPages      int    `yaml:"max_pages"` // per-call pagination cap
}

type LLMConfig struct {
	DefaultModel        string  `yaml:"default_model"`
	CompressionModel    string  `yaml:"compression_model"`
	EscalationModel     string  `yaml:"escalation_model"` // stronger model for low-confidence security labels
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	AnthropicKey        string  `yaml:"-"`
	OpenAIKey           string  `yaml:"-"`
	DeepSeekKey         string  `yaml:"-"`
	GeminiKey           string  `yaml:"-"`
	XAIKey              string  `yaml:"-"`
}

// SchedulerConfig carries the seven loop intervals. The upstream engines
// poll slowly because GitHub throttles them; downstream engines are short
// safety nets since chain wakes carry the usual flow.
type SchedulerConfig struct {
	ScanInterval         time.Duration `yaml:"scan_interval"`
	CollectInterval      time.Duration `yaml:"collect_interval"`
	ClassifyInterval     time.Duration `yaml:"classify_interval"`
	AnalyzeInterval      time.Duration `yaml:"analyze_interval"`
	ImpactInterval       time.Duration `yaml:"impact_interval"`
	ReachabilityInterval time.Duration `yaml:"reachability_interval"`
	NotifyInterval       time.Duration `yaml:"notify_interval"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type ScannerConfig struct {
	CloneDir        string        `yaml:"clone_dir"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
}

type CollectorConfig struct {
	ActivityWindow time.Duration `yaml:"activity_window"`
	FirstRunWindow time.Duration `yaml:"first_run_window"`
	Concurrency    int           `yaml:"concurrency"`
}

type ClassifierConfig struct {
	Concurrency int    `yaml:"concurrency"`
	RulesPath   string `yaml:"rules_path"` // optional YAML overriding bot/keyword/prefix lists
}

type AnalyzerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type AnalysisConfig struct {
	URL            string        `yaml:"url"` // static-analysis collaborator base URL
	Backend        string        `yaml:"backend"`
	Timeout        time.Duration `yaml:"timeout"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
	Concurrency    int           `yaml:"concurrency"` // reachability workers
}

type NotifyConfig struct {
	WebhookURL   string `yaml:"webhook_url"`
	SlackToken   string `yaml:"-"`
	SlackChannel string `yaml:"slack_channel"`
}

type CursorConfig struct {
	Secret string `yaml:"-"` // VULNSENTINEL_CURSOR_SECRET only, never a file
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AdminConfig struct {
	Username string `yaml:"username"`
}

type DashboardConfig struct {
	URL string `yaml:"url"`
}

// Default returns default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		GitHub: GitHubConfig{
			RatePerSecond: 2,
			MaxPages:      10,
		},
		LLM: LLMConfig{
			DefaultModel:        "deepseek/deepseek-chat",
			CompressionModel:    "deepseek/deepseek-chat",
			ConfidenceThreshold: 0.7,
		},
		Scheduler: SchedulerConfig{
			ScanInterval:         3600 * time.Second,
			CollectInterval:      600 * time.Second,
			ClassifyInterval:     60 * time.Second,
			AnalyzeInterval:      60 * time.Second,
			ImpactInterval:       60 * time.Second,
			ReachabilityInterval: 120 * time.Second,
			NotifyInterval:       60 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Scanner: ScannerConfig{
			CloneDir:        filepath.Join(homeDir, ".vulnsentinel", "clones"),
			FreshnessWindow: time.Hour,
		},
		Collector: CollectorConfig{
			ActivityWindow: 75 * time.Minute,
			FirstRunWindow: 30 * 24 * time.Hour,
			Concurrency:    5,
		},
		Classifier: ClassifierConfig{
			Concurrency: 3,
		},
		Analyzer: AnalyzerConfig{
			Concurrency: 3,
		},
		Analysis: AnalysisConfig{
			Backend:        "default",
			Timeout:        120 * time.Second,
			BreakerTimeout: 60 * time.Second,
			Concurrency:    3,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file, environment files and environment
// variables, in increasing precedence.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()

	v.SetEnvPrefix("VULNSENTINEL")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".vulnsentinel")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".vulnsentinel"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// no config file is fine, defaults plus env carry a full setup
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence.
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".vulnsentinel", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rate := os.Getenv("GITHUB_RATE_PER_SECOND"); rate != "" {
		if n, err := strconv.Atoi(rate); err == nil {
			cfg.GitHub.RatePerSecond = n
		}
	}

	// Provider keys are resolved by model prefix at call time; they are held
	// here so a missing key fails at startup, not mid-run.
	cfg.LLM.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.LLM.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.LLM.DeepSeekKey = os.Getenv("DEEPSEEK_API_KEY")
	cfg.LLM.GeminiKey = os.Getenv("GEMINI_API_KEY")
	cfg.LLM.XAIKey = os.Getenv("XAI_API_KEY")

	if model := os.Getenv("VULNSENTINEL_DEFAULT_MODEL"); model != "" {
		cfg.LLM.DefaultModel = model
	}
	if model := os.Getenv("VULNSENTINEL_ESCALATION_MODEL"); model != "" {
		cfg.LLM.EscalationModel = model
	}
	if path := os.Getenv("VULNSENTINEL_CLASSIFIER_RULES"); path != "" {
		cfg.Classifier.RulesPath = expandPath(path)
	}

	applyIntervalOverride(&cfg.Scheduler.ScanInterval, "VULNSENTINEL_SCAN_INTERVAL")
	applyIntervalOverride(&cfg.Scheduler.CollectInterval, "VULNSENTINEL_COLLECT_INTERVAL")
	applyIntervalOverride(&cfg.Scheduler.ClassifyInterval, "VULNSENTINEL_CLASSIFY_INTERVAL")
	applyIntervalOverride(&cfg.Scheduler.AnalyzeInterval, "VULNSENTINEL_ANALYZE_INTERVAL")
	applyIntervalOverride(&cfg.Scheduler.ImpactInterval, "VULNSENTINEL_IMPACT_INTERVAL")
	applyIntervalOverride(&cfg.Scheduler.ReachabilityInterval, "VULNSENTINEL_REACHABILITY_INTERVAL")
	applyIntervalOverride(&cfg.Scheduler.NotifyInterval, "VULNSENTINEL_NOTIFY_INTERVAL")

	if secret := os.Getenv("VULNSENTINEL_CURSOR_SECRET"); secret != "" {
		cfg.Cursor.Secret = secret
	}

	if url := os.Getenv("VULNSENTINEL_ANALYSIS_URL"); url != "" {
		cfg.Analysis.URL = url
	}

	if addr := os.Getenv("VULNSENTINEL_LISTEN_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	if url := os.Getenv("VULNSENTINEL_WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}
	if token := os.Getenv("SLACK_TOKEN"); token != "" {
		cfg.Notify.SlackToken = token
	}
	if ch := os.Getenv("SLACK_CHANNEL"); ch != "" {
		cfg.Notify.SlackChannel = ch
	}

	if dir := os.Getenv("VULNSENTINEL_CLONE_DIR"); dir != "" {
		cfg.Scanner.CloneDir = expandPath(dir)
	}

	if level := os.Getenv("VULNSENTINEL_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("VULNSENTINEL_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if url := os.Getenv("VULNSENTINEL_DASHBOARD_URL"); url != "" {
		cfg.Dashboard.URL = url
	}
}

// applyIntervalOverride reads a seconds-valued env var into a duration.
func applyIntervalOverride(d *time.Duration, name string) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		*d = time.Duration(secs) * time.Second
	}
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate checks the settings a server process cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Cursor.Secret == "" {
		return fmt.Errorf("VULNSENTINEL_CURSOR_SECRET is required")
	}
	return nil
}
