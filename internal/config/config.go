package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CONSERJE_LLM_API_KEY.
const EnvPrefix = "CONSERJE"

type Config struct {
	DataDir       string `mapstructure:"data_dir" yaml:"data_dir"`
	MaxConcurrent int    `mapstructure:"max_concurrent" yaml:"max_concurrent"`

	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	HTTP          HTTPConfig          `mapstructure:"http" yaml:"http"`
	Intake        IntakeConfig        `mapstructure:"intake" yaml:"intake"`
	Catalog       CatalogConfig       `mapstructure:"catalog" yaml:"catalog"`
	Areas         []AreaConfig        `mapstructure:"areas" yaml:"areas"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Postgres      PostgresConfig      `mapstructure:"postgres" yaml:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis" yaml:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch" yaml:"elasticsearch"`
	LLM           LLMConfig           `mapstructure:"llm" yaml:"llm"`
	Gemini        GeminiConfig        `mapstructure:"gemini" yaml:"gemini"`
	Telegram      TelegramConfig      `mapstructure:"telegram" yaml:"telegram"`
	AWS           AWSConfig           `mapstructure:"aws" yaml:"aws"`
	Delivery      DeliveryConfig      `mapstructure:"delivery" yaml:"delivery"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// IntakeConfig tunes the conversation engine.
type IntakeConfig struct {
	PlacePromptCooldown time.Duration `mapstructure:"place_prompt_cooldown" yaml:"place_prompt_cooldown"`
	MediaBatchWindow    time.Duration `mapstructure:"media_batch_window" yaml:"media_batch_window"`
	MaxPendingMedia     int           `mapstructure:"max_pending_media" yaml:"max_pending_media"`
	MaxHistory          int           `mapstructure:"max_history" yaml:"max_history"`
	SessionIdleTTL      time.Duration `mapstructure:"session_idle_ttl" yaml:"session_idle_ttl"`
	SweepSchedule       string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
	UseInformalPlace    bool          `mapstructure:"use_informal_place" yaml:"use_informal_place"`
}

type CatalogConfig struct {
	PlacesPath string `mapstructure:"places_path" yaml:"places_path"`
}

// AreaConfig is one operational team incidents can be routed to.
// Destinations are registry targets such as "telegram:-1001234", "sns:arn:..."
// or "email:ops@hotel.example".
type AreaConfig struct {
	Code         string   `mapstructure:"code" yaml:"code"`
	Name         string   `mapstructure:"name" yaml:"name"`
	Aliases      []string `mapstructure:"aliases" yaml:"aliases,omitempty"`
	Keywords     []string `mapstructure:"keywords" yaml:"keywords,omitempty"`
	FolioPrefix  string   `mapstructure:"folio_prefix" yaml:"folio_prefix,omitempty"`
	Destinations []string `mapstructure:"destinations" yaml:"destinations,omitempty"`
}

// StorageConfig picks a backend per concern.
type StorageConfig struct {
	Sessions    string `mapstructure:"sessions" yaml:"sessions"`
	Incidents   string `mapstructure:"incidents" yaml:"incidents"`
	SearchIndex bool   `mapstructure:"search_index" yaml:"search_index"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"`
	Database       string `mapstructure:"database" yaml:"database"`
	SSLMode        string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle" yaml:"max_idle"`
}

// DSN returns the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses" yaml:"addresses,omitempty"`
	Username  string   `mapstructure:"username" yaml:"username"`
	Password  string   `mapstructure:"password" yaml:"password"`
	Index     string   `mapstructure:"index" yaml:"index"`
}

// LLMConfig configures the OpenAI-compatible endpoint used for
// interpretation, area detection and informal place matching.
// Provider "none" disables LLM collaborators.
type LLMConfig struct {
	Provider         string        `mapstructure:"provider" yaml:"provider"`
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey           string        `mapstructure:"api_key" yaml:"api_key"`
	Model            string        `mapstructure:"model" yaml:"model"`
	VisionModel      string        `mapstructure:"vision_model" yaml:"vision_model"`
	VisionProvider   string        `mapstructure:"vision_provider" yaml:"vision_provider"`
	MaxTokens        int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature      float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxContextTokens int           `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
	OutputReserve    int           `mapstructure:"output_reserve" yaml:"output_reserve"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
}

type AWSConfig struct {
	Region  string `mapstructure:"region" yaml:"region"`
	SESFrom string `mapstructure:"ses_from" yaml:"ses_from"`
}

type DeliveryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// Storage backend names.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("data_dir", filepath.Join(home, ".conserje"))
	v.SetDefault("max_concurrent", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("http.listen", ":8080")

	v.SetDefault("intake.place_prompt_cooldown", 60*time.Second)
	v.SetDefault("intake.media_batch_window", 10*time.Second)
	v.SetDefault("intake.max_pending_media", 10)
	v.SetDefault("intake.max_history", 20)
	v.SetDefault("intake.session_idle_ttl", 2*time.Hour)
	v.SetDefault("intake.sweep_schedule", "@every 10m")
	v.SetDefault("intake.use_informal_place", true)

	v.SetDefault("catalog.places_path", "")

	v.SetDefault("storage.sessions", BackendMemory)
	v.SetDefault("storage.incidents", BackendFile)
	v.SetDefault("storage.search_index", false)

	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_connections", 10)
	v.SetDefault("postgres.max_idle", 5)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "conserje:session:")

	v.SetDefault("elasticsearch.addresses", []string{})
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index", "conserje-incidents")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.vision_model", "gpt-4o-mini")
	v.SetDefault("llm.vision_provider", "openai")
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_context_tokens", 16000)
	v.SetDefault("llm.output_reserve", 1024)
	v.SetDefault("llm.timeout", 20*time.Second)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("telegram.token", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.ses_from", "")

	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.base_delay", time.Second)
}

// newViper builds a viper instance with defaults and the env overlay.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// loadEnvFile preloads .env from the working directory and next to the
// config file. Missing files are ignored; existing variables win.
func loadEnvFile(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads the YAML file at path (optional), applies the CONSERJE_ env
// overlay and the well-known provider variables, and validates the result.
func Load(path string) (*Config, error) {
	loadEnvFile(path)

	v := newViper()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	overrideFromEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Defaults returns a configuration holding only the built-in defaults and
// the environment overlay. It is not validated.
func Defaults() (*Config, error) {
	var cfg Config
	if err := newViper().Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal defaults: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		s, ok := v.Get(key).(string)
		if !ok || !strings.Contains(s, "${") {
			continue
		}
		if expanded := os.ExpandEnv(s); expanded != s {
			v.Set(key, expanded)
		}
	}
}

// overrideFromEnv applies provider variables operators already export.
func overrideFromEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && cfg.LLM.BaseURL == "https://api.openai.com/v1" {
		cfg.LLM.BaseURL = baseURL
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWS.Region = region
	}
}

// Validate rejects configurations the service cannot run with.
func Validate(cfg *Config) error {
	var errs []error
	if len(cfg.Areas) == 0 {
		errs = append(errs, errors.New("no areas configured"))
	}
	seen := make(map[string]bool, len(cfg.Areas))
	for i, a := range cfg.Areas {
		code := strings.ToLower(strings.TrimSpace(a.Code))
		if code == "" {
			errs = append(errs, fmt.Errorf("areas[%d]: empty code", i))
			continue
		}
		if seen[code] {
			errs = append(errs, fmt.Errorf("areas[%d]: duplicate code %q", i, a.Code))
		}
		seen[code] = true
	}

	switch cfg.Storage.Sessions {
	case BackendMemory, BackendFile:
	case BackendRedis:
		if cfg.Redis.Address == "" {
			errs = append(errs, errors.New("storage.sessions=redis requires redis.address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.sessions backend %q", cfg.Storage.Sessions))
	}

	switch cfg.Storage.Incidents {
	case BackendFile:
	case BackendPostgres:
		if cfg.Postgres.Host == "" || cfg.Postgres.Database == "" {
			errs = append(errs, errors.New("storage.incidents=postgres requires postgres.host and postgres.database"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.incidents backend %q", cfg.Storage.Incidents))
	}

	if cfg.Storage.SearchIndex && len(cfg.Elasticsearch.Addresses) == 0 {
		errs = append(errs, errors.New("storage.search_index requires elasticsearch.addresses"))
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", cfg.Log.Level))
	}
	if cfg.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent must be >= 1, got %d", cfg.MaxConcurrent))
	}
	return errors.Join(errs...)
}
