// Package config loads tagger settings from the environment, an optional
// .env file and an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Addr    string
	DataDir string

	// Key-value store backing the file registry, usage counters and sessions
	Store string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Language model
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string
	LLMTimeout      time.Duration

	// Jobs
	CheckpointEvery int
	FilesTTL        time.Duration
	PollRate        float64
	PollBurst       int

	// Logging
	LogFile  string
	LogLevel slog.Level

	// CLI
	ServerURL string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Addr:    ":8080",
		DataDir: "media",
		Store:   StoreMemory,

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "tagger",
		SurrealDBDatabase:  "tagger",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		LLMProvider: ProviderOllama,
		LLMModel:    "llama3.2",
		OllamaHost:  "http://localhost:11434",
		AWSRegion:   "us-east-1",
		LLMTimeout:  120 * time.Second,

		CheckpointEvery: 10,
		FilesTTL:        24 * time.Hour,
		PollRate:        2,
		PollBurst:       5,

		LogFile:  "/tmp/tagger.log",
		LogLevel: slog.LevelInfo,

		ServerURL: "http://localhost:8080",
	}
}

// Load reads configuration from .env (when present) and environment variables.
func Load() Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile is Load with a YAML file applied between the defaults and the
// environment. An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Load(), nil
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := Default()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Validate reports settings that would fail at startup.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSurrealDB:
	default:
		return fmt.Errorf("unsupported store: %s", c.Store)
	}
	switch c.LLMProvider {
	case ProviderOllama, ProviderBedrock:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY required for provider %s", c.LLMProvider)
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY required for provider %s", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLMProvider)
	}
	if c.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint interval must be positive, got %d", c.CheckpointEvery)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("TAGGER_ADDR", c.Addr)
	c.DataDir = getEnv("TAGGER_DATA_DIR", c.DataDir)
	c.Store = getEnv("TAGGER_STORE", c.Store)

	c.SurrealDBURL = getEnv("SURREALDB_URL", c.SurrealDBURL)
	c.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", c.SurrealDBNamespace)
	c.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", c.SurrealDBDatabase)
	c.SurrealDBUser = getEnv("SURREALDB_USER", c.SurrealDBUser)
	c.SurrealDBPass = getEnv("SURREALDB_PASS", c.SurrealDBPass)
	c.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", c.SurrealDBAuthLevel)

	c.LLMProvider = getEnv("TAGGER_LLM_PROVIDER", c.LLMProvider)
	c.LLMModel = getEnv("TAGGER_LLM_MODEL", c.LLMModel)
	c.OllamaHost = getEnv("OLLAMA_HOST", c.OllamaHost)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.LLMTimeout = getDuration("TAGGER_LLM_TIMEOUT", c.LLMTimeout)

	c.CheckpointEvery = getInt("TAGGER_CHECKPOINT_EVERY", c.CheckpointEvery)
	c.FilesTTL = getDuration("TAGGER_FILES_TTL", c.FilesTTL)
	c.PollRate = getFloat("TAGGER_POLL_RATE", c.PollRate)
	c.PollBurst = getInt("TAGGER_POLL_BURST", c.PollBurst)

	c.LogFile = getEnv("TAGGER_LOG_FILE", c.LogFile)
	if v := os.Getenv("TAGGER_LOG_LEVEL"); v != "" {
		c.LogLevel = parseLogLevel(v)
	}

	c.ServerURL = getEnv("TAGGER_SERVER_URL", c.ServerURL)
}

// fileConfig mirrors Config for YAML files. Empty values keep the default.
type fileConfig struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`
	Store   string `yaml:"store"`

	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
		User      string `yaml:"user"`
		Pass      string `yaml:"pass"`
		AuthLevel string `yaml:"auth_level"`
	} `yaml:"surrealdb"`

	LLM struct {
		Provider   string `yaml:"provider"`
		Model      string `yaml:"model"`
		OllamaHost string `yaml:"ollama_host"`
		AWSRegion  string `yaml:"aws_region"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"llm"`

	Jobs struct {
		CheckpointEvery int     `yaml:"checkpoint_every"`
		FilesTTL        string  `yaml:"files_ttl"`
		PollRate        float64 `yaml:"poll_rate"`
		PollBurst       int     `yaml:"poll_burst"`
	} `yaml:"jobs"`

	Log struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	ServerURL string `yaml:"server_url"`
}

func (fc fileConfig) apply(c *Config) error {
	setString(&c.Addr, fc.Addr)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.Store, fc.Store)

	setString(&c.SurrealDBURL, fc.SurrealDB.URL)
	setString(&c.SurrealDBNamespace, fc.SurrealDB.Namespace)
	setString(&c.SurrealDBDatabase, fc.SurrealDB.Database)
	setString(&c.SurrealDBUser, fc.SurrealDB.User)
	setString(&c.SurrealDBPass, fc.SurrealDB.Pass)
	setString(&c.SurrealDBAuthLevel, fc.SurrealDB.AuthLevel)

	setString(&c.LLMProvider, fc.LLM.Provider)
	setString(&c.LLMModel, fc.LLM.Model)
	setString(&c.OllamaHost, fc.LLM.OllamaHost)
	setString(&c.AWSRegion, fc.LLM.AWSRegion)
	if fc.LLM.Timeout != "" {
		d, err := time.ParseDuration(fc.LLM.Timeout)
		if err != nil {
			return fmt.Errorf("llm.timeout: %w", err)
		}
		c.LLMTimeout = d
	}

	if fc.Jobs.CheckpointEvery != 0 {
		c.CheckpointEvery = fc.Jobs.CheckpointEvery
	}
	if fc.Jobs.FilesTTL != "" {
		d, err := time.ParseDuration(fc.Jobs.FilesTTL)
		if err != nil {
			return fmt.Errorf("jobs.files_ttl: %w", err)
		}
		c.FilesTTL = d
	}
	if fc.Jobs.PollRate != 0 {
		c.PollRate = fc.Jobs.PollRate
	}
	if fc.Jobs.PollBurst != 0 {
		c.PollBurst = fc.Jobs.PollBurst
	}

	setString(&c.LogFile, fc.Log.File)
	if fc.Log.Level != "" {
		c.LogLevel = parseLogLevel(fc.Log.Level)
	}

	setString(&c.ServerURL, fc.ServerURL)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultVal
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
