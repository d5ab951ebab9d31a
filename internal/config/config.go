package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LLM providers supported by internal/llm.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGoogleAI  = "googleai"
)

type Config struct {
	Port        string
	DBPath      string
	TenantsFile string

	LogFile  string
	LogLevel slog.Level

	// Monitoring loop
	PollInterval     time.Duration
	FetchLimit       int
	AuthWaitTimeout  time.Duration
	AuthPollInterval time.Duration
	StepTimeout      time.Duration
	SubmitTimeout    time.Duration

	// Generative text service
	LLMProvider     string
	LLMModel        string
	LLMTimeout      time.Duration
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	OllamaHost      string

	// Browser sessions
	Headless       bool
	BrowserDataDir string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        getEnv("AUTOBID_PORT", "8080"),
		DBPath:      getEnv("AUTOBID_DB_PATH", "autobid.db"),
		TenantsFile: getEnv("AUTOBID_TENANTS_FILE", "tenants.yaml"),

		LogFile:  getEnv("AUTOBID_LOG_FILE", "autobid.log"),
		LogLevel: parseLogLevel(getEnv("AUTOBID_LOG_LEVEL", "INFO")),

		PollInterval:     getEnvDuration("AUTOBID_POLL_INTERVAL", 5*time.Minute),
		FetchLimit:       getEnvInt("AUTOBID_FETCH_LIMIT", 20),
		AuthWaitTimeout:  getEnvDuration("AUTOBID_AUTH_WAIT_TIMEOUT", 5*time.Minute),
		AuthPollInterval: getEnvDuration("AUTOBID_AUTH_POLL_INTERVAL", 15*time.Second),
		StepTimeout:      getEnvDuration("AUTOBID_STEP_TIMEOUT", 30*time.Second),
		SubmitTimeout:    getEnvDuration("AUTOBID_SUBMIT_TIMEOUT", 10*time.Minute),

		LLMProvider:     getEnv("AUTOBID_LLM_PROVIDER", ProviderOpenAI),
		LLMModel:        getEnv("AUTOBID_LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:      getEnvDuration("AUTOBID_LLM_TIMEOUT", 60*time.Second),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),

		Headless:       getEnv("AUTOBID_HEADLESS", "false") == "true",
		BrowserDataDir: getEnv("AUTOBID_BROWSER_DATA_DIR", ".autobid/browser"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
