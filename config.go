package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < .env/env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db"`   // event journal connection string
	Dev  bool   `json:"dev"`  // dev mode: verbose logging, db dumps on errors
	Addr string `json:"addr"` // HTTP listen address

	// Game tuning
	MaxRecentChat     int `json:"max_recent_chat"`     // chat entries kept in state views
	BotTimeoutSeconds int `json:"bot_timeout_seconds"` // per-decision budget before heuristic fallback

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogRequests  bool   `json:"log_requests"`
	LogDB        bool   `json:"log_db"`
	LogWS        bool   `json:"log_ws"`
	LogDebug     bool   `json:"log_debug"`

	// Bot decision policy
	BotMode        string `json:"bot_mode"`        // heuristic | llm
	BotProvider    string `json:"bot_provider"`    // ollama | openai | claude | gemini | groq | openai-compatible
	BotModel       string `json:"bot_model"`       // model name
	BotOllamaURL   string `json:"bot_ollama_url"`  // Ollama server URL
	BotURL         string `json:"bot_url"`         // base URL for openai-compatible
	BotAPIKey      string `json:"bot_api_key"`     // API key for openai-compatible
	BotTemperature string `json:"bot_temperature"` // float 0-1 as string
	GroqAPIKey     string `json:"groq_api_key"`    // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

func defaultConfig() AppConfig {
	return AppConfig{
		DB:                "file::memory:?cache=shared",
		Addr:              ":8080",
		MaxRecentChat:     30,
		BotTimeoutSeconds: 120,
		BotMode:           "heuristic",
		BotOllamaURL:      "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → .env/env vars → JSON
// config file. CLI flag overrides are applied separately by
// flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: env vars, with .env feeding the environment first
	_ = godotenv.Load()

	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string) (val int, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Config: ignoring %s=%q: %v", key, v, err)
			return 0, false
		}
		return n, true
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v, ok := envInt("MAX_RECENT_CHAT"); ok {
		cfg.MaxRecentChat = v
	}
	if v, ok := envInt("BOT_TIMEOUT_SECONDS"); ok {
		cfg.BotTimeoutSeconds = v
	}
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_REQUESTS"); ok {
		cfg.LogRequests = v
	}
	if v, ok := envBool("LOG_DB"); ok {
		cfg.LogDB = v
	}
	if v, ok := envBool("LOG_WS"); ok {
		cfg.LogWS = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	if v := envStr("BOT_MODE"); v != "" {
		cfg.BotMode = v
	}
	if v := envStr("BOT_PROVIDER"); v != "" {
		cfg.BotProvider = v
	}
	if v := envStr("BOT_MODEL"); v != "" {
		cfg.BotModel = v
	}
	if v := envStr("BOT_OLLAMA_URL"); v != "" {
		cfg.BotOllamaURL = v
	}
	if v := envStr("BOT_URL"); v != "" {
		cfg.BotURL = v
	}
	if v := envStr("BOT_API_KEY"); v != "" {
		cfg.BotAPIKey = v
	}
	if v := envStr("BOT_TEMPERATURE"); v != "" {
		cfg.BotTemperature = v
	}
	if v := envStr("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}

	// Layer 2: JSON config file — only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	str("db", &cfg.DB)
	boolean("dev", &cfg.Dev)
	str("addr", &cfg.Addr)
	integer("max_recent_chat", &cfg.MaxRecentChat)
	integer("bot_timeout_seconds", &cfg.BotTimeoutSeconds)
	str("log_output_dir", &cfg.LogOutputDir)
	boolean("log_requests", &cfg.LogRequests)
	boolean("log_db", &cfg.LogDB)
	boolean("log_ws", &cfg.LogWS)
	boolean("log_debug", &cfg.LogDebug)
	str("bot_mode", &cfg.BotMode)
	str("bot_provider", &cfg.BotProvider)
	str("bot_model", &cfg.BotModel)
	str("bot_ollama_url", &cfg.BotOllamaURL)
	str("bot_url", &cfg.BotURL)
	str("bot_api_key", &cfg.BotAPIKey)
	str("bot_temperature", &cfg.BotTemperature)
	str("groq_api_key", &cfg.GroqAPIKey)
}

// printConfig logs the effective configuration at boot. API keys are
// masked down to presence.
func printConfig(cfg AppConfig) {
	masked := func(s string) string {
		if s == "" {
			return "(unset)"
		}
		return "***"
	}
	log.Printf("Config: addr=%s db=%s dev=%v max_recent_chat=%d bot_timeout=%ds",
		cfg.Addr, cfg.DB, cfg.Dev, cfg.MaxRecentChat, cfg.BotTimeoutSeconds)
	log.Printf("Config: bot_mode=%s provider=%s model=%s api_key=%s groq_api_key=%s",
		cfg.BotMode, cfg.BotProvider, cfg.BotModel, masked(cfg.BotAPIKey), masked(cfg.GroqAPIKey))
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath        *string
	db                *string
	dev               *bool
	addr              *string
	maxRecentChat     *int
	botTimeoutSeconds *int
	logOutputDir      *string
	logRequests       *bool
	logDB             *bool
	logWS             *bool
	logDebug          *bool
	botMode           *string
	botProvider       *string
	botModel          *string
	botOllamaURL      *string
	botURL            *string
	botAPIKey         *string
	botTemperature    *string
	groqAPIKey        *string
}

// registerFlags registers all CLI flags and returns pointers to their values.
// Call flag.Parse() after this, then applyTo to layer them over the loaded config.
func registerFlags() flagValues {
	return flagValues{
		configPath:        flag.String("config", "config.json", "path to JSON config file"),
		db:                flag.String("db", "", "event journal connection string"),
		dev:               flag.Bool("dev", false, "enable development mode (verbose logging, db dumps on error)"),
		addr:              flag.String("addr", "", "HTTP listen address (e.g. :8080)"),
		maxRecentChat:     flag.Int("max-recent-chat", 0, "chat entries kept in state views"),
		botTimeoutSeconds: flag.Int("bot-timeout-seconds", 0, "per-decision budget before heuristic fallback"),
		logOutputDir:      flag.String("log-output-dir", "", "directory for extended log files"),
		logRequests:       flag.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:             flag.Bool("log-db", false, "log database dumps"),
		logWS:             flag.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:          flag.Bool("log-debug", false, "enable debug logging"),
		botMode:           flag.String("bot-mode", "", "bot decision mode (heuristic|llm)"),
		botProvider:       flag.String("bot-provider", "", "LLM provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		botModel:          flag.String("bot-model", "", "LLM model name"),
		botOllamaURL:      flag.String("bot-ollama-url", "", "Ollama server URL"),
		botURL:            flag.String("bot-url", "", "base URL for openai-compatible provider"),
		botAPIKey:         flag.String("bot-api-key", "", "API key for the LLM provider"),
		botTemperature:    flag.String("bot-temperature", "", "sampling temperature 0-1"),
		groqAPIKey:        flag.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(cfg *AppConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "max-recent-chat":
			cfg.MaxRecentChat = *fv.maxRecentChat
		case "bot-timeout-seconds":
			cfg.BotTimeoutSeconds = *fv.botTimeoutSeconds
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "bot-mode":
			cfg.BotMode = *fv.botMode
		case "bot-provider":
			cfg.BotProvider = *fv.botProvider
		case "bot-model":
			cfg.BotModel = *fv.botModel
		case "bot-ollama-url":
			cfg.BotOllamaURL = *fv.botOllamaURL
		case "bot-url":
			cfg.BotURL = *fv.botURL
		case "bot-api-key":
			cfg.BotAPIKey = *fv.botAPIKey
		case "bot-temperature":
			cfg.BotTemperature = *fv.botTemperature
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
