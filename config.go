package wickchat

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wick_chat/handlers"
	"wick_chat/langgraph"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
)

// AppConfig holds server-level runtime configuration. Values come from the
// environment; the CLI binds flags over them so flags take precedence.
type AppConfig struct {
	Host           string
	Port           int
	WickGatewayURL string
	JWTSecret      string

	LangGraphURL    string
	LangGraphAPIKey string
	ModelsFile      string

	Store         string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	StoreTTL      time.Duration

	TurnTimeout            time.Duration
	PersistTimeout         time.Duration
	PipeCapacity           int
	HistoryMode            string
	PersistToolInvocations bool
	TurnRate               float64
	TurnBurst              int

	LogFormat string
	Debug     bool
}

// ConfigFromEnv reads configuration from environment variables.
func ConfigFromEnv() *AppConfig {
	return &AppConfig{
		Host:           envOr("HOST", "0.0.0.0"),
		Port:           envIntOr("PORT", 8000),
		WickGatewayURL: os.Getenv("WICK_GATEWAY_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),

		LangGraphURL:    envOr("LANGGRAPH_URL", langgraph.DefaultURL),
		LangGraphAPIKey: os.Getenv("LANGGRAPH_API_KEY"),
		ModelsFile:      os.Getenv("MODELS_CONFIG"),

		Store:         envOr("STORE", StoreMemory),
		MongoURI:      envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: envOr("MONGO_DATABASE", "wick_chat"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		StoreTTL:      envDurationOr("STORE_TTL", 0),

		TurnTimeout:            envDurationOr("TURN_TIMEOUT", 5*time.Minute),
		PersistTimeout:         envDurationOr("PERSIST_TIMEOUT", 10*time.Second),
		PipeCapacity:           envIntOr("PIPE_CAPACITY", 32),
		HistoryMode:            envOr("HISTORY_MODE", handlers.HistoryFull),
		PersistToolInvocations: envBoolOr("PERSIST_TOOL_INVOCATIONS", false),
		TurnRate:               envFloatOr("TURN_RATE", 0),
		TurnBurst:              envIntOr("TURN_BURST", 5),

		LogFormat: os.Getenv("LOG_FORMAT"),
		Debug:     envBoolOr("DEBUG", false),
	}
}

// Validate checks enumerated settings.
func (c *AppConfig) Validate() error {
	switch c.Store {
	case StoreMemory, StoreMongo, StoreRedis:
	default:
		return fmt.Errorf("invalid store %q (want memory, mongo or redis)", c.Store)
	}
	switch c.HistoryMode {
	case handlers.HistoryFull, handlers.HistoryLastUser:
	default:
		return fmt.Errorf("invalid history mode %q (want %s or %s)", c.HistoryMode, handlers.HistoryFull, handlers.HistoryLastUser)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "terminal":
	default:
		return fmt.Errorf("invalid log format %q (want json or terminal)", c.LogFormat)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PipeCapacity < 0 {
		return fmt.Errorf("pipe capacity must not be negative")
	}
	return nil
}

// HandlerConfig returns the handler-level subset of the configuration.
func (c *AppConfig) HandlerConfig() handlers.Config {
	return handlers.Config{
		HistoryMode:            c.HistoryMode,
		PersistToolInvocations: c.PersistToolInvocations,
		TurnTimeout:            c.TurnTimeout,
		PersistTimeout:         c.PersistTimeout,
		PipeCapacity:           c.PipeCapacity,
		TurnRate:               c.TurnRate,
		TurnBurst:              c.TurnBurst,
	}
}

// envOr returns the environment variable or a default value.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envIntOr returns the environment variable as int or a default value.
func envIntOr(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}

func envFloatOr(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolOr(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return d
}
