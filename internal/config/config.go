package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agui-bridge/internal/translator"
)

// Supported agent runtimes.
const (
	RuntimeADK    = "adk"
	RuntimeClaude = "claude"
)

// Config holds the application configuration
type Config struct {
	Port    string
	AppName string
	Runtime string

	GoogleAPIKey string
	GeminiModel  string
	GoogleSearch bool

	AnthropicAPIKey      string
	ClaudeModel          string
	ClaudeThinkingBudget int64

	LogLevel  string
	LogFormat string

	ToolTimeout             time.Duration
	ExecutionTimeout        time.Duration
	MaxConcurrentExecutions int
	DrainPollInterval       time.Duration
	CleanupInterval         time.Duration
	StateTTL                time.Duration

	StreamingFunctionArgs bool
	HeartbeatInterval     time.Duration
	LongRunningTools      []string

	PredictStateFile string
	PredictState     []translator.PredictStateMapping
}

// Load loads configuration from a .env file, when present, and the
// environment.
func Load() (*Config, error) {
	// A missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the configuration from environment variables and validates it.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Port:    getEnv("PORT", "8000"),
		AppName: getEnv("APP_NAME", "agui-bridge"),
		Runtime: strings.ToLower(getEnv("RUNTIME", RuntimeADK)),

		GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GoogleSearch: p.boolean("GOOGLE_SEARCH", false),

		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		ClaudeModel:          os.Getenv("CLAUDE_MODEL"),
		ClaudeThinkingBudget: int64(p.integer("CLAUDE_THINKING_BUDGET", 0)),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		ToolTimeout:             p.duration("TOOL_TIMEOUT", 5*time.Minute),
		ExecutionTimeout:        p.duration("EXECUTION_TIMEOUT", 10*time.Minute),
		MaxConcurrentExecutions: p.integer("MAX_CONCURRENT_EXECUTIONS", 10),
		DrainPollInterval:       p.duration("DRAIN_POLL_INTERVAL", time.Second),
		CleanupInterval:         p.duration("CLEANUP_INTERVAL", time.Minute),
		StateTTL:                p.duration("STATE_TTL", 20*time.Minute),

		StreamingFunctionArgs: p.boolean("STREAMING_FUNCTION_ARGS", false),
		HeartbeatInterval:     p.duration("HEARTBEAT_INTERVAL", 15*time.Second),
		LongRunningTools:      splitList(os.Getenv("LONG_RUNNING_TOOLS")),

		PredictStateFile: os.Getenv("PREDICT_STATE_FILE"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if cfg.PredictStateFile != "" {
		mappings, err := LoadPredictState(cfg.PredictStateFile)
		if err != nil {
			return nil, err
		}
		cfg.PredictState = mappings
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected runtime has its API key and that the
// tuning values are usable.
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeADK:
		if c.GoogleAPIKey == "" {
			return errors.New("GOOGLE_API_KEY environment variable is required for the adk runtime")
		}
	case RuntimeClaude:
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY environment variable is required for the claude runtime")
		}
	default:
		return fmt.Errorf("RUNTIME must be %q or %q, got %q", RuntimeADK, RuntimeClaude, c.Runtime)
	}
	if c.MaxConcurrentExecutions <= 0 {
		return errors.New("MAX_CONCURRENT_EXECUTIONS must be positive")
	}
	if c.HeartbeatInterval < 0 {
		return errors.New("HEARTBEAT_INTERVAL must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// LoadPredictState reads a YAML list of predictive state mappings.
func LoadPredictState(path string) ([]translator.PredictStateMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predict state file: %w", err)
	}
	var mappings []translator.PredictStateMapping
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse predict state file: %w", err)
	}
	for i, m := range mappings {
		if m.StateKey == "" || m.Tool == "" || m.ToolArgument == "" {
			return nil, fmt.Errorf("predict state mapping %d needs state_key, tool and tool_argument", i)
		}
	}
	return mappings, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parser collects malformed values so they are reported together.
type parser struct {
	errs []error
}

func (p *parser) integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}
