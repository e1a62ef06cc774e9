package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Supported model providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config holds the full application configuration. It is built once in main
// and passed by value into constructors; nothing reads it as ambient state.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Beefree  BeefreeConfig  `yaml:"beefree"`
	MCP      MCPConfig      `yaml:"mcp"`
	Agent    AgentConfig    `yaml:"agent"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// ProviderConfig selects and credentials the LLM backend
type ProviderConfig struct {
	Name            string `yaml:"name"`
	Model           string `yaml:"model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OllamaURL       string `yaml:"ollama_url"`
}

// BeefreeConfig holds Beefree SDK credentials and the caller identity
// injected into every remote tool call.
type BeefreeConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	UID          string `yaml:"uid"`
	AuthURL      string `yaml:"auth_url"`
}

// MCPConfig holds the remote tool service endpoint
type MCPConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// AgentConfig holds per-turn agent limits
type AgentConfig struct {
	ToolCallLimit int `yaml:"tool_call_limit"` // 0 means unlimited
	MaxSteps      int `yaml:"max_steps"`
}

// AuditConfig holds the tool-call audit database location
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default returns the built-in configuration defaults
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":8000",
			StaticDir: "static",
		},
		Provider: ProviderConfig{
			Name:      ProviderOpenAI,
			Model:     "gpt-5-mini",
			OllamaURL: "http://localhost:11434",
		},
		Beefree: BeefreeConfig{
			AuthURL: "https://bee-auth.getbee.io/loginV2",
		},
		MCP: MCPConfig{
			URL: "https://api.getbee.io/v1/sdk/mcp",
		},
		Agent: AgentConfig{
			ToolCallLimit: 45,
			MaxSteps:      25,
		},
		Audit: AuditConfig{
			Path: "beechat.db",
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment variable values
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load builds the configuration from defaults, an optional YAML file with
// ${ENV_VAR} expansion, and environment variable overrides, in that order.
// The caller identity defaults to a fresh user_<8 hex> value when unset.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Beefree.UID == "" {
		cfg.Beefree.UID = "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	return cfg, nil
}

// applyEnv overlays well-known environment variables onto the config
func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	overlay(&c.Server.Addr, "APP_ADDR")
	overlay(&c.Provider.Name, "LLM_PROVIDER")
	overlay(&c.Provider.Model, "LLM_MODEL")
	overlay(&c.Provider.OpenAIAPIKey, "OPENAI_API_KEY")
	overlay(&c.Provider.OpenAIBaseURL, "OPENAI_BASE_URL")
	overlay(&c.Provider.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	overlay(&c.Provider.OllamaURL, "OLLAMA_URL")
	overlay(&c.Beefree.ClientID, "BEEFREE_CLIENT_ID")
	overlay(&c.Beefree.ClientSecret, "BEEFREE_CLIENT_SECRET")
	overlay(&c.Beefree.UID, "BEEFREE_UID")
	overlay(&c.MCP.APIKey, "BEEFREE_MCP_API_KEY")
	overlay(&c.MCP.URL, "BEEFREE_MCP_URL")

	if v := os.Getenv("TOOL_CALL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.ToolCallLimit = n
		}
	}
}

// Validate checks the configuration for startup-fatal problems. Error
// messages name the environment variable that resolves each one.
func (c Config) Validate() error {
	switch c.Provider.Name {
	case ProviderOpenAI:
		if c.Provider.OpenAIAPIKey == "" {
			return fmt.Errorf("provider %q selected but OPENAI_API_KEY is not set", c.Provider.Name)
		}
	case ProviderAnthropic:
		if c.Provider.AnthropicAPIKey == "" {
			return fmt.Errorf("provider %q selected but ANTHROPIC_API_KEY is not set", c.Provider.Name)
		}
	case ProviderOllama:
		if c.Provider.OllamaURL == "" {
			return fmt.Errorf("provider %q selected but OLLAMA_URL is not set", c.Provider.Name)
		}
	default:
		return fmt.Errorf("unknown provider %q (expected %s, %s or %s)",
			c.Provider.Name, ProviderOpenAI, ProviderAnthropic, ProviderOllama)
	}

	if c.MCP.APIKey == "" {
		return fmt.Errorf("BEEFREE_MCP_API_KEY is not set")
	}
	if c.Agent.ToolCallLimit < 0 {
		return fmt.Errorf("tool_call_limit must be >= 0, got %d", c.Agent.ToolCallLimit)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be > 0, got %d", c.Agent.MaxSteps)
	}

	return nil
}
