package profile

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the runtime configuration for the research assistant.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol)
	// All providers (openai, deepseek, siliconflow, openrouter, ollama) use the same config
	LLMProvider string // Provider identifier: openai, deepseek, siliconflow, openrouter, ollama
	LLMAPIKey   string // LLM API key
	LLMBaseURL  string // LLM base URL (optional, has default per provider)
	LLMModel    string // Model name: gpt-4o-mini, deepseek-chat, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 120)

	// Research workflow configuration
	SearchCount          int           // Number of searches the planner must produce (1-5)
	MaxConcurrentSearch  int           // Upper bound on searches running at once
	TurnBudget           int           // Maximum reasoning/tool steps per run
	ProgressBuffer       int           // Progress sink capacity in events
	ProgressPollInterval time.Duration // How often the turn driver drains progress
	CoordinationMode     string        // "tools" or "handoff"

	// Email delivery configuration
	MailEnabled   bool
	SendGridKey   string
	MailFrom      string
	MailFromName  string
	MailRecipient string

	// Server configuration
	Mode    string
	Addr    string
	Port    int
	Version string
}

// Provider default configurations for LLM.
// Used when RESEARCH_LLM_BASE_URL or RESEARCH_LLM_MODEL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o-mini",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if an LLM API key is configured.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.LLMProvider = getEnvOrDefault("RESEARCH_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("RESEARCH_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("RESEARCH_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("RESEARCH_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("RESEARCH_LLM_TIMEOUT_SECONDS", 120)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("unknown LLM provider, using default: openai", "provider", p.LLMProvider)
		p.LLMProvider = "openai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	// Research workflow configuration
	p.SearchCount = getEnvOrDefaultInt("RESEARCH_SEARCH_COUNT", 1)
	p.MaxConcurrentSearch = getEnvOrDefaultInt("RESEARCH_MAX_CONCURRENT_SEARCHES", 2)
	p.TurnBudget = getEnvOrDefaultInt("RESEARCH_TURN_BUDGET", 30)
	p.ProgressBuffer = getEnvOrDefaultInt("RESEARCH_PROGRESS_BUFFER", 64)
	p.ProgressPollInterval = time.Duration(getEnvOrDefaultInt("RESEARCH_PROGRESS_POLL_MS", 500)) * time.Millisecond
	p.CoordinationMode = getEnvOrDefault("RESEARCH_COORDINATION_MODE", "tools")

	// Email delivery configuration
	p.SendGridKey = getEnvOrDefault("SENDGRID_API_KEY", "")
	p.MailFrom = getEnvOrDefault("RESEARCH_MAIL_FROM", "")
	p.MailFromName = getEnvOrDefault("RESEARCH_MAIL_FROM_NAME", "Deep Research Assistant")
	p.MailRecipient = getEnvOrDefault("RESEARCH_MAIL_TO", "")
	p.MailEnabled = p.SendGridKey != "" && p.MailFrom != "" && p.MailRecipient != ""
}

// Validate normalizes and validates the profile.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if !p.IsLLMEnabled() {
		return errors.New("LLM API key is required (set RESEARCH_LLM_API_KEY)")
	}

	if p.SearchCount < 1 || p.SearchCount > 5 {
		return errors.Errorf("search count must be between 1 and 5, got %d", p.SearchCount)
	}
	if p.MaxConcurrentSearch < 1 {
		p.MaxConcurrentSearch = 1
	}
	if p.TurnBudget < 1 {
		return errors.Errorf("turn budget must be positive, got %d", p.TurnBudget)
	}
	if p.ProgressBuffer < 1 {
		return errors.Errorf("progress buffer must be positive, got %d", p.ProgressBuffer)
	}
	if p.ProgressPollInterval <= 0 {
		p.ProgressPollInterval = 500 * time.Millisecond
	}

	if p.CoordinationMode != "tools" && p.CoordinationMode != "handoff" {
		return errors.Errorf("coordination mode must be %q or %q, got %q", "tools", "handoff", p.CoordinationMode)
	}

	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", p.Port)
	}

	return nil
}
