package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by TRIAGE_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("TRIAGE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// LLMProvider returns the configured completion provider.
// Defaults to "openai" if not set. Valid values: openai, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// LLMAPIKey returns the API key for the configured provider.
func LLMAPIKey() string {
	if LLMProvider() == "mock" {
		return ""
	}
	return OpenAIAPIKey()
}

// ChatModel returns the completion model name.
func ChatModel() string {
	return os.Getenv("CHAT_MODEL")
}

// LexiconPath points at the condition knowledge base JSON.
func LexiconPath() string {
	p := os.Getenv("LEXICON_PATH")
	if p == "" {
		return "lexicon.json"
	}
	return p
}

// QuestionBudget is the number of clarifying turns a new session starts
// with. Defaults to 5.
func QuestionBudget() int {
	n, err := strconv.Atoi(os.Getenv("QUESTION_BUDGET"))
	if err != nil || n <= 0 {
		return 5
	}
	return n
}

// DefaultLanguage is used when a session does not state a preference.
func DefaultLanguage() string {
	l := os.Getenv("DEFAULT_LANGUAGE")
	if l == "" {
		return "English"
	}
	return l
}

// ReplyMaxTokens caps the generated reply length. Defaults to 150.
func ReplyMaxTokens() int {
	n, err := strconv.Atoi(os.Getenv("REPLY_MAX_TOKENS"))
	if err != nil || n <= 0 {
		return 150
	}
	return n
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
