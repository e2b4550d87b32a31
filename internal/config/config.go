package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string        `yaml:"addr"`
	JWTSecret     string        `yaml:"jwt_secret"`
	APITimeout    time.Duration `yaml:"timeout"`
	DatabasePath  string        `yaml:"database_path"`
	TokenDuration time.Duration `yaml:"token_duration"`
	Queue         QueueConfig   `yaml:"queue"`
	Ollama        OllamaConfig  `yaml:"ollama"`
	Clarifier     AgentConfig   `yaml:"clarifier"`
}

type QueueConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type OllamaConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Timeout                 time.Duration `yaml:"timeout"`
	Retries                 int           `yaml:"retries"`
	Backoff                 time.Duration `yaml:"backoff"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

type AgentConfig struct {
	Model         string `yaml:"model"`
	SchemaVersion string `yaml:"schema_version"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:          getEnv("ORCH_ADDR", ":8080"),
		JWTSecret:     getEnv("ORCH_JWT_SECRET", "supersecretkey"),
		APITimeout:    15 * time.Second,
		DatabasePath:  getEnv("ORCH_DATABASE_PATH", "orchestrator.db"),
		TokenDuration: 1 * time.Hour,
		Queue: QueueConfig{
			Workers:      4,
			PollInterval: 1 * time.Second,
			MaxAttempts:  3,
		},
		Ollama: OllamaConfig{
			BaseURL:                 getEnv("ORCH_OLLAMA_URL", "http://localhost:11434"),
			Timeout:                 30 * time.Second,
			Retries:                 2,
			Backoff:                 2 * time.Second,
			CircuitFailureThreshold: 5,
			CircuitReset:            30 * time.Second,
		},
		Clarifier: AgentConfig{
			Model:         getEnv("ORCH_CLARIFIER_MODEL", "llama3"),
			SchemaVersion: "v1",
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate rejects configurations that are unsafe outside development.
func (c *Config) Validate() error {
	env := getEnv("ORCH_ENV", "development")
	if env != "development" && c.JWTSecret == "supersecretkey" {
		return fmt.Errorf("default jwt_secret is not allowed when ORCH_ENV=%s", env)
	}
	if c.Clarifier.Model == "" {
		return fmt.Errorf("clarifier model is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}
