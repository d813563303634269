package generation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ProviderConfig configures one backend.
type ProviderConfig struct {
	Type      string        `yaml:"type"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Key resolves the API key, preferring the literal value over the env var.
func (c ProviderConfig) Key() string {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		return k
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

type Factory func(cfg ProviderConfig) (Generator, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

// New builds the generator named by cfg.Type.
func New(cfg ProviderConfig) (Generator, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("generation.type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Type)
	}
	return factory(cfg)
}

// RateLimit caps requests per second to remote backends. Zero disables it.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func (r RateLimit) Limiter() *rate.Limiter {
	if r.RPS <= 0 {
		return nil
	}
	burst := r.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.RPS), burst)
}

// NewChain builds the primary provider followed by its fallbacks, each with
// its own timeout. Remote providers share one rate limiter.
func NewChain(primary ProviderConfig, fallbacks []ProviderConfig, limit RateLimit) (Generator, error) {
	limiter := limit.Limiter()
	var entries []Entry
	for _, cfg := range append([]ProviderConfig{primary}, fallbacks...) {
		g, err := New(cfg)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(cfg.Type, ExtractiveName) {
			g = WithRateLimit(g, limiter)
		}
		entries = append(entries, Entry{Name: g.Name(), Generator: WithTimeout(g, cfg.Timeout)})
	}
	return NewGroup(entries), nil
}
