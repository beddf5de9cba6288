package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Supported generation backends.
const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"
	BackendOpenAI = "openai"
)

// Research modes.
const (
	ResearchGrounded = "grounded"
	ResearchTools    = "tools"
)

type Config struct {
	Generation Generation `yaml:"generation"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Research   Research   `yaml:"research"`
	Documents  Documents  `yaml:"documents"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	Output     Output     `yaml:"output"`

	secrets Secrets
}

type Generation struct {
	Backend         string  `yaml:"backend"`
	Model           string  `yaml:"model"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Project         string  `yaml:"project"`
	Location        string  `yaml:"location"`
	OpenAIModel     string  `yaml:"openai_model"`
	OpenAIAPIKeyEnv string  `yaml:"openai_api_key_env"`
	OpenAIBaseURL   string  `yaml:"openai_base_url"`
	Temperature     float32 `yaml:"temperature"`
	MaxToolRounds   int     `yaml:"max_tool_rounds"`
}

type Pipeline struct {
	MaxRewrites  int           `yaml:"max_rewrites"`
	MaxWords     int           `yaml:"max_words"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

type Research struct {
	Mode         string        `yaml:"mode"`
	WindowMonths int           `yaml:"window_months"`
	NewsFeedURL  string        `yaml:"news_feed_url"`
	MaxItems     int           `yaml:"max_items"`
	NewsAPI      NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Documents struct {
	MaxResults   int           `yaml:"max_results"`
	ChunkWords   int           `yaml:"chunk_words"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Concurrency  int           `yaml:"concurrency"`
}

type Server struct {
	Port         int    `yaml:"port"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

// Secrets holds credentials read from the environment once, at load time.
type Secrets struct {
	GenAIAPIKey  string
	OpenAIAPIKey string
	NewsAPIKey   string
	JWTSecret    string
}

// ConfigDir returns the XDG config directory for impactstory.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "impactstory")
}

// DataDir returns the XDG data directory for impactstory.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "impactstory")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/impactstory/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'impactstory init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then resolves secrets from the
// environment. The result is not validated; call Validate before use.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ResolveSecrets(os.Getenv)
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Generation.Backend = strings.ToLower(strings.TrimSpace(cfg.Generation.Backend))
	cfg.Research.Mode = strings.ToLower(strings.TrimSpace(cfg.Research.Mode))
	return cfg, nil
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Generation: Generation{
			Backend:         BackendGemini,
			Model:           "gemini-2.0-flash-001",
			APIKeyEnv:       "GOOGLE_API_KEY",
			Location:        "us-central1",
			OpenAIModel:     "gpt-4o-mini",
			OpenAIAPIKeyEnv: "OPENAI_API_KEY",
			Temperature:     0.3,
			MaxToolRounds:   6,
		},
		Pipeline: Pipeline{
			MaxRewrites:  2,
			MaxWords:     150,
			RunTimeout:   5 * time.Minute,
			StageTimeout: 2 * time.Minute,
		},
		Research: Research{
			Mode:         ResearchGrounded,
			WindowMonths: 12,
			NewsFeedURL:  "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en",
			MaxItems:     15,
			NewsAPI: NewsAPIConfig{
				APIKeyEnv: "NEWSAPI_KEY",
			},
		},
		Documents: Documents{
			MaxResults:   3,
			ChunkWords:   220,
			FetchTimeout: 15 * time.Second,
			Concurrency:  4,
		},
		Server:  Server{Port: 8000, JWTSecretEnv: "IMPACTSTORY_JWT_SECRET"},
		Logging: Logging{Level: "INFO"},
	}
}

// ResolveSecrets reads every credential named by an *_env key through lookup.
func (c *Config) ResolveSecrets(lookup func(string) string) {
	get := func(name string) string {
		if name == "" {
			return ""
		}
		return strings.TrimSpace(lookup(name))
	}
	c.secrets = Secrets{
		GenAIAPIKey:  get(c.Generation.APIKeyEnv),
		OpenAIAPIKey: get(c.Generation.OpenAIAPIKeyEnv),
		NewsAPIKey:   get(c.Research.NewsAPI.APIKeyEnv),
		JWTSecret:    get(c.Server.JWTSecretEnv),
	}
}

// Secrets returns the credentials captured by ResolveSecrets.
func (c *Config) Secrets() Secrets {
	return c.secrets
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	g := c.Generation
	switch g.Backend {
	case BackendGemini:
		if c.secrets.GenAIAPIKey == "" {
			return fmt.Errorf("generation.backend %q requires the %s environment variable", g.Backend, g.APIKeyEnv)
		}
	case BackendVertex:
		if g.Project == "" {
			return fmt.Errorf("generation.backend %q requires generation.project", g.Backend)
		}
		if g.Location == "" {
			return fmt.Errorf("generation.backend %q requires generation.location", g.Backend)
		}
	case BackendOpenAI:
		if c.secrets.OpenAIAPIKey == "" {
			return fmt.Errorf("generation.backend %q requires the %s environment variable", g.Backend, g.OpenAIAPIKeyEnv)
		}
		if g.OpenAIModel == "" {
			return fmt.Errorf("generation.openai_model is required")
		}
	default:
		return fmt.Errorf("unknown generation.backend %q (want gemini, vertex or openai)", g.Backend)
	}
	if g.Backend != BackendOpenAI && g.Model == "" {
		return fmt.Errorf("generation.model is required")
	}
	if g.MaxToolRounds < 1 {
		return fmt.Errorf("generation.max_tool_rounds must be at least 1")
	}

	p := c.Pipeline
	if p.MaxRewrites < 0 {
		return fmt.Errorf("pipeline.max_rewrites must not be negative")
	}
	if p.MaxWords < 1 {
		return fmt.Errorf("pipeline.max_words must be positive")
	}
	if p.RunTimeout <= 0 || p.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.run_timeout and pipeline.stage_timeout must be positive")
	}

	r := c.Research
	switch r.Mode {
	case ResearchGrounded:
		if g.Backend == BackendOpenAI {
			return fmt.Errorf("research.mode %q needs a gemini or vertex backend; use %q with openai", r.Mode, ResearchTools)
		}
	case ResearchTools:
		if r.NewsFeedURL == "" && !r.NewsAPI.Enabled {
			return fmt.Errorf("research.mode %q needs research.news_feed_url or research.newsapi.enabled", r.Mode)
		}
	default:
		return fmt.Errorf("unknown research.mode %q (want grounded or tools)", r.Mode)
	}
	if r.NewsAPI.Enabled && c.secrets.NewsAPIKey == "" {
		return fmt.Errorf("research.newsapi.enabled requires the %s environment variable", r.NewsAPI.APIKeyEnv)
	}
	if r.WindowMonths < 1 {
		return fmt.Errorf("research.window_months must be at least 1")
	}

	d := c.Documents
	if d.MaxResults < 1 || d.MaxResults > 10 {
		return fmt.Errorf("documents.max_results must be between 1 and 10")
	}
	if d.ChunkWords < 20 {
		return fmt.Errorf("documents.chunk_words must be at least 20")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
