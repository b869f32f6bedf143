package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes YAML as a string like
// "350ms" or "2m". Bare numbers are taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("config: invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the persistent application configuration
type Config struct {
	// Feed sources to poll each run
	Sources []SourceConfig `yaml:"sources"`

	// Run pacing and budget
	Run RunConfig `yaml:"run"`

	// Topic extraction tunables
	Topics TopicsConfig `yaml:"topics"`

	// Market data (DexScreener) settings
	Market MarketConfig `yaml:"market"`

	// OpenAI settings for embeddings and summarization
	OpenAI OpenAIConfig `yaml:"openai"`

	// Telegram digest delivery
	Telegram TelegramConfig `yaml:"telegram"`
}

// SourceConfig is one feed to ingest
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// RunConfig bounds a single hourly run
type RunConfig struct {
	// Budget is the wall-clock allowance for one run
	Budget Duration `yaml:"budget"`
	// Interval between runs when looping
	Interval Duration `yaml:"interval"`
	// ContinueOnError keeps later pipeline steps running after a failure
	ContinueOnError bool `yaml:"continue_on_error"`
}

// TopicsConfig tunes the topic builder
type TopicsConfig struct {
	MaxTopics        int      `yaml:"max_topics"`
	MaxCandidates    int      `yaml:"max_candidates"`
	ClusterThreshold float32  `yaml:"cluster_threshold"`
	EmbedReserve     Duration `yaml:"embed_reserve"`
	LLMReserve       Duration `yaml:"llm_reserve"`
	// WatchlistHeat is the mention count at which an asset joins the watchlist
	WatchlistHeat int `yaml:"watchlist_heat"`
}

// MarketConfig tunes the DexScreener client and its cache
type MarketConfig struct {
	CacheTTL    Duration `yaml:"cache_ttl"`
	MaxEntries  int      `yaml:"max_entries"`
	MinInterval Duration `yaml:"min_interval"`
	Timeout     Duration `yaml:"timeout"`
}

// OpenAIConfig holds model settings; the key comes from the environment
type OpenAIConfig struct {
	APIKey         string `yaml:"-"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
}

// TelegramConfig holds digest delivery settings; the token comes from the
// environment
type TelegramConfig struct {
	Token  string `yaml:"-"`
	ChatID int64  `yaml:"chat_id"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Budget:          Duration(4 * time.Minute),
			Interval:        Duration(time.Hour),
			ContinueOnError: true,
		},
		Topics: TopicsConfig{
			MaxTopics:        10,
			MaxCandidates:    200,
			ClusterThreshold: 0.82,
			EmbedReserve:     Duration(45 * time.Second),
			LLMReserve:       Duration(30 * time.Second),
			WatchlistHeat:    3,
		},
		Market: MarketConfig{
			CacheTTL:    Duration(time.Hour),
			MaxEntries:  2000,
			MinInterval: Duration(350 * time.Millisecond),
			Timeout:     Duration(12 * time.Second),
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			ChatModel:      "gpt-5.2",
		},
	}
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".heatline", "config.yaml")
}

// CachePath returns the path to the market data cache file
func CachePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".heatline", "market-cache.json")
}

// DBPath returns the path to the run archive database
func DBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".heatline", "heatline.db")
}

// Load reads config from disk, or returns defaults. A malformed file is an
// error rather than a silent reset so a typo never drops a source list.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads config from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.AutoPopulateFromEnv()
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes config to an explicit path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// AutoPopulateFromEnv fills in secrets from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.Token = token
	}
}
