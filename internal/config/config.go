// Package config loads docchat settings from built-in defaults, an optional
// YAML file, a .env file and the process environment, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bull/docchat/internal/chunker"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "docchat.yaml"

// ErrInvalidConfiguration is returned by Validate.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ChunkingConfig controls document splitting.
type ChunkingConfig struct {
	Size     int    `yaml:"size"`
	Overlap  int    `yaml:"overlap"`
	Unit     string `yaml:"unit"`     // "chars" or "tokens"
	Encoding string `yaml:"encoding"` // tiktoken encoding for the token unit
}

// RetrievalConfig controls document and long-term memory search.
type RetrievalConfig struct {
	TopK      int     `yaml:"top_k"`
	Threshold float32 `yaml:"similarity_threshold"`
	RecallK   int     `yaml:"recall_k"`
}

// MemoryConfig controls conversation memory.
type MemoryConfig struct {
	MaxHistory int `yaml:"max_history"`
}

// GenerationConfig controls answering.
type GenerationConfig struct {
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	InputBudget  int           `yaml:"input_budget"` // 0 derives it from the model
	Timeout      time.Duration `yaml:"timeout"`
	RewriteQuery bool          `yaml:"rewrite_query"`
	StreamBuffer int           `yaml:"stream_buffer"`
}

// EmbeddingConfig selects the embedding gateway.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // "openai" or "hash"
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// QdrantConfig holds Qdrant connection details.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend string       `yaml:"backend"` // "flat" or "qdrant"
	Metric  string       `yaml:"metric"`  // "cosine" or "dot"
	Qdrant  QdrantConfig `yaml:"qdrant"`
}

// OpenAIConfig holds OpenAI API credentials.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// GitHubConfig holds GitHub API credentials.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// ServerConfig controls docchat-server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"` // "http" or "stdio"
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete docchat configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Memory     MemoryConfig     `yaml:"memory"`
	Generation GenerationConfig `yaml:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Index      IndexConfig      `yaml:"index"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	GitHub     GitHubConfig     `yaml:"github"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Chunking: ChunkingConfig{
			Size:     1000,
			Overlap:  200,
			Unit:     "chars",
			Encoding: "cl100k_base",
		},
		Retrieval: RetrievalConfig{
			TopK:      4,
			Threshold: 0.2,
			RecallK:   3,
		},
		Memory: MemoryConfig{
			MaxHistory: 10,
		},
		Generation: GenerationConfig{
			Model:        "gpt-4o-mini",
			MaxTokens:    1024,
			Temperature:  0.2,
			Timeout:      2 * time.Minute,
			RewriteQuery: true,
			StreamBuffer: 64,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BatchSize: 64,
			Timeout:   30 * time.Second,
		},
		Index: IndexConfig{
			Backend: "flat",
			Metric:  "cosine",
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "documents",
			},
		},
		Server: ServerConfig{
			Addr: "0.0.0.0:8080",
			Mode: "stdio",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat"
	}
	return filepath.Join(home, ".docchat")
}

// Load builds the configuration. path names a YAML file; when empty,
// DefaultFile is used if it exists. A .env file in the working directory is
// loaded into the environment without overriding variables already set.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("DOCCHAT_DATA_DIR", c.DataDir)

	c.Chunking.Size = getEnvInt("DOCCHAT_CHUNK_SIZE", c.Chunking.Size)
	c.Chunking.Overlap = getEnvInt("DOCCHAT_CHUNK_OVERLAP", c.Chunking.Overlap)
	c.Chunking.Unit = getEnv("DOCCHAT_CHUNK_UNIT", c.Chunking.Unit)

	c.Retrieval.TopK = getEnvInt("DOCCHAT_TOP_K", c.Retrieval.TopK)
	c.Retrieval.Threshold = float32(getEnvFloat("DOCCHAT_SIMILARITY_THRESHOLD", float64(c.Retrieval.Threshold)))
	c.Retrieval.RecallK = getEnvInt("DOCCHAT_RECALL_K", c.Retrieval.RecallK)

	c.Memory.MaxHistory = getEnvInt("DOCCHAT_MAX_HISTORY", c.Memory.MaxHistory)

	c.Generation.Model = getEnv("DOCCHAT_CHAT_MODEL", c.Generation.Model)
	c.Generation.MaxTokens = getEnvInt("DOCCHAT_MAX_TOKENS", c.Generation.MaxTokens)
	c.Generation.Temperature = getEnvFloat("DOCCHAT_TEMPERATURE", c.Generation.Temperature)
	c.Generation.InputBudget = getEnvInt("DOCCHAT_INPUT_BUDGET", c.Generation.InputBudget)
	c.Generation.Timeout = getEnvDuration("DOCCHAT_GENERATION_TIMEOUT", c.Generation.Timeout)
	c.Generation.RewriteQuery = getEnvBool("DOCCHAT_REWRITE_QUERY", c.Generation.RewriteQuery)
	c.Generation.StreamBuffer = getEnvInt("DOCCHAT_STREAM_BUFFER", c.Generation.StreamBuffer)

	c.Embedding.Provider = getEnv("DOCCHAT_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("DOCCHAT_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = getEnvInt("DOCCHAT_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.Timeout = getEnvDuration("DOCCHAT_EMBED_TIMEOUT", c.Embedding.Timeout)

	c.Index.Backend = getEnv("DOCCHAT_INDEX_BACKEND", c.Index.Backend)
	c.Index.Qdrant.Host = getEnv("QDRANT_HOST", c.Index.Qdrant.Host)
	c.Index.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Index.Qdrant.Port)
	c.Index.Qdrant.APIKey = getEnv("QDRANT_API_KEY", c.Index.Qdrant.APIKey)
	c.Index.Qdrant.UseTLS = getEnvBool("QDRANT_TLS", c.Index.Qdrant.UseTLS)
	c.Index.Qdrant.Collection = getEnv("QDRANT_COLLECTION", c.Index.Qdrant.Collection)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)

	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = "0.0.0.0:" + port
	}
	c.Server.Addr = getEnv("DOCCHAT_ADDR", c.Server.Addr)
	if getEnv("SERVER_MODE", "false") == "true" {
		c.Server.Mode = "http"
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate reports every invalid setting, each wrapping
// ErrInvalidConfiguration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfiguration}, args...)...))
	}

	if c.Chunking.Size <= 0 || c.Chunking.Overlap <= 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("%w: %w: need 0 < overlap (%d) < chunk size (%d)",
			ErrInvalidConfiguration, chunker.ErrInvalidConfiguration, c.Chunking.Overlap, c.Chunking.Size))
	}
	if c.Chunking.Unit != "chars" && c.Chunking.Unit != "tokens" {
		add("chunk unit %q must be chars or tokens", c.Chunking.Unit)
	}
	if c.Retrieval.TopK <= 0 {
		add("top-k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		add("similarity threshold %v outside [-1, 1]", c.Retrieval.Threshold)
	}
	if c.Retrieval.RecallK < 0 {
		add("recall count must not be negative, got %d", c.Retrieval.RecallK)
	}
	if c.Memory.MaxHistory <= 0 {
		add("max history length must be positive, got %d", c.Memory.MaxHistory)
	}
	if c.Generation.MaxTokens <= 0 {
		add("max tokens must be positive, got %d", c.Generation.MaxTokens)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		add("temperature %v outside [0, 2]", c.Generation.Temperature)
	}
	if c.Generation.Timeout < 0 || c.Embedding.Timeout < 0 {
		add("timeouts must not be negative")
	}
	switch c.Embedding.Provider {
	case "openai", "hash":
	default:
		add("unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.Index.Backend {
	case "flat", "qdrant":
	default:
		add("unknown index backend %q", c.Index.Backend)
	}
	switch strings.ToLower(c.Index.Metric) {
	case "", "cosine", "dot":
	default:
		add("unknown similarity metric %q", c.Index.Metric)
	}
	switch c.Server.Mode {
	case "http", "stdio":
	default:
		add("unknown server mode %q", c.Server.Mode)
	}

	return errors.Join(errs...)
}

// DocumentsPath is the SQLite document store file.
func (c *Config) DocumentsPath() string { return filepath.Join(c.DataDir, "documents.db") }

// MemoryPath is the SQLite conversation log file.
func (c *Config) MemoryPath() string { return filepath.Join(c.DataDir, "memory.db") }

// IndexPath is the flat vector index file.
func (c *Config) IndexPath() string { return filepath.Join(c.DataDir, "index.dcvx") }

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
