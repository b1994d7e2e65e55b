// Package config loads settings for the moviesearch programs from the
// environment, after reading an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/joho/godotenv"
)

// Need names a group of settings a program depends on.
type Need int

const (
	// NeedVectorStore requires QDRANT_URL and a collection name.
	NeedVectorStore Need = iota
	// NeedVectorStoreKey requires QDRANT_API_KEY (hosted clusters).
	NeedVectorStoreKey
	// NeedDocStore requires the MongoDB URI, database and collection.
	NeedDocStore
	// NeedEmbedder requires a usable embedding endpoint and model.
	NeedEmbedder
)

// Config holds all environment-based configuration.
type Config struct {
	// Vector store
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Document store
	MongoURI        string
	MongoDB         string
	MongoCollection string

	// Embeddings
	EmbedProvider   string
	EmbedURL        string
	EmbedModel      string
	EmbedAPIKey     string
	EmbedDimensions int
	EmbedRatePerSec float64

	// Import
	ImportBatchSize    int
	ImportLimit        int
	ImportBulkWrite    bool
	ImportWriteRetries int

	// Search
	SearchLimit int
	Port        string
	CORSOrigin  string // empty disables CORS headers

	// Optional integrations
	NATSURL   string
	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	LogLevel  string
	LogFormat string

	invalid []string
}

// Load reads .env (a missing file is ignored) and then the environment.
// Malformed numeric values fall back to their defaults and are reported by
// Require.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	c := &Config{
		QdrantURL:        os.Getenv("QDRANT_URL"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "Movie"),

		MongoURI:        envOr("MONGO_URI", "mongodb://localhost:27017/"),
		MongoDB:         envOr("MONGO_DB", "movie_db"),
		MongoCollection: envOr("MONGO_COLLECTION", "movies"),

		EmbedProvider: envOr("EMBED_PROVIDER", "ollama"),
		EmbedURL:      envOr("EMBED_URL", "http://localhost:11434"),
		EmbedModel:    envOr("EMBED_MODEL", "all-minilm"),
		EmbedAPIKey:   os.Getenv("EMBED_API_KEY"),

		Port:       envOr("PORT", "8501"),
		CORSOrigin: os.Getenv("CORS_ORIGIN"),

		NATSURL:   os.Getenv("NATS_URL"),
		Neo4jURL:  os.Getenv("NEO4J_URL"),
		Neo4jUser: envOr("NEO4J_USER", "neo4j"),
		Neo4jPass: os.Getenv("NEO4J_PASS"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "text"),
	}
	c.EmbedDimensions = c.envInt("EMBED_DIMENSIONS", 384)
	c.EmbedRatePerSec = c.envFloat("EMBED_RATE_PER_SEC", 0)
	c.ImportBatchSize = c.envInt("IMPORT_BATCH_SIZE", 50)
	c.ImportLimit = c.envInt("IMPORT_LIMIT", 1000)
	c.ImportBulkWrite = c.envBool("IMPORT_BULK_WRITE", false)
	c.ImportWriteRetries = c.envInt("IMPORT_WRITE_RETRIES", 1)
	c.SearchLimit = c.envInt("SEARCH_LIMIT", 5)
	return c
}

// Require checks the settings behind each need and reports every problem at
// once. It never touches the network.
func (c *Config) Require(needs ...Need) error {
	var missing []string
	invalid := append([]string(nil), c.invalid...)

	for _, n := range needs {
		switch n {
		case NeedVectorStore:
			missing = appendIfEmpty(missing, "QDRANT_URL", c.QdrantURL)
			missing = appendIfEmpty(missing, "QDRANT_COLLECTION", c.QdrantCollection)
		case NeedVectorStoreKey:
			missing = appendIfEmpty(missing, "QDRANT_API_KEY", c.QdrantAPIKey)
		case NeedDocStore:
			missing = appendIfEmpty(missing, "MONGO_URI", c.MongoURI)
			missing = appendIfEmpty(missing, "MONGO_DB", c.MongoDB)
			missing = appendIfEmpty(missing, "MONGO_COLLECTION", c.MongoCollection)
		case NeedEmbedder:
			missing = appendIfEmpty(missing, "EMBED_URL", c.EmbedURL)
			missing = appendIfEmpty(missing, "EMBED_MODEL", c.EmbedModel)
			switch strings.ToLower(c.EmbedProvider) {
			case "ollama", "":
			case "openai":
				missing = appendIfEmpty(missing, "EMBED_API_KEY", c.EmbedAPIKey)
			default:
				invalid = append(invalid, "EMBED_PROVIDER")
			}
			if c.EmbedDimensions <= 0 {
				invalid = append(invalid, "EMBED_DIMENSIONS")
			}
		}
	}
	if c.ImportBatchSize <= 0 {
		invalid = append(invalid, "IMPORT_BATCH_SIZE")
	}
	if c.SearchLimit <= 0 || c.SearchLimit > domain.MaxLimit {
		invalid = append(invalid, "SEARCH_LIMIT")
	}

	missing = dedup(missing)
	invalid = dedup(invalid)
	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	return &domain.ConfigError{Missing: missing, Invalid: invalid}
}

func appendIfEmpty(list []string, key, value string) []string {
	if strings.TrimSpace(value) == "" {
		return append(list, key)
	}
	return list
}

func dedup(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		c.invalid = append(c.invalid, key)
		return fallback
	}
	return n
}

func (c *Config) envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		c.invalid = append(c.invalid, key)
		return fallback
	}
	return f
}

func (c *Config) envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		c.invalid = append(c.invalid, key)
		return fallback
	}
	return b
}
