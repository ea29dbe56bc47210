package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Values come from the optional
// YAML file named by CONFIG_FILE, then environment variables override.
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"` // development | production
	CORSOrigin  string `yaml:"cors_origin"`

	UploadDir      string `yaml:"upload_dir"`
	FramesDir      string `yaml:"frames_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	Neo4jURL  string `yaml:"neo4j_url"`
	Neo4jUser string `yaml:"neo4j_user"`
	Neo4jPass string `yaml:"neo4j_pass"`

	QdrantURL string `yaml:"qdrant_url"`
	NATSURL   string `yaml:"nats_url"` // empty disables events

	TranscribeURL string `yaml:"transcribe_url"`
	TranscribeKey string `yaml:"transcribe_key"`

	OllamaURL  string `yaml:"ollama_url"`
	EmbedModel string `yaml:"embed_model"`
	GenModel   string `yaml:"gen_model"`

	VisualURL    string `yaml:"visual_url"` // empty disables frame indexing
	VisualModel  string `yaml:"visual_model"`
	VisualStrict bool   `yaml:"visual_strict"`
}

func defaultConfig() Config {
	return Config{
		Port:           "8080",
		Environment:    "development",
		CORSOrigin:     "*",
		UploadDir:      "data/uploads",
		FramesDir:      "data/frames",
		MaxUploadBytes: 2 << 30, // 2 GiB
		Neo4jURL:       "neo4j://localhost:7687",
		Neo4jUser:      "neo4j",
		Neo4jPass:      "password",
		QdrantURL:      "localhost:6334",
		TranscribeURL:  "http://localhost:9200",
		OllamaURL:      "http://localhost:11434",
		EmbedModel:     "nomic-embed-text",
		GenModel:       "llama3",
		VisualModel:    "clip-vit-b32",
	}
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Port, "PORT")
	set(&cfg.Environment, "ENVIRONMENT")
	set(&cfg.CORSOrigin, "CORS_ORIGIN")
	set(&cfg.UploadDir, "UPLOAD_DIR")
	set(&cfg.FramesDir, "FRAMES_DIR")
	set(&cfg.Neo4jURL, "NEO4J_URL")
	set(&cfg.Neo4jUser, "NEO4J_USER")
	set(&cfg.Neo4jPass, "NEO4J_PASS")
	set(&cfg.QdrantURL, "QDRANT_URL")
	set(&cfg.NATSURL, "NATS_URL")
	set(&cfg.TranscribeURL, "TRANSCRIBE_URL")
	set(&cfg.TranscribeKey, "TRANSCRIBE_API_KEY")
	set(&cfg.OllamaURL, "OLLAMA_URL")
	set(&cfg.EmbedModel, "EMBED_MODEL")
	set(&cfg.GenModel, "GEN_MODEL")
	set(&cfg.VisualURL, "VISUAL_URL")
	set(&cfg.VisualModel, "VISUAL_MODEL")

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("VISUAL_STRICT"); v != "" {
		cfg.VisualStrict = v == "1" || v == "true"
	}
}

// development reports whether error detail may be echoed to clients.
func (c Config) development() bool { return c.Environment == "development" }
