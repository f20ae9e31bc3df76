// Package config provides configuration management for the correlate service.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the correlate service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch" yaml:"opensearch"`
	Oracle     OracleConfig     `mapstructure:"oracle" yaml:"oracle"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" yaml:"enrichment"`
	Behavioral BehavioralConfig `mapstructure:"behavioral" yaml:"behavioral"`
	Graph      GraphConfig      `mapstructure:"graph" yaml:"graph"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Rules      RulesConfig      `mapstructure:"rules" yaml:"rules"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// NATSConfig holds NATS intake and emission configuration.
type NATSConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	IntakeSubject  string `mapstructure:"intake_subject" yaml:"intake_subject"`
	QueueGroup     string `mapstructure:"queue_group" yaml:"queue_group"`
	VerdictSubject string `mapstructure:"verdict_subject" yaml:"verdict_subject"`
	RecSubject     string `mapstructure:"recommendation_subject" yaml:"recommendation_subject"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ConnString builds the pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RedisConfig holds Redis configuration for the verdict dedup cache.
type RedisConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// OpenSearchConfig holds the verdict sink configuration.
type OpenSearchConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
	Index    string `mapstructure:"index" yaml:"index"`
}

// OracleConfig holds rule-oracle collaborator settings. When URL is empty
// the deterministic heuristic fallback is used.
type OracleConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EnrichmentConfig holds knowledge-enrichment collaborator settings.
type EnrichmentConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BehavioralConfig tunes the behavioral baseline engine.
type BehavioralConfig struct {
	LearningRate        float64       `mapstructure:"learning_rate" yaml:"learning_rate"`
	AnomalyThreshold    float64       `mapstructure:"anomaly_threshold" yaml:"anomaly_threshold"`
	InitialConfidence   float64       `mapstructure:"initial_confidence" yaml:"initial_confidence"`
	ConfidenceIncrement float64       `mapstructure:"confidence_increment" yaml:"confidence_increment"`
	ConfidenceFloor     float64       `mapstructure:"confidence_floor" yaml:"confidence_floor"`
	FeedbackPenalty     float64       `mapstructure:"feedback_penalty" yaml:"feedback_penalty"`
	Retention           time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// GraphConfig tunes the relationship graph engine.
type GraphConfig struct {
	CorrelationWindow      time.Duration `mapstructure:"correlation_window" yaml:"correlation_window"`
	MinCorrelationStrength float64       `mapstructure:"min_correlation_strength" yaml:"min_correlation_strength"`
	ChainMinEntities       int           `mapstructure:"chain_min_entities" yaml:"chain_min_entities"`
	ChainRiskThreshold     float64       `mapstructure:"chain_risk_threshold" yaml:"chain_risk_threshold"`
	Retention              time.Duration `mapstructure:"retention" yaml:"retention"`
	DecayInterval          time.Duration `mapstructure:"decay_interval" yaml:"decay_interval"`
	CleanupInterval        time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	QueryTimeout           time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// PipelineConfig tunes the orchestrator worker pool.
type PipelineConfig struct {
	Workers                  int           `mapstructure:"workers" yaml:"workers"`
	QueueSize                int           `mapstructure:"queue_size" yaml:"queue_size"`
	ShutdownGrace            time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	RecommendationConfidence float64       `mapstructure:"recommendation_confidence" yaml:"recommendation_confidence"`
}

// RulesConfig locates the detection rule catalog.
type RulesConfig struct {
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
}

// AuthConfig holds API authentication settings. An empty secret disables
// bearer-token checks (development mode).
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the KESTREL_ prefix and override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("KESTREL")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not unmarshal: %v", err))
	}
	return &cfg
}

// Validate rejects configurations that would produce unbounded or
// degenerate scoring.
func (c *Config) Validate() error {
	if c.Behavioral.LearningRate <= 0 || c.Behavioral.LearningRate >= 1 {
		return fmt.Errorf("behavioral.learning_rate must be in (0,1), got %v", c.Behavioral.LearningRate)
	}
	if c.Behavioral.AnomalyThreshold < 0 || c.Behavioral.AnomalyThreshold > 1 {
		return fmt.Errorf("behavioral.anomaly_threshold must be in [0,1], got %v", c.Behavioral.AnomalyThreshold)
	}
	if c.Graph.MinCorrelationStrength < 0 || c.Graph.MinCorrelationStrength > 1 {
		return fmt.Errorf("graph.min_correlation_strength must be in [0,1], got %v", c.Graph.MinCorrelationStrength)
	}
	if c.Graph.ChainMinEntities < 3 {
		return fmt.Errorf("graph.chain_min_entities must be at least 3, got %d", c.Graph.ChainMinEntities)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	return nil
}

// YAML renders the configuration for --print-config.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8091)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.intake_subject", "events.normalized")
	v.SetDefault("nats.queue_group", "correlate")
	v.SetDefault("nats.verdict_subject", "verdicts.created")
	v.SetDefault("nats.recommendation_subject", "recommendations.created")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "kestrel")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "kestrel_correlate")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index", "kestrel-verdicts")

	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.timeout", "5s")

	v.SetDefault("enrichment.url", "")
	v.SetDefault("enrichment.timeout", "3s")

	v.SetDefault("behavioral.learning_rate", 0.3)
	v.SetDefault("behavioral.anomaly_threshold", 0.7)
	v.SetDefault("behavioral.initial_confidence", 0.1)
	v.SetDefault("behavioral.confidence_increment", 0.01)
	v.SetDefault("behavioral.confidence_floor", 0.1)
	v.SetDefault("behavioral.feedback_penalty", 0.05)
	v.SetDefault("behavioral.retention", "720h")
	v.SetDefault("behavioral.sweep_interval", "1h")

	v.SetDefault("graph.correlation_window", "6h")
	v.SetDefault("graph.min_correlation_strength", 0.5)
	v.SetDefault("graph.chain_min_entities", 3)
	v.SetDefault("graph.chain_risk_threshold", 0.5)
	v.SetDefault("graph.retention", "720h")
	v.SetDefault("graph.decay_interval", "1h")
	v.SetDefault("graph.cleanup_interval", "6h")
	v.SetDefault("graph.query_timeout", "2s")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 10000)
	v.SetDefault("pipeline.shutdown_grace", "10s")
	v.SetDefault("pipeline.recommendation_confidence", 0.8)

	v.SetDefault("rules.catalog_path", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "kestrel-correlate")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
