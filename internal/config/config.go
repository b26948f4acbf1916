package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Processing ProcessingConfig `yaml:"processing"`
	Worker     WorkerConfig     `yaml:"worker"`
	LogLevel   string           `yaml:"log_level"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ProcessorConfig points at the external content-processing API.
type ProcessorConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ProcessingConfig tunes the domain-aware worker.
type ProcessingConfig struct {
	SameDomainDelay      time.Duration `yaml:"same_domain_delay"`
	MaxConcurrentDomains int           `yaml:"max_concurrent_domains"`
	MaxRetries           int           `yaml:"max_retries"`
	ProcessingTimeout    time.Duration `yaml:"processing_timeout"`
	ClaimBatch           int           `yaml:"claim_batch"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
}

type WorkerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "news_processor"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "processed_links"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "cms_processed_links"
	}
	if c.Processing.SameDomainDelay == 0 {
		c.Processing.SameDomainDelay = 3 * time.Second
	}
	if c.Processing.MaxConcurrentDomains == 0 {
		c.Processing.MaxConcurrentDomains = 3
	}
	if c.Processing.MaxRetries == 0 {
		c.Processing.MaxRetries = 2
	}
	if c.Processing.ProcessingTimeout == 0 {
		c.Processing.ProcessingTimeout = 30 * time.Second
	}
	if c.Processing.ClaimBatch == 0 {
		c.Processing.ClaimBatch = 10
	}
	if c.Processing.BackoffBase == 0 {
		c.Processing.BackoffBase = 2 * time.Second
	}
	if c.Worker.Interval == 0 {
		c.Worker.Interval = 5 * time.Minute
	}
	if c.Worker.DrainTimeout == 0 {
		c.Worker.DrainTimeout = 30 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
