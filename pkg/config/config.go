package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Slack        SlackConfig        `mapstructure:"slack"`
	Facebook     FacebookConfig     `mapstructure:"facebook"`
	Speech       SpeechConfig       `mapstructure:"speech"`
	Conversation ConversationConfig `mapstructure:"conversation"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type EngineConfig struct {
	Backend string       `mapstructure:"backend"`
	Watson  WatsonConfig `mapstructure:"watson"`
	OpenAI  OpenAIConfig `mapstructure:"openai"`
}

type WatsonConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	WorkspaceID string `mapstructure:"workspace_id"`
	Version     string `mapstructure:"version"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SlackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

type FacebookConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	PageToken         string `mapstructure:"page_token"`
	VerifyToken       string `mapstructure:"verify_token"`
	WebserverHostname string `mapstructure:"webserver_hostname"`
}

type SpeechConfig struct {
	AzureKey    string `mapstructure:"azure_key"`
	AzureRegion string `mapstructure:"azure_region"`
	// Transcripts at or above this confidence skip user confirmation.
	// Deployments have historically run anywhere from 0.85 to 0.93.
	AutoAcceptConfidence float64 `mapstructure:"auto_accept_confidence"`
}

type ConversationConfig struct {
	ReentryNode            string `mapstructure:"reentry_node"`
	MaxJumpDepth           int    `mapstructure:"max_jump_depth"`
	DeliveryTimeoutSeconds int    `mapstructure:"delivery_timeout_seconds"`
}

func parseDatabaseURL(dbURL string) (PostgresConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return PostgresConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	return PostgresConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 5000)
	v.SetDefault("engine.backend", "watson")
	v.SetDefault("engine.watson.url", "https://gateway.watsonplatform.net/conversation/api")
	v.SetDefault("engine.openai.model", "gpt-3.5-turbo")
	v.SetDefault("engine.openai.max_tokens", 300)
	v.SetDefault("engine.openai.temperature", 0.7)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("speech.auto_accept_confidence", 0.85)
	v.SetDefault("conversation.reentry_node", "Welcome")
	v.SetDefault("conversation.max_jump_depth", 10)
	v.SetDefault("conversation.delivery_timeout_seconds", 15)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		pgConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database.Driver = "postgres"
		config.Database.Postgres = pgConfig
	}

	// Get other environment variables
	if token := v.GetString("SLACK_TOKEN"); token != "" {
		config.Slack.Token = token
	}

	if token := v.GetString("FACEBOOK_PAGE_TOKEN"); token != "" {
		config.Facebook.PageToken = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.Engine.OpenAI.APIKey = apiKey
	}

	if password := v.GetString("WATSON_CONVERSATION_PASSWORD"); password != "" {
		config.Engine.Watson.Password = password
	}

	return &config, nil
}
