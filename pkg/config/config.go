package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Telegram TelegramConfig
	Jivo     JivoConfig
	Admin    AdminConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	OpenAI   OpenAIConfig
	RAG      RAGConfig
	Limits   LimitsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type TelegramConfig struct {
	BotToken   string
	APIBaseURL string
}

type JivoConfig struct {
	BotToken   string
	APIBaseURL string
}

type AdminConfig struct {
	Username string
	Password string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type RAGConfig struct {
	KnowledgeBasePath   string
	IndexDir            string
	ChunkSize           int
	ChunkOverlap        int
	TopK                int
	SimilarityThreshold float64
	SystemPrompt        string
	SupportChatURL      string
}

type LimitsConfig struct {
	RateQuota     int
	RateWindowSec int
	MaxContext    int
	ContextTTLSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/schoolbot")

	viper.SetEnvPrefix("SCHOOLBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the process cannot start with. Missing
// credentials are fatal here; per-message failures are handled downstream.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.apiKey is required")
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunkSize must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.topK must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.SimilarityThreshold <= 0 || c.RAG.SimilarityThreshold > 1 {
		return fmt.Errorf("rag.similarityThreshold must be in (0, 1], got %v", c.RAG.SimilarityThreshold)
	}
	if c.Limits.RateQuota <= 0 || c.Limits.RateWindowSec <= 0 {
		return fmt.Errorf("limits.rateQuota and limits.rateWindowSec must be positive")
	}
	if c.Limits.MaxContext <= 0 || c.Limits.ContextTTLSec <= 0 {
		return fmt.Errorf("limits.maxContext and limits.contextTTLSec must be positive")
	}
	return nil
}

func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.Limits.RateWindowSec) * time.Second
}

func (c *Config) ContextTTL() time.Duration {
	return time.Duration(c.Limits.ContextTTLSec) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("telegram.apiBaseURL", "https://api.telegram.org")
	viper.SetDefault("jivo.apiBaseURL", "https://bot.jivosite.com")

	viper.SetDefault("admin.username", "admin")

	viper.SetDefault("sqlite.path", "./data/questions.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 3600)

	viper.SetDefault("openai.model", "gpt-4.1-mini")
	viper.SetDefault("openai.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("openai.temperature", 0.7)
	viper.SetDefault("openai.maxTokens", 800)
	viper.SetDefault("openai.timeoutSec", 60)

	viper.SetDefault("rag.knowledgeBasePath", "./data/knowledge_base.md")
	viper.SetDefault("rag.indexDir", "./data/index")
	viper.SetDefault("rag.chunkSize", 1000)
	// Recognized but not applied by the line chunker yet.
	viper.SetDefault("rag.chunkOverlap", 200)
	viper.SetDefault("rag.topK", 3)
	viper.SetDefault("rag.similarityThreshold", 0.85)
	viper.SetDefault("rag.supportChatURL", "https://t.me/Ageev_Help_chat")
	viper.SetDefault("rag.systemPrompt", defaultSystemPrompt)

	viper.SetDefault("limits.rateQuota", 20)
	viper.SetDefault("limits.rateWindowSec", 3600)
	viper.SetDefault("limits.maxContext", 5)
	viper.SetDefault("limits.contextTTLSec", 3600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

const defaultSystemPrompt = `Ты — нейро-консультант школы.
Отвечай исключительно на основе предоставленных тебе документов из базы знаний, без домыслов или догадок.

Правила:
1. Используй только информацию из базы знаний и отвечай максимально точно по документу.
2. Никогда не упоминай базу знаний в ответах.
3. Если подходящего ответа нет, направь пользователя к кураторам в хелп-чат.
4. Не консультируй и не анализируй личные ситуации.
5. Ответ должен быть на том языке, на котором задан вопрос.`
