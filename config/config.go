package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string           `mapstructure:"env"`
	LogLevel          string           `mapstructure:"log_level"`
	LogType           string           `mapstructure:"log_type"`
	ServiceName       string           `mapstructure:"service_name"`
	Port              string           `mapstructure:"port"`
	Version           string           `mapstructure:"version"`
	WorkerSettings    *WorkerConfig    `mapstructure:"worker"`
	CacheSettings     *CacheConfig     `mapstructure:"cache"`
	DbSettings        *DatabaseConfig  `mapstructure:"database"`
	KafkaSettings     *KafkaConfig     `mapstructure:"kafka"`
	S3Settings        *S3Config        `mapstructure:"s3"`
	FetcherSettings   *FetcherConfig   `mapstructure:"fetcher"`
	ParserSettings    *ParserConfig    `mapstructure:"parser"`
	ExtractorSettings *ExtractorConfig `mapstructure:"extractor"`
	SchedulerSettings *SchedulerConfig `mapstructure:"scheduler"`
}

type WorkerConfig struct {
	MaxConcurrentSources int           `mapstructure:"max_concurrent_sources"`
	RunExecutors         int           `mapstructure:"run_executors"`
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
}

type CacheConfig struct {
	Servers           string        `mapstructure:"servers"`
	TtlForFingerprint time.Duration `mapstructure:"ttl_for_fingerprint"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTopicName string        `mapstructure:"write_topic_name"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAsks   int           `mapstructure:"required_acks"`
	Async          bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          string        `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
}

type S3Config struct {
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type FetcherConfig struct {
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	RequestTimeout   int           `mapstructure:"request_timeout"` // seconds, archive fallback
	Retries          int           `mapstructure:"retries"`
	LastCrawlIndexes int           `mapstructure:"last_crawl_indexes"`
}

type ParserConfig struct {
	Providers      []*ProviderConfig `mapstructure:"providers"`
	Temperature    float32           `mapstructure:"temperature"`
	MaxTokens      int               `mapstructure:"max_tokens"`
	ContentLimit   int               `mapstructure:"content_limit"`
	RetryAttempts  int               `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration     `mapstructure:"retry_delay"`
	ResultCacheTtl time.Duration     `mapstructure:"result_cache_ttl"`
}

type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseUrl string `mapstructure:"base_url"`
	ApiKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type ExtractorConfig struct {
	OcrLanguages string `mapstructure:"ocr_languages"`
}

type SchedulerConfig struct {
	CronSpec       string        `mapstructure:"cron_spec"`
	AuditRetention time.Duration `mapstructure:"audit_retention"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	cfg.applyDefaults()

	return &cfg
}

// applyDefaults fills missing config sections so a sparse config.yaml
// never nil-panics at startup; absent connection settings still fail at
// the client constructors with a logged exit.
func (c *Config) applyDefaults() {
	if c.WorkerSettings == nil {
		c.WorkerSettings = &WorkerConfig{}
	}
	if c.CacheSettings == nil {
		c.CacheSettings = &CacheConfig{}
	}
	if c.DbSettings == nil {
		c.DbSettings = &DatabaseConfig{}
	}
	if c.KafkaSettings == nil {
		c.KafkaSettings = &KafkaConfig{}
	}
	if c.KafkaSettings.Producer == nil {
		c.KafkaSettings.Producer = &ProducerConfig{}
	}
	if c.KafkaSettings.Consumer == nil {
		c.KafkaSettings.Consumer = &ConsumerConfig{}
	}
	if c.S3Settings == nil {
		c.S3Settings = &S3Config{}
	}
	if c.FetcherSettings == nil {
		c.FetcherSettings = &FetcherConfig{}
	}
	if c.ParserSettings == nil {
		c.ParserSettings = &ParserConfig{}
	}
	if c.ExtractorSettings == nil {
		c.ExtractorSettings = &ExtractorConfig{}
	}
	if c.SchedulerSettings == nil {
		c.SchedulerSettings = &SchedulerConfig{}
	}
	if c.WorkerSettings.FailureThreshold <= 0 {
		c.WorkerSettings.FailureThreshold = 5
	}
	if c.WorkerSettings.MaxConcurrentSources <= 0 {
		c.WorkerSettings.MaxConcurrentSources = 4
	}
	if c.WorkerSettings.RunExecutors <= 0 {
		c.WorkerSettings.RunExecutors = 1
	}
	if c.ParserSettings.ContentLimit <= 0 {
		c.ParserSettings.ContentLimit = 16000
	}
}
