package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env string `yaml:"env" env:"APP_ENV" env-default:"production"`
	// StorageDriver is "postgres" or "memory".
	StorageDriver string     `yaml:"storage_driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	PGSQL         PQSQL      `yaml:"pgsql"`
	Redis         Redis      `yaml:"redis"`
	HTTPServer    HTTPServer `yaml:"http_server"`
	MinIO         MinIO      `yaml:"minio"`
	Telegram      Telegram   `yaml:"telegram"`
	Auth          Auth       `yaml:"auth"`
	Log           Log        `yaml:"log"`
	Ingest        Ingest     `yaml:"ingest"`
}

type HTTPServer struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:"0.0.0.0:8080"`
}

type PQSQL struct {
	// URL takes precedence over the discrete fields when set.
	URL      string `yaml:"url" env:"DATABASE_URL"`
	Host     string `yaml:"host" env:"PG_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"PG_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"PG_USER" env-default:"postgres"`
	Password string `yaml:"password" env:"PG_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"PG_DBNAME" env-default:"channel_media"`
	SSLMode  string `yaml:"sslmode" env:"PG_SSLMODE" env-default:"disable"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"minio:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_KEY" env-default:"minioadmin"`
	UseSSL          bool   `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"false"`
	AudioBucket     string `yaml:"audio_bucket" env:"S3_BUCKET_AUDIO" env-default:"audio"`
	PDFBucket       string `yaml:"pdf_bucket" env:"S3_BUCKET_PDF" env-default:"pdf"`
}

type Telegram struct {
	// Driver selects the channel source: "mtproto" (user or bot session) or "botapi".
	Driver   string `yaml:"driver" env:"TG_DRIVER" env-default:"mtproto"`
	APIID    int    `yaml:"api_id" env:"TG_API_ID"`
	APIHash  string `yaml:"api_hash" env:"TG_API_HASH"`
	Session  string `yaml:"session" env:"TG_SESSION" env-default:"telegram_session.json"`
	BotToken string `yaml:"bot_token" env:"TG_BOT_TOKEN"`
}

type Auth struct {
	JWTSecret   string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"super_secret_key"`
	TokenTTL    time.Duration `yaml:"token_ttl" env:"JWT_TTL" env-default:"24h"`
	AdminAPIKey string        `yaml:"admin_api_key" env:"ADMIN_API_KEY"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

type Ingest struct {
	BackfillAttempts  int           `yaml:"backfill_attempts" env:"BACKFILL_ATTEMPTS" env-default:"3"`
	BackfillDelay     time.Duration `yaml:"backfill_delay" env:"BACKFILL_DELAY" env-default:"5s"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL" env-default:"5m"`
	StagingDir        string        `yaml:"staging_dir" env:"STAGING_DIR" env-default:"downloads"`
	EventBuffer       int           `yaml:"event_buffer" env:"EVENT_BUFFER" env-default:"256"`
	MaxTransfers      int64         `yaml:"max_transfers" env:"MAX_TRANSFERS" env-default:"2"`
}

// DSN returns the lib/pq connection string.
func (p PQSQL) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// IsDev reports whether the service runs in a development environment.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev" || c.Env == "local"
}

// Load reads the configuration from the YAML file named by CONFIG_PATH when it
// is set, otherwise from the environment alone. Values in a .env file in the
// working directory are exported to the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	configPath := os.Getenv("CONFIG_PATH")
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist at path: %s", configPath)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}
	return cfg
}
