package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	LoadTrack LoadTrackConfig `yaml:"loadtrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoadTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	RelayHTTPAddr      string `yaml:"relay_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	DeviceID           string `yaml:"device_id"`

	OrderCacheTTLSeconds int `yaml:"order_cache_ttl_seconds"`

	// QR: подпись и срок жизни кода
	TenantID           string `yaml:"tenant_id"`
	QRSecret           string `yaml:"qr_secret"`
	QRTTLSeconds       int    `yaml:"qr_ttl_seconds"`
	ScanLimitPerMinute int    `yaml:"scan_limit_per_minute"`

	JWTSecret     string `yaml:"jwt_secret"`
	JWTTTLSeconds int    `yaml:"jwt_ttl_seconds"`

	// Пусто: "*" (диспетчерская панель в браузере).
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Бэкенд заказов (validate-qr-code / activate-load). Пусто: локальный fake.
	BackendBaseURL string `yaml:"backend_base_url"`

	// Источник координат: "hub" (устройство пишет в /v1/positions/ws),
	// "ws" (читаем внешний websocket), "replay" (трек из файла).
	PositionSource     string `yaml:"position_source"`
	PositionFeedURL    string `yaml:"position_feed_url"`
	PositionReplayFile string `yaml:"position_replay_file"`
	BackgroundFeedURL  string `yaml:"background_feed_url"`

	TrackingIntervalSeconds   int     `yaml:"tracking_interval_seconds"`
	TrackingMinDistanceMeters float64 `yaml:"tracking_min_distance_meters"`
	TrackingBufferCapacity    int     `yaml:"tracking_buffer_capacity"`
	GeofenceRadiusMeters      float64 `yaml:"geofence_radius_meters"`
	FlushAttempts             int     `yaml:"flush_attempts"`
	FlushRetryStepMillis      int     `yaml:"flush_retry_step_millis"`
	FlushSchedule             string  `yaml:"flush_schedule"`

	RelayPollIntervalSeconds int `yaml:"relay_poll_interval_seconds"`
	RelayBatchSize           int `yaml:"relay_batch_size"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

// LoadEnv подгружает .env, если он есть. Уже заданные переменные окружения не перетираются.
func LoadEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Секреты не держим в yaml в проде: переменные окружения имеют приоритет.
func (c *Config) applyEnv() {
	if v := os.Getenv("LOADTRACK_QR_SECRET"); v != "" {
		c.LoadTrack.QRSecret = v
	}
	if v := os.Getenv("LOADTRACK_JWT_SECRET"); v != "" {
		c.LoadTrack.JWTSecret = v
	}
	if v := os.Getenv("LOADTRACK_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}

func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
