package config

import (
	"time"

	pkgconfig "github.com/weiawesome/melo-live/pkg/config"
	"github.com/weiawesome/melo-live/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Message   MessageConfig
	Presence  PresenceConfig
	Room      RoomConfig
	Kafka     KafkaConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	Issuer         string
	RoomServiceURL string        `mapstructure:"room_service_url"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type RedisConfig struct {
	Address          string
	Password         string
	DB               int
	KeyPrefix        string `mapstructure:"key_prefix"`
	BroadcastChannel string `mapstructure:"broadcast_channel"`
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type MessageConfig struct {
	RetentionTTL    time.Duration `mapstructure:"retention_ttl"`
	HistoryPageSize int           `mapstructure:"history_page_size"`
	HistoryCacheTTL time.Duration `mapstructure:"history_cache_ttl"`
}

type PresenceConfig struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	OfflineTTL time.Duration `mapstructure:"offline_ttl"`
	TypingTTL  time.Duration `mapstructure:"typing_ttl"`
}

type RoomConfig struct {
	MetadataTTL time.Duration `mapstructure:"metadata_ttl"`
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("config", "./config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("websocket.ping_interval", "25s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "melo-live")
	v.SetDefault("auth.room_service_url", "http://localhost:8081")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.request_timeout", "5s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "melo")
	v.SetDefault("redis.broadcast_channel", "")
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("message.retention_ttl", "24h")
	v.SetDefault("message.history_page_size", 50)
	v.SetDefault("message.history_cache_ttl", "30s")
	v.SetDefault("presence.session_ttl", "24h")
	v.SetDefault("presence.offline_ttl", "5m")
	v.SetDefault("presence.typing_ttl", "10s")
	v.SetDefault("room.metadata_ttl", "24h")
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-message-mirror")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.room_service_url", "ROOM_SERVICE_URL")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 25*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.AccessTokenTTL = pkgconfig.Duration(v, "auth.access_token_ttl", 15*time.Minute)
	cfg.Auth.RequestTimeout = pkgconfig.Duration(v, "auth.request_timeout", 5*time.Second)
	cfg.RateLimit.Window = pkgconfig.Duration(v, "rate_limit.window", 60*time.Second)
	cfg.Message.RetentionTTL = pkgconfig.Duration(v, "message.retention_ttl", 24*time.Hour)
	cfg.Message.HistoryCacheTTL = pkgconfig.Duration(v, "message.history_cache_ttl", 30*time.Second)
	cfg.Presence.SessionTTL = pkgconfig.Duration(v, "presence.session_ttl", 24*time.Hour)
	cfg.Presence.OfflineTTL = pkgconfig.Duration(v, "presence.offline_ttl", 5*time.Minute)
	cfg.Presence.TypingTTL = pkgconfig.Duration(v, "presence.typing_ttl", 10*time.Second)
	cfg.Room.MetadataTTL = pkgconfig.Duration(v, "room.metadata_ttl", 24*time.Hour)

	// The fan-out channel follows the key prefix unless set explicitly, so
	// two deployments sharing a broker stay isolated.
	if cfg.Redis.BroadcastChannel == "" {
		cfg.Redis.BroadcastChannel = pubsub.BroadcastChannel(cfg.Redis.KeyPrefix)
	}

	return &cfg, nil
}
