package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConf struct {
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	MetricsPort     int    `mapstructure:"metrics_port"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

type MongoConf struct {
	URI                   string `mapstructure:"uri"`
	Database              string `mapstructure:"database"`
	MediaCollection       string `mapstructure:"media_collection"`
	LinksCollection       string `mapstructure:"links_collection"`
	FriendshipsCollection string `mapstructure:"friendships_collection"`
}

type AWSConf struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type S3Conf struct {
	PresignTTL int `mapstructure:"presign_ttl_seconds"`
}

type RedisConf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConf struct {
	Brokers       []string `mapstructure:"brokers"`
	ImageTopic    string   `mapstructure:"image_topic"`
	VideoTopic    string   `mapstructure:"video_topic"`
	ZipTopic      string   `mapstructure:"zip_topic"`
	CallbackTopic string   `mapstructure:"callback_topic"`
	CallbackGroup string   `mapstructure:"callback_group"`
	AuditTopic    string   `mapstructure:"audit_topic"`
}

type JWTConf struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Secret        string `mapstructure:"secret"`
}

type UploadConf struct {
	SingleShotMaxBytes int64 `mapstructure:"single_shot_max_bytes"`
	ChunkSize          int64 `mapstructure:"chunk_size"`
	MaxConcurrency     int   `mapstructure:"max_concurrent_chunks"`
	SessionTTLSeconds  int   `mapstructure:"session_ttl_seconds"`
}

type RateLimitConf struct {
	UploadsPerMinute int `mapstructure:"uploads_per_minute"`
	Burst            int `mapstructure:"burst"`
}

type SocialConf struct {
	// When BaseURL is set, friendships are checked against the social-graph
	// service over HTTP; otherwise the shared friendships collection is read
	// directly.
	BaseURL               string `mapstructure:"base_url"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSecond int    `mapstructure:"retry_max_elapsed_seconds"`
}

type ConsulConf struct {
	Addr        string `mapstructure:"addr"`
	ServiceName string `mapstructure:"service_name"`
	ServiceAddr string `mapstructure:"service_addr"`
}

type WSConf struct {
	PingSeconds          int `mapstructure:"ping_seconds"`
	WriteDeadlineSeconds int `mapstructure:"write_deadline_seconds"`
}

type Config struct {
	App       AppConf       `mapstructure:"app"`
	Mongo     MongoConf     `mapstructure:"mongodb"`
	AWS       AWSConf       `mapstructure:"aws"`
	S3        S3Conf        `mapstructure:"s3"`
	Redis     RedisConf     `mapstructure:"redis"`
	Kafka     KafkaConf     `mapstructure:"kafka"`
	JWT       JWTConf       `mapstructure:"jwt"`
	Uploads   UploadConf    `mapstructure:"uploads"`
	RateLimit RateLimitConf `mapstructure:"ratelimit"`
	Social    SocialConf    `mapstructure:"social"`
	Consul    ConsulConf    `mapstructure:"consul"`
	WS        WSConf        `mapstructure:"websocket"`

	// derived
	ShutdownTimeout time.Duration
	PresignTTL      time.Duration
	SessionTTL      time.Duration
	SocialTimeout   time.Duration
	SocialRetryMax  time.Duration
	PingInterval    time.Duration
	WriteDeadline   time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.App.Port == 0 {
		cfg.App.Port = 8085
	}
	if cfg.App.MetricsPort == 0 {
		cfg.App.MetricsPort = 9095
	}
	if cfg.App.ShutdownSeconds == 0 {
		cfg.App.ShutdownSeconds = 15
	}
	if cfg.S3.PresignTTL == 0 {
		cfg.S3.PresignTTL = 600
	}
	if cfg.Uploads.SingleShotMaxBytes == 0 {
		cfg.Uploads.SingleShotMaxBytes = 500 << 20
	}
	if cfg.Uploads.ChunkSize == 0 {
		cfg.Uploads.ChunkSize = 5 << 20
	}
	if cfg.Uploads.MaxConcurrency == 0 {
		cfg.Uploads.MaxConcurrency = 4
	}
	if cfg.Uploads.SessionTTLSeconds == 0 {
		cfg.Uploads.SessionTTLSeconds = 24 * 3600
	}
	if cfg.RateLimit.UploadsPerMinute == 0 {
		cfg.RateLimit.UploadsPerMinute = 60
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Social.TimeoutSeconds == 0 {
		cfg.Social.TimeoutSeconds = 5
	}
	if cfg.Social.RetryMaxElapsedSecond == 0 {
		cfg.Social.RetryMaxElapsedSecond = 10
	}
	if cfg.WS.PingSeconds == 0 {
		cfg.WS.PingSeconds = 30
	}
	if cfg.WS.WriteDeadlineSeconds == 0 {
		cfg.WS.WriteDeadlineSeconds = 10
	}
	if cfg.Mongo.MediaCollection == "" {
		cfg.Mongo.MediaCollection = "media"
	}
	if cfg.Mongo.LinksCollection == "" {
		cfg.Mongo.LinksCollection = "media_links"
	}
	if cfg.Mongo.FriendshipsCollection == "" {
		cfg.Mongo.FriendshipsCollection = "friendships"
	}
	if cfg.Kafka.CallbackGroup == "" {
		cfg.Kafka.CallbackGroup = "media-service"
	}

	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownSeconds) * time.Second
	cfg.PresignTTL = time.Duration(cfg.S3.PresignTTL) * time.Second
	cfg.SessionTTL = time.Duration(cfg.Uploads.SessionTTLSeconds) * time.Second
	cfg.SocialTimeout = time.Duration(cfg.Social.TimeoutSeconds) * time.Second
	cfg.SocialRetryMax = time.Duration(cfg.Social.RetryMaxElapsedSecond) * time.Second
	cfg.PingInterval = time.Duration(cfg.WS.PingSeconds) * time.Second
	cfg.WriteDeadline = time.Duration(cfg.WS.WriteDeadlineSeconds) * time.Second
}
