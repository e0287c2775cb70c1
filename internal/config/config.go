// Package config はサービス共通の設定読み込みを提供する。
//
// 設定は既定値、CONFIG_FILEで指定したYAMLファイル、環境変数の順に上書きされる。
// 環境変数名はキーを大文字にして "." を "_" に置き換えたもの（例: feed.capacity → FEED_CAPACITY）。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// サービス名。
const (
	ServiceGateway      = "gateway"
	ServiceRecords      = "records"
	ServiceEventStore   = "eventstore"
	ServiceNotification = "notification"
)

// defaultPorts はサービスごとの既定のリッスンポート。
var defaultPorts = map[string]string{
	ServiceGateway:      "8080",
	ServiceRecords:      "8081",
	ServiceEventStore:   "8084",
	ServiceNotification: "8086",
}

// FeedConfig は通知フィードの設定。
type FeedConfig struct {
	// Capacity はフィードが保持する通知の上限数。
	Capacity int `mapstructure:"capacity"`
	// PollInterval はEvent Storeのポーリング間隔。
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// IdleTimeout はアクセスのないセッションを破棄するまでの時間。
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// RetryInitial はリスナー登録失敗時の最初の再試行間隔。
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	// RetryMax は再試行間隔の上限。
	RetryMax time.Duration `mapstructure:"retry_max"`
	// RateLimit はEvent Storeへの1秒あたりのリクエスト数の上限。
	RateLimit float64 `mapstructure:"rate_limit"`
}

// Config はサービスの設定。
type Config struct {
	// Service はサービス名。
	Service string `mapstructure:"-"`
	Port    string `mapstructure:"port"`
	// JWTSecret はJWTの署名鍵。
	JWTSecret          string `mapstructure:"jwt_secret"`
	EventStoreURL      string `mapstructure:"eventstore_url"`
	RecordsURL         string `mapstructure:"records_url"`
	NotificationURL    string `mapstructure:"notification_url"`
	IdentityURL        string `mapstructure:"identity_url"`
	IdentityServiceKey string `mapstructure:"identity_service_key"`
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL  string `mapstructure:"frontend_url"`
	DatabasePath string `mapstructure:"database_path"`
	LogLevel     string `mapstructure:"log_level"`
	// DevTokenEnabled がtrueの場合、gatewayは開発用トークンを発行する。
	DevTokenEnabled bool       `mapstructure:"dev_token_enabled"`
	Feed            FeedConfig `mapstructure:"feed"`
}

// Addr はリッスンアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Load は指定サービスの設定を読み込む。
func Load(service string) (*Config, error) {
	port, ok := defaultPorts[service]
	if !ok {
		return nil, fmt.Errorf("未知のサービスです: %s", service)
	}

	v := viper.New()
	v.SetDefault("port", port)
	v.SetDefault("jwt_secret", "dev-secret-key")
	v.SetDefault("eventstore_url", "http://localhost:8084")
	v.SetDefault("records_url", "http://localhost:8081")
	v.SetDefault("notification_url", "http://localhost:8086")
	v.SetDefault("identity_url", "")
	v.SetDefault("identity_service_key", "")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("database_path", fmt.Sprintf("/data/%s.db", service))
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_token_enabled", false)
	v.SetDefault("feed.capacity", 50)
	v.SetDefault("feed.poll_interval", 2*time.Second)
	v.SetDefault("feed.idle_timeout", 30*time.Minute)
	v.SetDefault("feed.retry_initial", time.Second)
	v.SetDefault("feed.retry_max", 30*time.Second)
	v.SetDefault("feed.rate_limit", 10.0)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	cfg := &Config{Service: service}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("portが空です")
	}
	if c.Feed.Capacity <= 0 {
		return fmt.Errorf("feed.capacityは1以上である必要があります: %d", c.Feed.Capacity)
	}
	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed.poll_intervalは正の値である必要があります: %s", c.Feed.PollInterval)
	}
	if c.Feed.RateLimit <= 0 {
		return fmt.Errorf("feed.rate_limitは正の値である必要があります: %v", c.Feed.RateLimit)
	}
	if c.Feed.RetryMax < c.Feed.RetryInitial {
		return fmt.Errorf("feed.retry_maxはfeed.retry_initial以上である必要があります")
	}
	return nil
}
