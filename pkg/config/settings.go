package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings 是类型化的完整配置
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Database DatabaseSettings `mapstructure:"database"`
	Storage  StorageSettings  `mapstructure:"storage"`
	Upload   UploadSettings   `mapstructure:"upload"`
	Download DownloadSettings `mapstructure:"download"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Queue    QueueSettings    `mapstructure:"queue"`
	Log      LogSettings      `mapstructure:"log"`
}

type ServerSettings struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseSettings struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
	Debug    bool   `mapstructure:"debug"`
}

type StorageSettings struct {
	Type            string `mapstructure:"type"` // "s3" | "memory"
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	EnsureBuckets   bool   `mapstructure:"ensure_buckets"`

	// Regions region -> bucket
	Regions map[string]string `mapstructure:"regions"`

	// MemoryURL memory 模式下签名 URL 的前缀 (serve 把对象端点挂在 /_objects)
	MemoryURL string `mapstructure:"memory_url"`
}

type UploadSettings struct {
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Grace     time.Duration `mapstructure:"grace"`
}

type DownloadSettings struct {
	ExpiresIn time.Duration `mapstructure:"expires_in"`
}

type AuthSettings struct {
	Secret                       string `mapstructure:"secret"`
	AllowAnonymousPublicDownload bool   `mapstructure:"allow_anonymous_public_download"`
}

type QueueSettings struct {
	RedisURL string `mapstructure:"redis_url"`
	Name     string `mapstructure:"name"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" | "json"
}

// FromViper 从全局 Viper 解出 Settings 并校验
func FromViper() (*Settings, error) {
	return decode(viper.GetViper())
}

// Default 只含默认值的 Settings (测试、dev 模式的起点)
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	s, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("default settings are invalid: %v", err))
	}
	return s
}

func decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate 检查值域 (不检查外部资源是否可达)
func (s *Settings) Validate() error {
	if s.Upload.ExpiresIn <= 0 {
		return fmt.Errorf("upload.expires_in must be positive")
	}
	if s.Upload.Grace <= 0 {
		return fmt.Errorf("upload.grace must be positive")
	}
	if s.Download.ExpiresIn <= 0 {
		return fmt.Errorf("download.expires_in must be positive")
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		return err
	}
	return nil
}

// NewLogger 按 log.level / log.format 构建 slog.Logger
func (l LogSettings) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return level, nil
}
