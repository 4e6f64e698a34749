package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load 初始化全局 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	v := viper.GetViper()

	// 1. 设置默认值 (Defaults)
	setDefaults(v)

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.tooltool -> ~/.tooltool
		v.AddConfigPath(".")
		v.AddConfigPath(".tooltool")
		v.AddConfigPath(filepath.Join(home, ".tooltool"))

		v.SetConfigType("yaml")
		v.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (TOOLTOOL_DATABASE_HOST 等)
	v.SetEnvPrefix("TOOLTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 只是没找到配置文件：可能全靠环境变量，不算错
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "🔧 Using config file:", v.ConfigFileUsed())
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")

	// 数据库默认值
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tooltool")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "tooltool")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "")
	v.SetDefault("database.debug", false)

	// 存储默认值
	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.ensure_buckets", false)
	v.SetDefault("storage.memory_url", "")

	// 签名 URL 有效期：必须很短，窗口关闭之前上传不能被校验
	v.SetDefault("upload.expires_in", "60s")
	v.SetDefault("upload.grace", "24h")
	v.SetDefault("download.expires_in", "60s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.allow_anonymous_public_download", false)

	v.SetDefault("queue.redis_url", "")
	v.SetDefault("queue.name", "tooltool:upload-complete")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
