package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支援 "15s" 形式字串的時長欄位
//
// yaml.v3 不認識 time.Duration，這個包裝類型讓配置檔
// 可以同時寫時長字串（"15s"）或納秒整數。
type Duration time.Duration

// UnmarshalYAML 實現 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("無效的時長: %q", s)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	return fmt.Errorf("無效的時長欄位: %s", value.Value)
}

// Std 轉換回標準庫的 time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config 整個應用的配置
//
// 配置來源與優先級（低 → 高）：
//  1. 內建預設值（DefaultConfig）
//  2. YAML 配置檔（可選）
//  3. PORT 環境變數（部署環境常用的覆蓋方式）
//  4. 命令行參數（見 cmd/server/main.go）
type Config struct {
	Server struct {
		Port         int      `yaml:"port"`
		ReadTimeout  Duration `yaml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
		IdleTimeout  Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Matchmaking struct {
		// 每個連接的出站緩衝大小。
		// 發送是發送即忘：緩衝滿時丟棄訊息而非阻塞配對與轉發路徑。
		SendBuffer int `yaml:"send_buffer"`
	} `yaml:"matchmaking"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // text, json
	} `yaml:"log"`
}

// DefaultConfig 返回內建預設配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = Duration(15 * time.Second)
	cfg.Server.WriteTimeout = Duration(15 * time.Second)
	cfg.Server.IdleTimeout = Duration(60 * time.Second)
	cfg.Matchmaking.SendBuffer = 256
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 載入配置
//
// path 為空時只使用預設值與環境變數。
// 所有進程狀態都是內存駐留的，配置是唯一的外部輸入。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path 來自命令行參數
		if err != nil {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置檔失敗: %w", err)
		}
	}

	// 環境變數覆蓋（容器部署常用）
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("PORT 環境變數無效: %w", err)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("端口必須在 1-65535 之間: %d", c.Server.Port)
	}
	if c.Matchmaking.SendBuffer < 1 {
		return fmt.Errorf("出站緩衝大小必須為正數: %d", c.Matchmaking.SendBuffer)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("無效的日誌級別: %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("無效的日誌格式: %s", c.Log.Format)
	}
	return nil
}
