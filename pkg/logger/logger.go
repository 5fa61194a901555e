package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 定義 logger 的配置
type Config struct {
	// Environment: development / production
	Environment string `yaml:"environment"`
	// Level: debug / info / warn / error，空字串時依環境決定
	Level string `yaml:"level"`
	// Encoding: json / console，預設 json
	Encoding string `yaml:"encoding"`
}

// New 依配置建立 zap logger
//
// 參數:
//
//	cfg: Config - logger 配置
//
// 回傳值:
//
//	*zap.Logger: logger 實例
//	error: 等級或格式錯誤
func New(cfg Config) (*zap.Logger, error) {
	var base zap.Config
	development := cfg.Environment == "development" || cfg.Environment == "local"
	if development {
		base = zap.NewDevelopmentConfig()
	} else {
		base = zap.NewProductionConfig()
	}

	level, err := resolveLevel(cfg.Level, development)
	if err != nil {
		return nil, err
	}
	base.Level = level
	base.DisableStacktrace = true
	base.EncoderConfig.TimeKey = "ts"
	base.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	base.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	switch cfg.Encoding {
	case "", "json":
		base.Encoding = "json"
	case "console":
		base.Encoding = "console"
	default:
		return nil, fmt.Errorf("invalid log encoding %q", cfg.Encoding)
	}

	built, err := base.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return built, nil
}

func resolveLevel(level string, development bool) (zap.AtomicLevel, error) {
	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		return zap.NewAtomicLevelAt(parsed), nil
	}
	if development {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
}
