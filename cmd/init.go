package main

import (
	"log/slog"
	"os"

	"sgrouter/pkg/config"
)

// initConfig загружает конфиг из файла YAML. Если файл не найден, возвращается config.Default().
func initConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("SGROUTER_ADVERTISE"); v != "" {
		cfg.Server.Advertise = v
	}
	return cfg, nil
}

// initLogger настраивает глобальный slog.Logger (JSON или текстовый).
func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{AddSource: true, Level: cfg.Logger.SlogLevel()}
	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
}
