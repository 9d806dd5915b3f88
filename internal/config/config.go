// Пакет config — загрузка и валидация конфигурации trust-broker (TB_*)
// и trust-consumer (CN_*) из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Logging — параметры логирования, общие для обоих бинарников.
type Logging struct {
	// Уровень логирования (debug, info, warn, error)
	Level slog.Level
	// Формат логов (json, text)
	Format string
}

// Server — параметры HTTP-сервера, общие для обоих бинарников.
type Server struct {
	// Порт HTTP-сервера
	Port int
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Группа приложения в метриках topologymetrics
	DephealthGroup string
	// Пометка isentry=yes для зависимостей (точка входа в граф)
	DephealthIsEntry bool
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// loadLogging читает <prefix>LOG_LEVEL и <prefix>LOG_FORMAT.
func loadLogging(prefix string) (Logging, error) {
	var l Logging
	var err error

	// LOG_LEVEL — уровень логирования (по умолчанию info)
	l.Level, err = parseLogLevel(getEnvDefault(prefix+"LOG_LEVEL", "info"))
	if err != nil {
		return l, fmt.Errorf("%sLOG_LEVEL: %w", prefix, err)
	}

	// LOG_FORMAT — формат логов (по умолчанию json)
	l.Format = getEnvDefault(prefix+"LOG_FORMAT", "json")
	if l.Format != "json" && l.Format != "text" {
		return l, fmt.Errorf("%sLOG_FORMAT: недопустимое значение %q, допустимые: json, text", prefix, l.Format)
	}
	return l, nil
}

// loadServer читает порт, интервал dephealth и таймаут shutdown.
func loadServer(prefix string, defaultPort int) (Server, error) {
	var s Server
	var err error

	s.Port, err = getEnvInt(prefix+"PORT", defaultPort)
	if err != nil {
		return s, fmt.Errorf("%sPORT: %w", prefix, err)
	}
	if s.Port < 1 || s.Port > 65535 {
		return s, fmt.Errorf("%sPORT: значение %d вне допустимого диапазона 1-65535", prefix, s.Port)
	}

	s.DephealthCheckInterval, err = getEnvDuration(prefix+"DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return s, fmt.Errorf("%sDEPHEALTH_CHECK_INTERVAL: %w", prefix, err)
	}

	s.DephealthGroup = getEnvDefault(prefix+"DEPHEALTH_GROUP", "m2m-trust")

	s.DephealthIsEntry, err = getEnvBool(prefix+"DEPHEALTH_ISENTRY", false)
	if err != nil {
		return s, fmt.Errorf("%sDEPHEALTH_ISENTRY: %w", prefix, err)
	}

	s.ShutdownTimeout, err = getEnvDuration(prefix+"SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return s, fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", prefix, err)
	}
	return s, nil
}

// SetupLogger настраивает глобальный slog-логгер.
func SetupLogger(l Logging) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: l.Level,
	}

	var handler slog.Handler
	if l.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// validateBaseURL проверяет абсолютный http(s) URL и убирает trailing slash.
func validateBaseURL(key, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%s: ожидается абсолютный http(s) URL, получено %q", key, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}
