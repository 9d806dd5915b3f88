// Точка входа trust-consumer — потребитель, получающий токен через
// client credentials grant и вызывающий защищённый ресурс trust-broker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/m2m-trust/internal/api/handlers"
	"github.com/bigkaa/m2m-trust/internal/config"
	"github.com/bigkaa/m2m-trust/internal/resclient"
	"github.com/bigkaa/m2m-trust/internal/server"
	"github.com/bigkaa/m2m-trust/internal/service"
	"github.com/bigkaa/m2m-trust/internal/tokencache"
)

const serviceName = "trust-consumer"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.LoadConsumer()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg.Logging)
	logger.Info("trust-consumer запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("resource_url", cfg.ResourceURL),
	)

	ctx := context.Background()

	// 3. Кэш токенов
	tokens := tokencache.New(&http.Client{Timeout: cfg.GrantTimeout}, cfg.GrantTimeout, logger)
	if cfg.Credentials.Configured() {
		if err := tokens.SetCredentials(cfg.Credentials); err != nil {
			logger.Error("Некорректные учётные данные клиента", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Info("Учётные данные клиента не заданы, ожидается POST /api/v1/credentials")
	}

	// 4. Клиент защищённого ресурса
	resource, err := resclient.New(cfg.ResourceURL, cfg.ResourceCACertPath, cfg.ResourceTimeout, tokens, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента resource-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. topologymetrics — мониторинг resource-сервера
	dephealthSvc := startDephealth(ctx, service.DephealthConfig{
		ServiceID:     serviceName,
		Group:         cfg.DephealthGroup,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
		HTTP: []service.HTTPDependency{{
			Name:       "trust-broker",
			URL:        cfg.ResourceURL,
			HealthPath: resclient.LivenessPath,
			Critical:   true,
		}},
	}, logger)

	// 6. HTTP-сервер
	health := handlers.NewHealthHandler(serviceName,
		handlers.Check{Name: "token-endpoint", Checker: tokens.NewReadinessChecker()},
		handlers.Check{Name: "resource-server", Checker: resource.NewReadinessChecker()},
	)
	router, err := server.NewConsumerRouter(handlers.NewConsumerHandler(tokens, resource, health, logger), logger)
	if err != nil {
		logger.Error("Ошибка создания роутера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	srv := server.New(cfg.Port, cfg.ShutdownTimeout, router, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("trust-consumer остановлен")
}

// startDephealth запускает мониторинг зависимостей.
// Ошибка topologymetrics не останавливает сервис.
func startDephealth(ctx context.Context, cfg service.DephealthConfig, logger *slog.Logger) *service.DephealthService {
	ds, err := service.NewDephealthService(cfg, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := ds.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("topologymetrics запущен", slog.String("group", cfg.Group))
	return ds
}
