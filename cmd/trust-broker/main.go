// Точка входа trust-broker — провижининг M2M-клиентов в Keycloak
// и resource-сервер с проверкой токенов через интроспекцию.
// Загружает конфигурацию, применяет миграции и подключается к PostgreSQL
// (если реестр включён), инициализирует realm, запускает topologymetrics
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/m2m-trust/internal/admin"
	"github.com/bigkaa/m2m-trust/internal/api/handlers"
	"github.com/bigkaa/m2m-trust/internal/api/middleware"
	"github.com/bigkaa/m2m-trust/internal/config"
	"github.com/bigkaa/m2m-trust/internal/database"
	"github.com/bigkaa/m2m-trust/internal/introspect"
	"github.com/bigkaa/m2m-trust/internal/keycloak"
	"github.com/bigkaa/m2m-trust/internal/provision"
	"github.com/bigkaa/m2m-trust/internal/repository"
	"github.com/bigkaa/m2m-trust/internal/server"
	"github.com/bigkaa/m2m-trust/internal/service"
)

const serviceName = "trust-broker"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.LoadBroker()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg.Logging)
	logger.Info("trust-broker запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("realm", cfg.Realm),
	)

	ctx := context.Background()

	// 3. Keycloak клиент
	kcClient := keycloak.New(cfg.KeycloakURL, &http.Client{Timeout: cfg.ProviderTimeout}, logger)
	logger.Info("Keycloak клиент создан", slog.String("url", cfg.KeycloakURL))

	sessions := admin.NewSessionManager(
		kcClient,
		admin.Credentials{
			ClientID: cfg.AdminClientID,
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
		},
		admin.RetryPolicy{Attempts: cfg.AdminLoginRetries, Backoff: cfg.AdminLoginBackoff},
		admin.RetryPolicy{Attempts: cfg.AdminReauthRetries, Backoff: cfg.AdminReauthBackoff},
		cfg.ProviderTimeout,
		logger,
	)

	// 4. Реестр выданных клиентов (опционально)
	var (
		registry provision.Registry
		pgDB     *sql.DB
		checks   = []handlers.Check{{Name: "keycloak", Checker: kcClient.NewReadinessChecker(cfg.Realm)}}
	)
	if cfg.DB != nil {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg.DB, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg.DB, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		registry = repository.NewProvisionedClientRepository(pool)
		checks = append(checks, handlers.Check{Name: "postgresql", Checker: database.NewReadinessChecker(pool)})
	} else {
		logger.Info("Реестр клиентов отключён (TB_DB_HOST не задан)")
	}

	// 5. Сервис провижининга
	provisioning := provision.NewService(
		sessions,
		kcClient,
		kcClient,
		registry,
		provision.Config{
			Realm:                cfg.Realm,
			ResourceClientID:     cfg.ResourceClientID,
			ResourceClientSecret: cfg.ResourceClientSecret,
			Grants:               cfg.Grants,
			ExistingClientPolicy: provision.ExistingClientPolicy(cfg.ExistingClientPolicy),
		},
		logger,
	)

	if cfg.InitOnStart {
		if result, initErr := provisioning.Initialize(ctx); initErr != nil {
			// Keycloak может стартовать позже: инициализация повторяется через POST /api/v1/init
			logger.Warn("Инициализация realm при старте не выполнена",
				slog.String("error", initErr.Error()),
			)
		} else {
			logger.Info("Realm инициализирован",
				slog.String("realm", result.Realm),
				slog.Bool("realm_created", result.RealmCreated),
				slog.Bool("resource_client_created", result.ResourceClientCreated),
			)
		}
	}

	// 6. Проверка входящих токенов
	var validatorOpts []introspect.Option
	if cfg.JWKSPrecheck {
		kf, kfErr := introspect.NewJWKSKeyfunc(cfg.JWKSURL, &http.Client{Timeout: cfg.ProviderTimeout}, cfg.JWKSRefreshInterval, logger)
		if kfErr != nil {
			logger.Error("Ошибка создания JWKS keyfunc", slog.String("error", kfErr.Error()))
			os.Exit(1)
		}
		validatorOpts = append(validatorOpts, introspect.WithSignatureCheck(kf.Keyfunc, cfg.JWTIssuer, 0))
		logger.Info("Проверка подписи JWT включена",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}
	validator := introspect.New(kcClient, introspect.Config{
		Realm:        cfg.Realm,
		ClientID:     cfg.ResourceClientID,
		ClientSecret: cfg.ResourceClientSecret,
		RequiredRole: cfg.RequiredRole,
		CacheTTL:     cfg.IntrospectionCacheTTL,
		CacheSize:    cfg.IntrospectionCacheSize,
	}, logger, validatorOpts...)

	// 7. topologymetrics — мониторинг зависимостей
	depCfg := service.DephealthConfig{
		ServiceID:     serviceName,
		Group:         cfg.DephealthGroup,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
		HTTP: []service.HTTPDependency{{
			Name:     "keycloak",
			URL:      kcClient.IssuerURL(cfg.Realm) + "/.well-known/openid-configuration",
			Critical: true,
		}},
	}
	if pgDB != nil {
		depCfg.Postgres = &service.PostgresDependency{DB: pgDB, ConnURL: cfg.DB.URL()}
	}
	dephealthSvc := startDephealth(ctx, depCfg, logger)

	// 8. Аутентификация административного API
	auth := server.BrokerAuth{
		AdminClientID: cfg.APIAuthClientID,
		AdminRole:     cfg.APIAuthRole,
		Resource:      middleware.NewBearerAuth(validator, logger),
		RequiredScope: cfg.RequiredScope,
	}
	if cfg.APIAuthEnabled {
		kf, kfErr := introspect.NewJWKSKeyfunc(cfg.APIAuthJWKSURL, &http.Client{Timeout: cfg.ProviderTimeout}, cfg.JWKSRefreshInterval, logger)
		if kfErr != nil {
			logger.Error("Ошибка создания JWKS keyfunc операторов", slog.String("error", kfErr.Error()))
			os.Exit(1)
		}
		auth.Admin = middleware.NewJWTAuth(kf, cfg.APIAuthIssuer, cfg.APIAuthLeeway, logger)
		logger.Info("Аутентификация административного API включена",
			slog.String("issuer", cfg.APIAuthIssuer),
			slog.String("client_id", cfg.APIAuthClientID),
			slog.String("role", cfg.APIAuthRole),
		)
	} else {
		logger.Warn("Административный API без аутентификации (TB_API_AUTH_ENABLED=false)")
	}

	// 9. HTTP-сервер
	router, err := server.NewBrokerRouter(
		handlers.NewBrokerHandler(provisioning, handlers.NewHealthHandler(serviceName, checks...), cfg.ResourceName, logger),
		auth,
		logger,
	)
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
	logger.Info("trust-broker остановлен")
}

// startDephealth запускает мониторинг зависимостей.
// Ошибка topologymetrics не останавливает сервис.
func startDephealth(ctx context.Context, cfg service.DephealthConfig, logger *slog.Logger) *service.DephealthService {
	if os.Getenv("TB_DEPHEALTH_GROUP") == "" {
		logger.Warn("TB_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.Group),
		)
	}

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
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.Group),
		slog.String("check_interval", cfg.CheckInterval.String()),
	)
	return ds
}
