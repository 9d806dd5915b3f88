// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// trust-broker мониторит:
//   - Keycloak — HTTP checker к OIDC discovery realm (critical)
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode),
//     только если реестр клиентов включён
//
// trust-consumer мониторит:
//   - trust-broker (защищённый ресурс) — HTTP checker к /health/live (critical)
//   - Keycloak token endpoint — HTTP checker к OIDC discovery (не critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPDependency — зависимость, проверяемая HTTP GET запросом.
type HTTPDependency struct {
	// Name — имя зависимости в метриках
	Name string
	// URL — базовый URL зависимости
	URL string
	// HealthPath — путь проверки; пусто — path из URL
	HealthPath string
	// Critical — недоступность зависимости критична для сервиса
	Critical bool
}

// PostgresDependency — PostgreSQL в connection pool mode.
type PostgresDependency struct {
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// ConnURL — URL подключения (для метрик/лейблов, не для подключения)
	ConnURL string
}

// DephealthConfig — параметры мониторинга.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения (trust-broker, trust-consumer)
	ServiceID string
	// Group — имя группы в метриках (<PREFIX>DEPHEALTH_GROUP)
	Group string
	// CheckInterval — интервал проверки (<PREFIX>DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry — добавляет лейбл isentry=yes ко всем зависимостям
	IsEntry bool
	// Postgres — nil, если база данных не используется
	Postgres *PostgresDependency
	// HTTP — HTTP-зависимости
	HTTP []HTTPDependency
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	opts := make([]dephealth.Option, 0, 2+len(cfg.HTTP)+len(extraOpts))
	opts = append(opts, dephealth.WithLogger(logger))

	if cfg.Postgres != nil {
		pgOpts := append(commonOptions(cfg, true), dephealth.FromURL(cfg.Postgres.ConnURL))
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.Postgres.DB)), pgOpts...))
	}

	for _, dep := range cfg.HTTP {
		opts = append(opts, dephealth.HTTP(dep.Name, httpOptions(cfg, dep)...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// commonOptions — интервал, критичность и лейбл isentry.
func commonOptions(cfg DephealthConfig, critical bool) []dephealth.DependencyOption {
	opts := []dephealth.DependencyOption{
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(critical),
	}
	if cfg.IsEntry {
		opts = append(opts, dephealth.WithLabel("isentry", "yes"))
	}
	return opts
}

func httpOptions(cfg DephealthConfig, dep HTTPDependency) []dephealth.DependencyOption {
	opts := append(commonOptions(cfg, dep.Critical),
		dephealth.FromURL(dep.URL),
		dephealth.WithHTTPHealthPath(healthPath(dep)),
	)
	// Для https проверяем сертификат
	if parsed, err := url.Parse(dep.URL); err == nil && parsed.Scheme == "https" {
		opts = append(opts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	return opts
}

// healthPath — явный HealthPath, иначе path самого URL, иначе /health.
func healthPath(dep HTTPDependency) string {
	if dep.HealthPath != "" {
		return dep.HealthPath
	}
	if parsed, err := url.Parse(dep.URL); err == nil && parsed.Path != "" && parsed.Path != "/" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
