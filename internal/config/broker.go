package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// DefaultGrantRole — роль, выдаваемая клиентам, если набор ролей не настроен.
const DefaultGrantRole = "access-protected-resource"

// Broker содержит параметры конфигурации trust-broker.
type Broker struct {
	Logging
	Server

	// --- PostgreSQL (реестр клиентов, опционально) ---

	// DB — параметры подключения; nil, если TB_DB_HOST не задан
	DB *Database

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.example.com)
	KeycloakURL string
	// Realm, в котором выдаются клиенты
	Realm string
	// Client ID для административного входа в master (по умолчанию admin-cli)
	AdminClientID string
	// Логин администратора master realm
	AdminUsername string
	// Пароль администратора master realm
	AdminPassword string
	// Попытки и пауза административного входа при старте сценария
	AdminLoginRetries int
	AdminLoginBackoff time.Duration
	// Попытки и пауза реаутентификации после 401
	AdminReauthRetries int
	AdminReauthBackoff time.Duration
	// Таймаут одного запроса к Keycloak
	ProviderTimeout time.Duration

	// --- Resource-сервер ---

	// Client ID resource-клиента (владельца ролей и интроспекции)
	ResourceClientID string
	// Секрет resource-клиента
	ResourceClientSecret string
	// Имя ресурса в ответе защищённого endpoint
	ResourceName string
	// Роль resource-клиента, обязательная для доступа (пусто — не проверяется)
	RequiredRole string
	// Scope токена, обязательный для доступа (пусто — не проверяется)
	RequiredScope string

	// --- Аутентификация административного API ---

	// Проверять JWT оператора на /api/v1/init и /api/v1/clients*
	APIAuthEnabled bool
	// Realm, выпускающий токены операторов (по умолчанию — Realm)
	APIAuthRealm string
	// Issuer и JWKS URL токенов операторов (вычисляются из APIAuthRealm)
	APIAuthIssuer  string
	APIAuthJWKSURL string
	// Клиент-владелец и имя роли, обязательной для оператора
	APIAuthClientID string
	APIAuthRole     string
	// Допустимое отклонение часов при проверке exp
	APIAuthLeeway time.Duration

	// --- Провижининг ---

	// Роли, выдаваемые каждому клиенту
	Grants []model.RoleGrant
	// Поведение для существующего клиента: conflict, rotate, keep
	ExistingClientPolicy string
	// Инициализировать realm при старте
	InitOnStart bool

	// --- Проверка токенов ---

	// Локальная проверка подписи JWT по JWKS перед интроспекцией
	JWKSPrecheck bool
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWKSURL string
	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// TTL кэша результатов интроспекции (0 — кэш выключен)
	IntrospectionCacheTTL time.Duration
	// Размер кэша результатов интроспекции
	IntrospectionCacheSize int
}

// grantsFile — формат TB_GRANTS_FILE.
type grantsFile struct {
	Grants []model.RoleGrant `yaml:"grants"`
}

// LoadBroker загружает конфигурацию trust-broker из переменных окружения.
func LoadBroker() (*Broker, error) {
	cfg := &Broker{}
	var err error

	if cfg.Logging, err = loadLogging("TB_"); err != nil {
		return nil, err
	}
	if cfg.Server, err = loadServer("TB_", 8080); err != nil {
		return nil, err
	}

	// --- PostgreSQL ---

	if cfg.DB, err = loadDatabase("TB_"); err != nil {
		return nil, err
	}

	// --- Keycloak ---

	// TB_KEYCLOAK_URL — обязательный
	raw, err := getEnvRequired("TB_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	if cfg.KeycloakURL, err = validateBaseURL("TB_KEYCLOAK_URL", raw); err != nil {
		return nil, err
	}

	// TB_KEYCLOAK_REALM — обязательный; master для выдачи клиентов не используется
	if cfg.Realm, err = getEnvRequired("TB_KEYCLOAK_REALM"); err != nil {
		return nil, err
	}
	if cfg.Realm == model.MasterRealm {
		return nil, fmt.Errorf("TB_KEYCLOAK_REALM: realm %q нельзя использовать для выдачи клиентов", model.MasterRealm)
	}

	cfg.AdminClientID = getEnvDefault("TB_KEYCLOAK_ADMIN_CLIENT_ID", "admin-cli")

	if cfg.AdminUsername, err = getEnvRequired("TB_KEYCLOAK_ADMIN_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.AdminPassword, err = getEnvRequired("TB_KEYCLOAK_ADMIN_PASSWORD"); err != nil {
		return nil, err
	}

	if cfg.AdminLoginRetries, err = getEnvInt("TB_ADMIN_LOGIN_RETRIES", 10); err != nil {
		return nil, fmt.Errorf("TB_ADMIN_LOGIN_RETRIES: %w", err)
	}
	if cfg.AdminLoginBackoff, err = getEnvDuration("TB_ADMIN_LOGIN_BACKOFF", 3*time.Second); err != nil {
		return nil, fmt.Errorf("TB_ADMIN_LOGIN_BACKOFF: %w", err)
	}
	if cfg.AdminReauthRetries, err = getEnvInt("TB_ADMIN_REAUTH_RETRIES", 3); err != nil {
		return nil, fmt.Errorf("TB_ADMIN_REAUTH_RETRIES: %w", err)
	}
	if cfg.AdminReauthBackoff, err = getEnvDuration("TB_ADMIN_REAUTH_BACKOFF", time.Second); err != nil {
		return nil, fmt.Errorf("TB_ADMIN_REAUTH_BACKOFF: %w", err)
	}
	if cfg.AdminLoginRetries < 1 || cfg.AdminReauthRetries < 1 {
		return nil, fmt.Errorf("TB_ADMIN_LOGIN_RETRIES, TB_ADMIN_REAUTH_RETRIES: требуется хотя бы одна попытка")
	}

	if cfg.ProviderTimeout, err = getEnvDuration("TB_PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("TB_PROVIDER_TIMEOUT: %w", err)
	}

	// --- Resource-сервер ---

	if cfg.ResourceClientID, err = getEnvRequired("TB_RESOURCE_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.ResourceClientSecret, err = getEnvRequired("TB_RESOURCE_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	cfg.ResourceName = getEnvDefault("TB_RESOURCE_NAME", "protected-api")
	cfg.RequiredRole = os.Getenv("TB_REQUIRED_ROLE")
	cfg.RequiredScope = os.Getenv("TB_REQUIRED_SCOPE")

	// --- Провижининг ---

	if cfg.Grants, err = loadGrants(); err != nil {
		return nil, err
	}

	cfg.ExistingClientPolicy = getEnvDefault("TB_EXISTING_CLIENT_POLICY", "conflict")
	switch cfg.ExistingClientPolicy {
	case "conflict", "rotate", "keep":
	default:
		return nil, fmt.Errorf("TB_EXISTING_CLIENT_POLICY: недопустимое значение %q, допустимые: conflict, rotate, keep", cfg.ExistingClientPolicy)
	}

	if cfg.InitOnStart, err = getEnvBool("TB_INIT_ON_START", true); err != nil {
		return nil, fmt.Errorf("TB_INIT_ON_START: %w", err)
	}

	// --- Проверка токенов ---

	if cfg.JWKSPrecheck, err = getEnvBool("TB_JWKS_PRECHECK", false); err != nil {
		return nil, fmt.Errorf("TB_JWKS_PRECHECK: %w", err)
	}

	// TB_JWT_ISSUER, TB_JWKS_URL — авто-вычисляются из KeycloakURL, если не заданы
	cfg.JWTIssuer = getEnvDefault("TB_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.Realm))
	cfg.JWKSURL = getEnvDefault("TB_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.Realm))

	if cfg.JWKSRefreshInterval, err = getEnvDuration("TB_JWKS_REFRESH_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("TB_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.IntrospectionCacheTTL, err = getEnvDuration("TB_INTROSPECTION_CACHE_TTL", 0); err != nil {
		return nil, fmt.Errorf("TB_INTROSPECTION_CACHE_TTL: %w", err)
	}
	if cfg.IntrospectionCacheSize, err = getEnvInt("TB_INTROSPECTION_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("TB_INTROSPECTION_CACHE_SIZE: %w", err)
	}
	if cfg.IntrospectionCacheSize < 1 {
		return nil, fmt.Errorf("TB_INTROSPECTION_CACHE_SIZE: значение %d должно быть положительным", cfg.IntrospectionCacheSize)
	}

	if err := loadAPIAuth(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadAPIAuth читает параметры аутентификации административного API.
func loadAPIAuth(cfg *Broker) error {
	var err error
	if cfg.APIAuthEnabled, err = getEnvBool("TB_API_AUTH_ENABLED", true); err != nil {
		return fmt.Errorf("TB_API_AUTH_ENABLED: %w", err)
	}
	if !cfg.APIAuthEnabled {
		return nil
	}

	cfg.APIAuthRealm = getEnvDefault("TB_API_AUTH_REALM", cfg.Realm)
	cfg.APIAuthIssuer = getEnvDefault("TB_API_AUTH_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.APIAuthRealm))
	cfg.APIAuthJWKSURL = getEnvDefault("TB_API_AUTH_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.APIAuthRealm))
	cfg.APIAuthClientID = getEnvDefault("TB_API_AUTH_CLIENT_ID", "trust-broker")
	cfg.APIAuthRole = getEnvDefault("TB_API_AUTH_ROLE", "provisioner")
	if cfg.APIAuthLeeway, err = getEnvDuration("TB_API_AUTH_LEEWAY", 5*time.Second); err != nil {
		return fmt.Errorf("TB_API_AUTH_LEEWAY: %w", err)
	}

	// Роль resource-клиента из набора выдачи получает каждый новый клиент
	if cfg.APIAuthRealm == cfg.Realm && cfg.APIAuthClientID == cfg.ResourceClientID {
		for _, g := range cfg.Grants {
			if g.Name == cfg.APIAuthRole {
				return fmt.Errorf("TB_API_AUTH_ROLE: роль %q выдаётся всем клиентам (TB_GRANT_ROLES) и не может защищать административный API", g.Name)
			}
		}
	}
	return nil
}

// loadGrants читает набор ролей: TB_GRANTS_FILE (YAML) имеет приоритет
// над TB_GRANT_ROLES (CSV "name[:description]").
func loadGrants() ([]model.RoleGrant, error) {
	if path := os.Getenv("TB_GRANTS_FILE"); path != "" {
		grants, err := readGrantsFile(path)
		if err != nil {
			return nil, fmt.Errorf("TB_GRANTS_FILE: %w", err)
		}
		return grants, nil
	}

	items := parseCSV(getEnvDefault("TB_GRANT_ROLES", DefaultGrantRole))
	grants := make([]model.RoleGrant, 0, len(items))
	for _, item := range items {
		name, desc, _ := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("TB_GRANT_ROLES: пустое имя роли в %q", item)
		}
		grants = append(grants, model.RoleGrant{Name: name, Description: strings.TrimSpace(desc)})
	}
	return grants, nil
}

func readGrantsFile(path string) ([]model.RoleGrant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла: %w", err)
	}

	var f grantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("разбор YAML: %w", err)
	}

	seen := make(map[string]bool, len(f.Grants))
	for i, g := range f.Grants {
		if strings.TrimSpace(g.Name) == "" {
			return nil, fmt.Errorf("роль #%d: name обязателен", i+1)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("роль %q указана дважды", g.Name)
		}
		seen[g.Name] = true
	}
	return f.Grants, nil
}
