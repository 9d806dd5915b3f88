// Пакет introspect — проверка входящих bearer-токенов через RFC 7662
// интроспекцию на стороне resource-сервера.
//
// Неактивный или пустой токен — ErrTokenInvalid (401). Недоступность
// introspection endpoint — *errs.ProviderError (502): такая ошибка никогда
// не трактуется как успешная авторизация.
package introspect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
	"github.com/bigkaa/m2m-trust/internal/keycloak"
)

// resultsTotal — результаты проверки токенов.
var resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tb_introspection_results_total",
	Help: "Результаты проверки bearer-токенов (active/inactive/forbidden/error/cached)",
}, []string{"result"})

// defaultCacheSize — размер LRU кэша результатов по умолчанию.
const defaultCacheSize = 1024

// Introspector выполняет RFC 7662 интроспекцию. Реализуется *keycloak.Client.
type Introspector interface {
	Introspect(ctx context.Context, realm, token, clientID, clientSecret string) (*keycloak.IntrospectionResponse, error)
}

// Config — параметры проверки токенов.
type Config struct {
	// Realm — realm resource-сервера
	Realm string
	// ClientID, ClientSecret — учётные данные resource-клиента для интроспекции
	ClientID     string
	ClientSecret string
	// RequiredRole — роль resource-клиента, обязательная для доступа (пусто — не проверяется)
	RequiredRole string
	// CacheTTL — время хранения положительных результатов (0 — кэш выключен)
	CacheTTL time.Duration
	// CacheSize — максимальное число записей кэша
	CacheSize int
}

// Validator проверяет bearer-токены.
type Validator struct {
	kc      Introspector
	cfg     Config
	keyfunc jwt.Keyfunc
	issuer  string
	leeway  time.Duration
	cache   *expirable.LRU[string, *model.Introspection]
	now     func() time.Time
	logger  *slog.Logger
}

// Option — опция Validator.
type Option func(*Validator)

// WithSignatureCheck включает локальную проверку подписи JWT (RS256) по JWKS
// realm до обращения к introspection endpoint.
func WithSignatureCheck(kf jwt.Keyfunc, issuer string, leeway time.Duration) Option {
	return func(v *Validator) {
		v.keyfunc = kf
		v.issuer = issuer
		v.leeway = leeway
	}
}

// New создаёт Validator.
func New(kc Introspector, cfg Config, logger *slog.Logger, opts ...Option) *Validator {
	v := &Validator{
		kc:     kc,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "token_introspector")),
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = defaultCacheSize
		}
		v.cache = expirable.NewLRU[string, *model.Introspection](size, nil, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate проверяет токен и возвращает его метаданные.
func (v *Validator) Validate(ctx context.Context, bearerToken string) (*model.Introspection, error) {
	token := strings.TrimSpace(bearerToken)
	if token == "" {
		resultsTotal.WithLabelValues("inactive").Inc()
		return nil, fmt.Errorf("%w: пустой токен", errs.ErrTokenInvalid)
	}

	if v.keyfunc != nil {
		if err := v.checkSignature(token); err != nil {
			resultsTotal.WithLabelValues("inactive").Inc()
			v.logger.Debug("Подпись токена не прошла проверку", slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: подпись или срок действия", errs.ErrTokenInvalid)
		}
	}

	key := cacheKey(token)
	if info, ok := v.cached(key); ok {
		resultsTotal.WithLabelValues("cached").Inc()
		return info, nil
	}

	ir, err := v.kc.Introspect(ctx, v.cfg.Realm, token, v.cfg.ClientID, v.cfg.ClientSecret)
	if err != nil {
		resultsTotal.WithLabelValues("error").Inc()
		v.logger.Error("Интроспекция недоступна", slog.String("error", err.Error()))
		return nil, fmt.Errorf("интроспекция токена: %w", err)
	}
	if !ir.Active {
		resultsTotal.WithLabelValues("inactive").Inc()
		return nil, fmt.Errorf("%w: токен неактивен", errs.ErrTokenInvalid)
	}

	info := &model.Introspection{
		Active:        true,
		ClientID:      ir.SubjectClientID(),
		Subject:       ir.Subject,
		Scope:         ir.Scope,
		Username:      ir.Username,
		ExpiresAt:     ir.ExpiresAt(),
		ResourceRoles: ir.ClientRoles(),
	}

	if err := v.authorize(info); err != nil {
		resultsTotal.WithLabelValues("forbidden").Inc()
		return nil, err
	}

	if v.cache != nil {
		v.cache.Add(key, info)
	}
	resultsTotal.WithLabelValues("active").Inc()
	return info, nil
}

// authorize проверяет обязательную роль resource-клиента.
func (v *Validator) authorize(info *model.Introspection) error {
	if v.cfg.RequiredRole == "" || info.HasClientRole(v.cfg.ClientID, v.cfg.RequiredRole) {
		return nil
	}
	return fmt.Errorf("%w: требуется роль %s", errs.ErrForbidden, v.cfg.RequiredRole)
}

// cached возвращает результат из кэша, если токен ещё не истёк.
func (v *Validator) cached(key string) (*model.Introspection, bool) {
	if v.cache == nil {
		return nil, false
	}
	info, ok := v.cache.Get(key)
	if !ok {
		return nil, false
	}
	if !info.ExpiresAt.IsZero() && !v.now().Before(info.ExpiresAt) {
		v.cache.Remove(key)
		return nil, false
	}
	return info, true
}

func (v *Validator) checkSignature(token string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.Parse(token, v.keyfunc, opts...)
	return err
}

// cacheKey — SHA-256 токена; сам токен в кэше не хранится.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
