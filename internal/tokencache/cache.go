// Пакет tokencache — кэш access-токена потребителя (client credentials grant).
//
// Кэш хранит не более одного токена для текущих учётных данных.
// Одновременные промахи объединяются в один запрос к token endpoint
// (singleflight); запрос выполняется на отвязанном контексте с собственным
// таймаутом, поэтому отмена одного ожидающего не прерывает остальных.
// Замена учётных данных атомарно сбрасывает токен; результат запроса,
// начатого со старыми учётными данными, в кэш не попадает.
package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// SafetySkew вычитается из expires_in, чтобы токен не истёк во время запроса.
const SafetySkew = 30 * time.Second

// Prometheus-метрики кэша токенов.
var (
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cn_token_cache_requests_total",
		Help: "Количество обращений к кэшу токенов (hit/miss)",
	}, []string{"result"})

	grantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cn_token_grants_total",
		Help: "Количество client credentials grant по результату",
	}, []string{"result"})
)

// Cache — кэш access-токена.
type Cache struct {
	httpClient   *http.Client
	grantTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	group singleflight.Group

	mu         sync.Mutex
	creds      model.Credentials
	generation uint64
	token      *model.AccessToken
}

// New создаёт пустой кэш. grantTimeout ограничивает один запрос к token endpoint.
func New(httpClient *http.Client, grantTimeout time.Duration, logger *slog.Logger) *Cache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Cache{
		httpClient:   httpClient,
		grantTimeout: grantTimeout,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "token_cache")),
	}
}

// SetCredentials заменяет учётные данные целиком и сбрасывает токен.
// Все три поля обязательны; tokenUrl — абсолютный http(s) URL.
func (c *Cache) SetCredentials(creds model.Credentials) error {
	if !creds.Configured() {
		return fmt.Errorf("%w: clientId, clientSecret и tokenUrl обязательны", errs.ErrValidation)
	}
	u, err := url.Parse(creds.TokenURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: tokenUrl должен быть абсолютным http(s) URL", errs.ErrValidation)
	}

	c.mu.Lock()
	c.creds = creds
	c.generation++
	c.token = nil
	c.mu.Unlock()

	c.logger.Info("Учётные данные обновлены",
		slog.String("client_id", creds.ClientID),
		slog.String("token_url", creds.TokenURL),
	)
	return nil
}

// Credentials возвращает текущие учётные данные.
func (c *Cache) Credentials() model.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// Invalidate сбрасывает кэшированный токен.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

// Token возвращает действующий токен из кэша или получает новый.
// Ошибка получения, в том числе истечение ctx во время ожидания, —
// *errs.TokenAcquisitionError; кэш при этом пуст.
func (c *Cache) Token(ctx context.Context) (*model.AccessToken, error) {
	c.mu.Lock()
	if c.token.Valid(c.now()) {
		tok := c.token
		c.mu.Unlock()
		cacheRequestsTotal.WithLabelValues("hit").Inc()
		return tok, nil
	}
	creds, gen := c.creds, c.generation
	c.mu.Unlock()

	if !creds.Configured() {
		return nil, fmt.Errorf("%w: учётные данные клиента не заданы", errs.ErrValidation)
	}
	cacheRequestsTotal.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.grant(creds, gen)
	})

	select {
	case <-ctx.Done():
		// Не дождались token endpoint — ошибка класса провайдера, а не внутренняя
		return nil, errs.NewTokenAcquisitionError(0, nil, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.AccessToken), nil
	}
}

// grant выполняет client credentials grant и сохраняет токен,
// если учётные данные не менялись за время запроса.
func (c *Cache) grant(creds model.Credentials, gen uint64) (*model.AccessToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.grantTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	issuedAt := c.now()
	tok, err := cfg.Token(ctx)
	if err != nil {
		grantsTotal.WithLabelValues("failure").Inc()
		c.mu.Lock()
		if c.generation == gen {
			c.token = nil
		}
		c.mu.Unlock()

		c.logger.Warn("Не удалось получить токен",
			slog.String("client_id", creds.ClientID),
			slog.String("error", err.Error()),
		)
		return nil, acquisitionError(err)
	}
	grantsTotal.WithLabelValues("success").Inc()

	at := &model.AccessToken{
		Value:     tok.AccessToken,
		ExpiresAt: expiresAt(issuedAt, tok),
		Scope:     scopeOf(tok),
	}

	c.mu.Lock()
	current := c.generation == gen
	if current {
		c.token = at
	}
	c.mu.Unlock()

	if !current {
		c.logger.Debug("Учётные данные заменены во время запроса, токен не кэшируется")
	}
	return at, nil
}

// expiresAt = момент запроса + expires_in − SafetySkew.
// Без expires_in токен считается одноразовым.
func expiresAt(issuedAt time.Time, tok *oauth2.Token) time.Time {
	if secs, ok := expiresIn(tok); ok {
		return issuedAt.Add(time.Duration(secs)*time.Second - SafetySkew)
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry.Add(-SafetySkew)
	}
	return issuedAt
}

func expiresIn(tok *oauth2.Token) (int64, bool) {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// scopeOf берёт scope из ответа token endpoint, при отсутствии — из claim
// scope самого JWT (подпись не проверяется: токен получен напрямую от провайдера).
func scopeOf(tok *oauth2.Token) string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return s
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err != nil {
		return ""
	}
	s, _ := claims["scope"].(string)
	return s
}

// acquisitionError преобразует ошибку oauth2 в TokenAcquisitionError
// со статусом и телом ответа провайдера.
func acquisitionError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return errs.NewTokenAcquisitionError(re.Response.StatusCode, re.Body, err)
	}
	return errs.NewTokenAcquisitionError(0, nil, err)
}

// --- Readiness checker ---

// ReadinessChecker проверяет доступность token endpoint текущих учётных данных.
// Реализует handlers.ReadinessChecker.
type ReadinessChecker struct {
	cache *Cache
}

// NewReadinessChecker создаёт проверку готовности token endpoint.
func (c *Cache) NewReadinessChecker() *ReadinessChecker {
	return &ReadinessChecker{cache: c}
}

// CheckReady отправляет GET на tokenUrl. Token endpoint отвечает на GET
// ошибкой клиента (405/400), и этого достаточно: сервер доступен.
// Учётные данные не заданы — degraded.
func (r *ReadinessChecker) CheckReady() (string, string) {
	creds := r.cache.Credentials()
	if !creds.Configured() {
		return "degraded", "учётные данные клиента не заданы"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.TokenURL, nil)
	if err != nil {
		return "fail", err.Error()
	}

	resp, err := r.cache.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("token endpoint недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "fail", fmt.Sprintf("token endpoint вернул статус %d", resp.StatusCode)
	}
	return "ok", "token endpoint доступен"
}
