// Пакет resclient — HTTP-клиент потребителя для вызова защищённого ресурса
// trust-broker с bearer-токеном из кэша.
// Поддерживает TLS с кастомным CA (CN_RESOURCE_CA_CERT_PATH).
package resclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// ProtectedPath — путь защищённого ресурса на trust-broker.
const ProtectedPath = "/api/v1/protected-resource"

// TokenSource — источник access-токенов. Реализуется *tokencache.Cache.
type TokenSource interface {
	Token(ctx context.Context) (*model.AccessToken, error)
	Invalidate()
}

// ProtectedData — полезная нагрузка защищённого ресурса.
type ProtectedData struct {
	Timestamp time.Time `json:"timestamp"`
	Resource  string    `json:"resource"`
	ClientID  string    `json:"clientId"`
}

// ProtectedResponse — ответ GET /api/v1/protected-resource.
type ProtectedResponse struct {
	Message string        `json:"message"`
	Data    ProtectedData `json:"data"`
}

// Client — HTTP-клиент защищённого ресурса.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// New создаёт клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, timeout time.Duration, tokens TokenSource, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата resource-сервера: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат resource-сервера добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger.With(slog.String("component", "resource_client")),
	}, nil
}

// BaseURL возвращает URL resource-сервера.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient возвращает HTTP-клиент (используется проверкой зависимостей).
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("в %s нет PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// CallProtected вызывает защищённый ресурс с токеном из кэша.
// Ответ 401 означает, что кэшированный токен отозван: кэш сбрасывается,
// и запрос повторяется один раз с новым токеном.
func (c *Client) CallProtected(ctx context.Context) (*ProtectedResponse, error) {
	resp, err := c.callProtected(ctx)
	if err == nil || !isUpstreamStatus(err, http.StatusUnauthorized) {
		return resp, err
	}

	c.logger.Info("Resource-сервер отклонил токен, повтор с новым токеном")
	c.tokens.Invalidate()
	return c.callProtected(ctx)
}

func (c *Client) callProtected(ctx context.Context) (*ProtectedResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена для resource-сервера: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ProtectedPath, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к resource-серверу: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewUpstreamError(0, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("Resource-сервер вернул ошибку",
			slog.Int("status", resp.StatusCode),
		)
		return nil, errs.NewUpstreamError(resp.StatusCode, body, nil)
	}

	var out ProtectedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.NewUpstreamError(resp.StatusCode, nil, fmt.Errorf("декодирование ответа: %w", err))
	}
	return &out, nil
}

func isUpstreamStatus(err error, status int) bool {
	var ue *errs.UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == status
}

// --- Readiness checker ---

// LivenessPath — liveness probe trust-broker.
const LivenessPath = "/health/live"

// ReadinessChecker проверяет доступность resource-сервера.
// Реализует handlers.ReadinessChecker.
type ReadinessChecker struct {
	client *Client
}

// NewReadinessChecker создаёт проверку готовности resource-сервера.
func (c *Client) NewReadinessChecker() *ReadinessChecker {
	return &ReadinessChecker{client: c}
}

// CheckReady выполняет GET {baseURL}/health/live.
func (r *ReadinessChecker) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.client.baseURL+LivenessPath, nil)
	if err != nil {
		return "fail", err.Error()
	}

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("resource-сервер недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("resource-сервер вернул статус %d", resp.StatusCode)
	}
	return "ok", "resource-сервер доступен"
}
