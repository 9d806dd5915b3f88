// consumer.go — обработчики API trust-consumer, реализующие consumerapi.ServerInterface:
// учётные данные клиента, проверка получения токена, вызов защищённого ресурса.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/m2m-trust/internal/api/errors"
	"github.com/bigkaa/m2m-trust/internal/api/generated/consumerapi"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
	"github.com/bigkaa/m2m-trust/internal/resclient"
)

// TokenStore — кэш токенов с учётными данными. Реализуется *tokencache.Cache.
type TokenStore interface {
	Token(ctx context.Context) (*model.AccessToken, error)
	SetCredentials(creds model.Credentials) error
	Credentials() model.Credentials
}

// ResourceCaller вызывает защищённый ресурс. Реализуется *resclient.Client.
type ResourceCaller interface {
	CallProtected(ctx context.Context) (*resclient.ProtectedResponse, error)
}

// ConsumerHandler — обработчик API trust-consumer.
type ConsumerHandler struct {
	health   *HealthHandler
	tokens   TokenStore
	resource ResourceCaller
	logger   *slog.Logger
}

var _ consumerapi.ServerInterface = (*ConsumerHandler)(nil)

// NewConsumerHandler создаёт обработчик.
func NewConsumerHandler(tokens TokenStore, resource ResourceCaller, health *HealthHandler, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		health:   health,
		tokens:   tokens,
		resource: resource,
		logger:   logger.With(slog.String("component", "consumer_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *ConsumerHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *ConsumerHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *ConsumerHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetStatus — GET /api/v1/health.
func (h *ConsumerHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, consumerapi.StatusResponse{Status: "ok", Message: "Trust consumer is running"})
}

// GetCredentials — GET /api/v1/credentials. Секрет маскируется.
func (h *ConsumerHandler) GetCredentials(w http.ResponseWriter, _ *http.Request) {
	masked := h.tokens.Credentials().Masked()
	writeJSON(w, http.StatusOK, consumerapi.MaskedCredentials{
		ClientId:     masked.ClientID,
		ClientSecret: masked.ClientSecret,
		TokenUrl:     masked.TokenURL,
		Configured:   masked.Configured,
	})
}

// SetCredentials — POST /api/v1/credentials. Заменяет учётные данные
// целиком и сбрасывает кэшированный токен.
func (h *ConsumerHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var req consumerapi.SetCredentialsJSONRequestBody
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	err := h.tokens.SetCredentials(model.Credentials{
		ClientID:     req.ClientId,
		ClientSecret: req.ClientSecret,
		TokenURL:     req.TokenUrl,
	})
	if err != nil {
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, consumerapi.SuccessResponse{Success: true, Message: "Учётные данные обновлены"})
}

// GetTestToken — GET /api/v1/test-token. Возвращает только начало токена.
func (h *ConsumerHandler) GetTestToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.tokens.Token(r.Context())
	if err != nil {
		h.logger.Warn("Не удалось получить токен", slog.String("error", err.Error()))
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, consumerapi.TestTokenResponse{
		Success: true,
		Message: "Токен получен",
		TokenInfo: consumerapi.TokenInfo{
			Token:     tok.Preview(),
			ExpiresAt: tok.ExpiresAt.UTC(),
		},
	})
}

// CallProtectedResource — GET /api/v1/call-protected-resource.
func (h *ConsumerHandler) CallProtectedResource(w http.ResponseWriter, r *http.Request) {
	resp, err := h.resource.CallProtected(r.Context())
	if err != nil {
		h.logger.Warn("Ошибка вызова защищённого ресурса", slog.String("error", err.Error()))
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, consumerapi.CallProtectedResponse{
		Success: true,
		Message: "Защищённый ресурс вызван",
		Data: consumerapi.ProtectedResource{
			Message: resp.Message,
			Data: consumerapi.ProtectedResourceData{
				Timestamp: resp.Data.Timestamp,
				Resource:  resp.Data.Resource,
				ClientId:  resp.Data.ClientID,
			},
		},
	})
}
