// broker.go — обработчики API trust-broker, реализующие brokerapi.ServerInterface:
// инициализация realm, выдача клиентов, ротация секрета, защищённый ресурс.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/m2m-trust/internal/api/errors"
	"github.com/bigkaa/m2m-trust/internal/api/generated/brokerapi"
	"github.com/bigkaa/m2m-trust/internal/api/middleware"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
	"github.com/bigkaa/m2m-trust/internal/provision"
)

// Provisioning — сценарии провижининга. Реализуется *provision.Service.
type Provisioning interface {
	Initialize(ctx context.Context) (*provision.InitResult, error)
	CreateClient(ctx context.Context, req provision.CreateClientRequest) (*provision.CreateClientResult, error)
	RotateSecret(ctx context.Context, clientID string) (*provision.RotateResult, error)
	ListClients(ctx context.Context, limit, offset int) ([]*model.ProvisionedClient, int, error)
	Config() provision.ProviderConfig
}

// BrokerHandler — обработчик API trust-broker.
// Реализует brokerapi.ServerInterface.
type BrokerHandler struct {
	health       *HealthHandler
	svc          Provisioning
	resourceName string
	now          func() time.Time
	logger       *slog.Logger
}

var _ brokerapi.ServerInterface = (*BrokerHandler)(nil)

// NewBrokerHandler создаёт обработчик. resourceName — имя ресурса в ответе
// защищённого endpoint.
func NewBrokerHandler(svc Provisioning, health *HealthHandler, resourceName string, logger *slog.Logger) *BrokerHandler {
	return &BrokerHandler{
		health:       health,
		svc:          svc,
		resourceName: resourceName,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "broker_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *BrokerHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *BrokerHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *BrokerHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetStatus — GET /api/v1/health.
func (h *BrokerHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, brokerapi.StatusResponse{Status: "ok", Message: "Trust broker is running"})
}

// InitRealm — POST /api/v1/init. Повторный вызов после успешной инициализации
// ничего не меняет.
func (h *BrokerHandler) InitRealm(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Initialize(r.Context())
	if err != nil {
		h.logger.Error("Ошибка инициализации realm", slog.String("error", err.Error()))
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, brokerapi.InitResponse{
		Success:               true,
		Realm:                 result.Realm,
		RealmCreated:          result.RealmCreated,
		ResourceClientCreated: result.ResourceClientCreated,
	})
}

// GetProviderConfig — GET /api/v1/config.
func (h *BrokerHandler) GetProviderConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := h.svc.Config()
	writeJSON(w, http.StatusOK, brokerapi.ProviderConfig{
		Realm:    cfg.Realm,
		Url:      cfg.URL,
		TokenUrl: cfg.TokenURL,
	})
}

// CreateClient — POST /api/v1/clients.
// 201 для нового клиента, 200 для повторного провижининга существующего.
func (h *BrokerHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req brokerapi.CreateClientJSONRequestBody
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	var description string
	if req.Description != nil {
		description = *req.Description
	}

	result, err := h.svc.CreateClient(r.Context(), provision.CreateClientRequest{
		ClientName:  req.ClientName,
		Description: description,
	})
	if err != nil {
		h.logger.Warn("Ошибка выдачи клиента",
			slog.String("client_name", req.ClientName),
			slog.String("error", err.Error()),
		)
		apierrors.FromError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	roles := result.Roles
	if roles == nil {
		roles = []string{}
	}
	client := brokerapi.IssuedClient{
		Id:       result.Client.ID,
		ClientId: result.Client.ClientID,
	}
	if result.Client.ClientSecret != "" {
		client.ClientSecret = &result.Client.ClientSecret
	}
	writeSecretJSON(w, status, brokerapi.CreateClientResponse{
		Success:  true,
		Client:   client,
		TokenUrl: result.TokenURL,
		Created:  result.Created,
		Roles:    roles,
	})
}

// ListClients — GET /api/v1/clients?limit=&offset=.
func (h *BrokerHandler) ListClients(w http.ResponseWriter, r *http.Request, params brokerapi.ListClientsParams) {
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	items, total, err := h.svc.ListClients(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения реестра клиентов", slog.String("error", err.Error()))
		apierrors.FromError(w, err)
		return
	}

	resp := brokerapi.ClientListResponse{
		Items:   make([]brokerapi.ProvisionedClient, len(items)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
	for i, c := range items {
		resp.Items[i] = mapProvisionedClient(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// RotateClientSecret — POST /api/v1/clients/{clientId}/rotate-secret.
func (h *BrokerHandler) RotateClientSecret(w http.ResponseWriter, r *http.Request, clientID brokerapi.ClientId) {
	result, err := h.svc.RotateSecret(r.Context(), clientID)
	if err != nil {
		h.logger.Warn("Ошибка ротации секрета",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		apierrors.FromError(w, err)
		return
	}

	writeSecretJSON(w, http.StatusOK, brokerapi.RotateSecretResponse{
		Success:      true,
		ClientId:     result.ClientID,
		ClientSecret: result.ClientSecret,
		IssuedAt:     result.IssuedAt,
	})
}

// GetProtectedResource — GET /api/v1/protected-resource.
// Доступ: bearer-токен, прошедший интроспекцию (BearerAuth).
func (h *BrokerHandler) GetProtectedResource(w http.ResponseWriter, r *http.Request) {
	info := middleware.IntrospectionFromContext(r.Context())
	if info == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	writeJSON(w, http.StatusOK, brokerapi.ProtectedResource{
		Message: "This is a protected resource",
		Data: brokerapi.ProtectedResourceData{
			Timestamp: h.now().UTC(),
			Resource:  h.resourceName,
			ClientId:  info.ClientID,
		},
	})
}

// mapProvisionedClient конвертирует запись реестра в API-тип.
func mapProvisionedClient(c *model.ProvisionedClient) brokerapi.ProvisionedClient {
	roles := c.Roles
	if roles == nil {
		roles = []string{}
	}
	result := brokerapi.ProvisionedClient{
		Id:              c.ID,
		Realm:           c.Realm,
		ClientId:        c.ClientID,
		KeycloakId:      c.KeycloakID,
		Description:     c.Description,
		Roles:           roles,
		SecretRotatedAt: c.SecretRotatedAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.ServiceAccountID != "" {
		result.ServiceAccountId = &c.ServiceAccountID
	}
	return result
}
