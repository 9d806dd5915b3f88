package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/m2m-trust/internal/api/generated/brokerapi"
	"github.com/bigkaa/m2m-trust/internal/api/generated/consumerapi"
	"github.com/bigkaa/m2m-trust/internal/api/middleware"
	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
	"github.com/bigkaa/m2m-trust/internal/provision"
	"github.com/bigkaa/m2m-trust/internal/resclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	return body.Error.Code
}

// --- trust-broker ---

type fakeProvisioning struct {
	initErr    error
	createErr  error
	created    bool
	rotateErr  error
	listErr    error
	items      []*model.ProvisionedClient
	total      int
	lastCreate provision.CreateClientRequest
	lastRotate string
	lastLimit  int
	lastOffset int
}

func (f *fakeProvisioning) Initialize(context.Context) (*provision.InitResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &provision.InitResult{Realm: "demo", RealmCreated: true, ResourceClientCreated: true}, nil
}

func (f *fakeProvisioning) CreateClient(_ context.Context, req provision.CreateClientRequest) (*provision.CreateClientResult, error) {
	f.lastCreate = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	res := &provision.CreateClientResult{
		Client:   provision.IssuedClient{ID: "uuid-1", ClientID: req.ClientName},
		TokenURL: "http://kc/realms/demo/protocol/openid-connect/token",
		Created:  f.created,
		Roles:    []string{"access-protected-resource"},
	}
	if f.created {
		res.Client.ClientSecret = "s3cr3t"
	}
	return res, nil
}

func (f *fakeProvisioning) RotateSecret(_ context.Context, clientID string) (*provision.RotateResult, error) {
	f.lastRotate = clientID
	if f.rotateErr != nil {
		return nil, f.rotateErr
	}
	return &provision.RotateResult{
		ClientID:     clientID,
		ClientSecret: "n3w",
		IssuedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeProvisioning) ListClients(_ context.Context, limit, offset int) ([]*model.ProvisionedClient, int, error) {
	f.lastLimit, f.lastOffset = limit, offset
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.items, f.total, nil
}

func (f *fakeProvisioning) Config() provision.ProviderConfig {
	return provision.ProviderConfig{
		Realm:    "demo",
		URL:      "http://kc",
		TokenURL: "http://kc/realms/demo/protocol/openid-connect/token",
	}
}

func newBroker(svc Provisioning) *BrokerHandler {
	return NewBrokerHandler(svc, NewHealthHandler("trust-broker"), "protected-api", testLogger())
}

func brokerRouter(h *BrokerHandler) http.Handler {
	return brokerapi.HandlerWithOptions(h, brokerapi.ChiServerOptions{ErrorHandlerFunc: ParamError})
}

func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBrokerHealth(t *testing.T) {
	router := brokerRouter(newBroker(&fakeProvisioning{}))

	rec := doRequest(router, http.MethodGet, "/api/v1/health", "")
	var body brokerapi.StatusResponse
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Errorf("ожидался ok/200, получено %d %+v", rec.Code, body)
	}

	// Служебные endpoints делегируются в HealthHandler
	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		if rec := doRequest(router, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s: ожидался 200, получен %d", path, rec.Code)
		}
	}
}

func TestPaginationDefaults(t *testing.T) {
	ptr := func(v int) *int { return &v }
	tests := []struct {
		name          string
		limit, offset *int
		wantL, wantO  int
	}{
		{"по умолчанию", nil, nil, 100, 0},
		{"в пределах", ptr(10), ptr(20), 10, 20},
		{"limit меньше 1", ptr(0), nil, 1, 0},
		{"limit больше 1000", ptr(5000), nil, 1000, 0},
		{"отрицательный offset", nil, ptr(-5), 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, o := paginationDefaults(tt.limit, tt.offset)
			if l != tt.wantL || o != tt.wantO {
				t.Errorf("получено %d/%d, ожидалось %d/%d", l, o, tt.wantL, tt.wantO)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("успех", func(t *testing.T) {
		rec := doRequest(brokerRouter(newBroker(&fakeProvisioning{})), http.MethodPost, "/api/v1/init", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("ожидался 200, получен %d", rec.Code)
		}
		var body brokerapi.InitResponse
		decodeBody(t, rec, &body)
		if !body.Success || body.Realm != "demo" || !body.RealmCreated {
			t.Errorf("неожиданный ответ: %+v", body)
		}
	})

	t.Run("ошибка аутентификации администратора", func(t *testing.T) {
		h := newBroker(&fakeProvisioning{initErr: fmt.Errorf("вход: %w", errs.ErrAuthentication)})
		rec := doRequest(brokerRouter(h), http.MethodPost, "/api/v1/init", "")
		if rec.Code != http.StatusBadGateway {
			t.Errorf("ожидался 502, получен %d", rec.Code)
		}
		if code := errorCode(t, rec); code != errs.KindAuthentication {
			t.Errorf("ожидался код %s, получен %s", errs.KindAuthentication, code)
		}
	})
}

func TestConfig(t *testing.T) {
	rec := doRequest(brokerRouter(newBroker(&fakeProvisioning{})), http.MethodGet, "/api/v1/config", "")

	var body brokerapi.ProviderConfig
	decodeBody(t, rec, &body)
	if body.Realm != "demo" || !strings.HasSuffix(body.TokenUrl, "/openid-connect/token") {
		t.Errorf("неожиданный ответ: %+v", body)
	}
}

func TestCreateClient(t *testing.T) {
	t.Run("новый клиент — 201 с секретом", func(t *testing.T) {
		fp := &fakeProvisioning{created: true}
		rec := doRequest(brokerRouter(newBroker(fp)), http.MethodPost, "/api/v1/clients",
			`{"clientName":"svc1","description":"сервис 1"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("ожидался 201, получен %d", rec.Code)
		}
		if rec.Header().Get("Cache-Control") != "no-store" {
			t.Error("ответ с секретом не должен кэшироваться")
		}
		var body brokerapi.CreateClientResponse
		decodeBody(t, rec, &body)
		if body.Client.ClientId != "svc1" || body.Client.ClientSecret == nil || *body.Client.ClientSecret != "s3cr3t" || !body.Created {
			t.Errorf("неожиданный ответ: %+v", body)
		}
		if fp.lastCreate.Description != "сервис 1" {
			t.Errorf("описание не передано: %+v", fp.lastCreate)
		}
	})

	t.Run("существующий клиент — 200 без секрета", func(t *testing.T) {
		rec := doRequest(brokerRouter(newBroker(&fakeProvisioning{})), http.MethodPost, "/api/v1/clients", `{"clientName":"svc1"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("ожидался 200, получен %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "clientSecret") {
			t.Errorf("секрет не должен возвращаться: %s", rec.Body.String())
		}
	})

	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"некорректный JSON", `{"clientName":`, nil, http.StatusBadRequest, errs.KindValidation},
		{"пустое имя", `{}`, fmt.Errorf("%w: clientName обязателен", errs.ErrValidation), http.StatusBadRequest, errs.KindValidation},
		{"конфликт", `{"clientName":"svc1"}`, fmt.Errorf("%w: svc1", errs.ErrConflict), http.StatusConflict, errs.KindConflict},
		{"провайдер недоступен", `{"clientName":"svc1"}`, errs.NewProviderError("create client", 503, nil), http.StatusBadGateway, errs.KindIDPUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(brokerRouter(newBroker(&fakeProvisioning{createErr: tt.err})), http.MethodPost, "/api/v1/clients", tt.body)
			if rec.Code != tt.status {
				t.Errorf("ожидался %d, получен %d", tt.status, rec.Code)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("ожидался код %s, получен %s", tt.code, code)
			}
		})
	}
}

func TestListClients(t *testing.T) {
	desc := "сервис 1"
	fp := &fakeProvisioning{
		items: []*model.ProvisionedClient{{ID: "r1", Realm: "demo", ClientID: "svc1", Description: &desc}},
		total: 3,
	}
	router := brokerRouter(newBroker(fp))

	rec := doRequest(router, http.MethodGet, "/api/v1/clients?limit=1&offset=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var body brokerapi.ClientListResponse
	decodeBody(t, rec, &body)
	if len(body.Items) != 1 || body.Total != 3 || !body.HasMore {
		t.Errorf("неожиданный ответ: %+v", body)
	}
	if body.Items[0].Roles == nil {
		t.Error("roles должен сериализоваться как []")
	}
	if fp.lastLimit != 1 || fp.lastOffset != 1 {
		t.Errorf("пагинация не передана: limit=%d offset=%d", fp.lastLimit, fp.lastOffset)
	}

	// Значения вне диапазона нормализуются, отсутствующие берутся по умолчанию
	doRequest(router, http.MethodGet, "/api/v1/clients?limit=5000", "")
	if fp.lastLimit != 1000 || fp.lastOffset != 0 {
		t.Errorf("ожидались limit=1000 offset=0, получено %d/%d", fp.lastLimit, fp.lastOffset)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/clients?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("некорректный limit: ожидался 400, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != errs.KindValidation {
		t.Errorf("ожидался код %s, получен %s", errs.KindValidation, code)
	}

	rec = doRequest(brokerRouter(newBroker(&fakeProvisioning{listErr: errs.ErrNotConfigured})), http.MethodGet, "/api/v1/clients", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("реестр отключён: ожидался 404, получен %d", rec.Code)
	}
}

func TestRotateSecret(t *testing.T) {
	fp := &fakeProvisioning{}

	rec := doRequest(brokerRouter(newBroker(fp)), http.MethodPost, "/api/v1/clients/svc1/rotate-secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("ответ с секретом не должен кэшироваться")
	}
	var body brokerapi.RotateSecretResponse
	decodeBody(t, rec, &body)
	if fp.lastRotate != "svc1" || body.ClientSecret != "n3w" || body.IssuedAt.IsZero() {
		t.Errorf("неожиданный ответ: %+v", body)
	}

	h := newBroker(&fakeProvisioning{rotateErr: fmt.Errorf("%w: svc9", errs.ErrNotFound)})
	rec = doRequest(brokerRouter(h), http.MethodPost, "/api/v1/clients/svc9/rotate-secret", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("ожидался 404, получен %d", rec.Code)
	}
}

func TestProtectedResource(t *testing.T) {
	h := newBroker(&fakeProvisioning{})
	h.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

	t.Run("без интроспекции в контексте", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetProtectedResource(rec, httptest.NewRequest(http.MethodGet, "/api/v1/protected-resource", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("ожидался 401, получен %d", rec.Code)
		}
	})

	t.Run("с интроспекцией", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/protected-resource", nil)
		ctx := context.WithValue(req.Context(), middleware.ContextKeyIntrospection,
			&model.Introspection{Active: true, ClientID: "svc1"})
		rec := httptest.NewRecorder()
		h.GetProtectedResource(rec, req.WithContext(ctx))

		var body brokerapi.ProtectedResource
		decodeBody(t, rec, &body)
		if body.Message != "This is a protected resource" || body.Data.ClientId != "svc1" || body.Data.Resource != "protected-api" {
			t.Errorf("неожиданный ответ: %+v", body)
		}
		if !body.Data.Timestamp.Equal(h.now()) {
			t.Errorf("неожиданное время: %v", body.Data.Timestamp)
		}
	})
}

// --- trust-consumer ---

type fakeTokens struct {
	creds    model.Credentials
	token    *model.AccessToken
	tokenErr error
	setErr   error
}

func (f *fakeTokens) Token(context.Context) (*model.AccessToken, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return f.token, nil
}

func (f *fakeTokens) SetCredentials(creds model.Credentials) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.creds = creds
	return nil
}

func (f *fakeTokens) Credentials() model.Credentials { return f.creds }

type fakeResource struct {
	resp *resclient.ProtectedResponse
	err  error
}

func (f *fakeResource) CallProtected(context.Context) (*resclient.ProtectedResponse, error) {
	return f.resp, f.err
}

func newConsumer(tokens TokenStore, resource ResourceCaller) *ConsumerHandler {
	return NewConsumerHandler(tokens, resource, NewHealthHandler("trust-consumer"), testLogger())
}

func consumerRouter(h *ConsumerHandler) http.Handler {
	return consumerapi.HandlerWithOptions(h, consumerapi.ChiServerOptions{ErrorHandlerFunc: ParamError})
}

func TestCredentials(t *testing.T) {
	ft := &fakeTokens{}
	router := consumerRouter(newConsumer(ft, &fakeResource{}))

	rec := doRequest(router, http.MethodPost, "/api/v1/credentials",
		`{"clientId":"svc1","clientSecret":"s3cr3t","tokenUrl":"http://kc/token"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if ft.creds.ClientSecret != "s3cr3t" {
		t.Errorf("учётные данные не сохранены: %+v", ft.creds)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/credentials", "")
	if strings.Contains(rec.Body.String(), "s3cr3t") {
		t.Fatalf("секрет не должен возвращаться: %s", rec.Body.String())
	}
	var masked model.MaskedCredentials
	decodeBody(t, rec, &masked)
	if masked.ClientID != "svc1" || !masked.Configured || masked.ClientSecret == "" {
		t.Errorf("неожиданный ответ: %+v", masked)
	}

	ft.setErr = fmt.Errorf("%w: tokenUrl обязателен", errs.ErrValidation)
	rec = doRequest(router, http.MethodPost, "/api/v1/credentials", `{"clientId":"svc1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("неполные данные: ожидался 400, получен %d", rec.Code)
	}
}

func TestTestToken(t *testing.T) {
	exp := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	ft := &fakeTokens{token: &model.AccessToken{Value: "eyJhbGciOiJSUzI1NiJ9.payload.sig", ExpiresAt: exp}}
	router := consumerRouter(newConsumer(ft, &fakeResource{}))

	rec := doRequest(router, http.MethodGet, "/api/v1/test-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "payload.sig") {
		t.Fatalf("полный токен не должен возвращаться: %s", rec.Body.String())
	}
	var body consumerapi.TestTokenResponse
	decodeBody(t, rec, &body)
	if body.TokenInfo.Token != "eyJhbGciOi..." || !body.TokenInfo.ExpiresAt.Equal(exp) {
		t.Errorf("неожиданный ответ: %+v", body)
	}

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"нет учётных данных", fmt.Errorf("%w: не заданы", errs.ErrValidation), http.StatusBadRequest},
		{"отказ token endpoint", errs.NewTokenAcquisitionError(401, []byte(`{"error":"invalid_client"}`), errors.New("oauth2")), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := consumerRouter(newConsumer(&fakeTokens{tokenErr: tt.err}, &fakeResource{}))
			rec := doRequest(router, http.MethodGet, "/api/v1/test-token", "")
			if rec.Code != tt.status {
				t.Errorf("ожидался %d, получен %d", tt.status, rec.Code)
			}
		})
	}
}

func TestCallProtectedResource(t *testing.T) {
	data := &resclient.ProtectedResponse{Message: "This is a protected resource"}
	data.Data.ClientID = "svc1"
	router := consumerRouter(newConsumer(&fakeTokens{}, &fakeResource{resp: data}))

	rec := doRequest(router, http.MethodGet, "/api/v1/call-protected-resource", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var body consumerapi.CallProtectedResponse
	decodeBody(t, rec, &body)
	if !body.Success || body.Data.Data.ClientId != "svc1" {
		t.Errorf("неожиданный ответ: %+v", body)
	}

	upstream := errs.NewUpstreamError(http.StatusForbidden, []byte("forbidden"), nil)
	router = consumerRouter(newConsumer(&fakeTokens{}, &fakeResource{err: upstream}))
	rec = doRequest(router, http.MethodGet, "/api/v1/call-protected-resource", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("ожидался 502, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != errs.KindUpstream {
		t.Errorf("ожидался код %s, получен %s", errs.KindUpstream, code)
	}
}

// --- health ---

type fakeChecker struct{ status, msg string }

func (f fakeChecker) CheckReady() (string, string) { return f.status, f.msg }

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   string
		status int
	}{
		{"все ok", []Check{{"keycloak", fakeChecker{"ok", ""}}}, "ok", http.StatusOK},
		{"degraded", []Check{{"keycloak", fakeChecker{"ok", ""}}, {"postgresql", fakeChecker{"degraded", "медленно"}}}, "degraded", http.StatusOK},
		{"fail", []Check{{"keycloak", fakeChecker{"fail", "недоступен"}}}, "fail", http.StatusServiceUnavailable},
		{"nil checker", []Check{{"postgresql", nil}}, "fail", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("trust-broker", tt.checks...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			var body healthReadyResponse
			decodeBody(t, rec, &body)
			if rec.Code != tt.status || body.Status != tt.want {
				t.Errorf("ожидалось %d/%s, получено %d/%s", tt.status, tt.want, rec.Code, body.Status)
			}
			if len(body.Checks) != len(tt.checks) {
				t.Errorf("ожидалось %d проверок, получено %d", len(tt.checks), len(body.Checks))
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler("trust-consumer")
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	var body healthLiveResponse
	decodeBody(t, rec, &body)
	if body.Status != "ok" || body.Service != "trust-consumer" {
		t.Errorf("неожиданный ответ: %+v", body)
	}
}
