// client.go — HTTP-клиент к Keycloak Admin REST API.
// Административная сессия (AdminSession) передаётся в каждый вызов явно:
// клиент не хранит токен и не переключает realm сам.
// Операции: Login (password grant в master), Realms, Clients, client secret,
// service account user, client roles, client role mappings, Introspect.
// Не-2xx ответы и сетевые ошибки возвращаются как *errs.ProviderError.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// AdminSession — административная сессия: bearer-токен, полученный в master realm,
// и активный realm, к которому привязываются административные вызовы.
// Значение неизменяемо: смена realm создаёт новую сессию.
type AdminSession struct {
	realm       string
	accessToken string
	expiresAt   time.Time
}

// NewAdminSession создаёт сессию в master realm.
func NewAdminSession(accessToken string, expiresAt time.Time) *AdminSession {
	return &AdminSession{realm: model.MasterRealm, accessToken: accessToken, expiresAt: expiresAt}
}

// Realm возвращает активный realm сессии.
func (s *AdminSession) Realm() string { return s.realm }

// ExpiresAt возвращает время истечения административного токена.
func (s *AdminSession) ExpiresAt() time.Time { return s.expiresAt }

// InRealm возвращает копию сессии с другим активным realm (без повторного входа).
func (s *AdminSession) InRealm(realm string) *AdminSession {
	cp := *s
	cp.realm = realm
	return &cp
}

// Client — HTTP-клиент к Keycloak.
type Client struct {
	baseURL    string // Базовый URL Keycloak (без trailing slash)
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент к Keycloak.
// baseURL — базовый URL Keycloak (например, http://keycloak:8080).
// httpClient — HTTP-клиент; его Timeout ограничивает каждый вызов провайдера.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "keycloak_client")),
	}
}

// BaseURL возвращает базовый URL Keycloak.
func (c *Client) BaseURL() string { return c.baseURL }

// TokenURL возвращает URL token endpoint realm.
func (c *Client) TokenURL(realm string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, url.PathEscape(realm))
}

// IntrospectionURL возвращает URL introspection endpoint realm.
func (c *Client) IntrospectionURL(realm string) string {
	return c.TokenURL(realm) + "/introspect"
}

// CertsURL возвращает URL JWKS endpoint realm.
func (c *Client) CertsURL(realm string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", c.baseURL, url.PathEscape(realm))
}

// IssuerURL возвращает issuer токенов realm.
func (c *Client) IssuerURL(realm string) string {
	return fmt.Sprintf("%s/realms/%s", c.baseURL, url.PathEscape(realm))
}

// --- Аутентификация ---

// Login выполняет password grant в master realm и возвращает сессию в master.
func (c *Client) Login(ctx context.Context, clientID, username, password string) (*AdminSession, error) {
	data := url.Values{
		"grant_type": {"password"},
		"client_id":  {clientID},
		"username":   {username},
		"password":   {password},
	}

	token, err := c.postForm(ctx, "Login", c.TokenURL(model.MasterRealm), data)
	if err != nil {
		return nil, err
	}

	var tr TokenResponse
	if err := json.Unmarshal(token, &tr); err != nil {
		return nil, errs.WrapProviderError("Login", fmt.Errorf("декодирование токена: %w", err))
	}
	if tr.AccessToken == "" {
		return nil, errs.WrapProviderError("Login", fmt.Errorf("пустой access_token в ответе"))
	}

	expiresAt := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	c.logger.Debug("Административная сессия получена", slog.Time("expires_at", expiresAt))

	return NewAdminSession(tr.AccessToken, expiresAt), nil
}

// Introspect выполняет RFC 7662 интроспекцию токена от имени resource-клиента.
func (c *Client) Introspect(ctx context.Context, realm, token, clientID, clientSecret string) (*IntrospectionResponse, error) {
	data := url.Values{
		"token":         {token},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}

	body, err := c.postForm(ctx, "Introspect", c.IntrospectionURL(realm), data)
	if err != nil {
		return nil, err
	}

	var ir IntrospectionResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, errs.WrapProviderError("Introspect", fmt.Errorf("декодирование ответа: %w", err))
	}
	return &ir, nil
}

// postForm отправляет form-urlencoded POST и возвращает тело 200-ответа.
func (c *Client) postForm(ctx context.Context, op, endpoint string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: создание запроса: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.WrapProviderError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.WrapProviderError(op, fmt.Errorf("чтение ответа: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewProviderError(op, resp.StatusCode, body)
	}
	return body, nil
}

// --- HTTP helpers ---

// adminURL возвращает URL Admin REST API для realm.
func (c *Client) adminURL(realm, path string) string {
	return fmt.Sprintf("%s/admin/realms/%s%s", c.baseURL, url.PathEscape(realm), path)
}

// doAuthorized выполняет HTTP-запрос к Admin REST API с токеном сессии.
func (c *Client) doAuthorized(ctx context.Context, s *AdminSession, op, method, reqURL string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: сериализация тела запроса: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: создание запроса: %w", op, err)
	}

	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.WrapProviderError(op, err)
	}
	return resp, nil
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(op string, resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return errs.NewProviderError(op, resp.StatusCode, body)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return errs.WrapProviderError(op, fmt.Errorf("декодирование ответа: %w", err))
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(op string, resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		body, _ := io.ReadAll(resp.Body)
		return errs.NewProviderError(op, resp.StatusCode, body)
	}

	return nil
}

// IsNotFound проверяет, что провайдер ответил 404.
func IsNotFound(err error) bool {
	return errs.IsStatus(err, http.StatusNotFound)
}

// IsConflict проверяет, что провайдер ответил 409.
func IsConflict(err error) bool {
	return errs.IsStatus(err, http.StatusConflict)
}

// --- Realm API ---

// GetRealm возвращает realm по имени. Отсутствующий realm — ProviderError 404.
func (c *Client) GetRealm(ctx context.Context, s *AdminSession, name string) (*RealmRepresentation, error) {
	resp, err := c.doAuthorized(ctx, s, "GetRealm", http.MethodGet, c.adminURL(name, ""), nil)
	if err != nil {
		return nil, err
	}

	var realm RealmRepresentation
	if err := decodeResponse("GetRealm", resp, &realm); err != nil {
		return nil, err
	}
	return &realm, nil
}

// CreateRealm создаёт realm.
func (c *Client) CreateRealm(ctx context.Context, s *AdminSession, realm RealmRepresentation) error {
	resp, err := c.doAuthorized(ctx, s, "CreateRealm", http.MethodPost, c.baseURL+"/admin/realms", realm)
	if err != nil {
		return err
	}
	return checkResponse("CreateRealm", resp, http.StatusCreated)
}

// --- Clients API ---

// FindClients возвращает клиентов активного realm с точным совпадением clientId.
func (c *Client) FindClients(ctx context.Context, s *AdminSession, clientID string) ([]ClientRepresentation, error) {
	path := "/clients?clientId=" + url.QueryEscape(clientID)
	resp, err := c.doAuthorized(ctx, s, "FindClients", http.MethodGet, c.adminURL(s.realm, path), nil)
	if err != nil {
		return nil, err
	}

	var clients []ClientRepresentation
	if err := decodeResponse("FindClients", resp, &clients); err != nil {
		return nil, err
	}

	// Keycloak по умолчанию ищет точное совпадение, но при search=true — подстроку.
	exact := clients[:0]
	for _, cl := range clients {
		if cl.ClientID == clientID {
			exact = append(exact, cl)
		}
	}
	return exact, nil
}

// CreateClient создаёт клиента в активном realm.
// Возвращает внутренний ID из Location header (пустая строка, если header отсутствует).
func (c *Client) CreateClient(ctx context.Context, s *AdminSession, client ClientRepresentation) (string, error) {
	resp, err := c.doAuthorized(ctx, s, "CreateClient", http.MethodPost, c.adminURL(s.realm, "/clients"), client)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", errs.NewProviderError("CreateClient", resp.StatusCode, body)
	}

	// Location: .../clients/{id}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", nil
	}
	parts := strings.Split(strings.TrimRight(location, "/"), "/")
	return parts[len(parts)-1], nil
}

// RegenerateClientSecret генерирует новый секрет клиента (предыдущий перестаёт действовать).
func (c *Client) RegenerateClientSecret(ctx context.Context, s *AdminSession, id string) error {
	resp, err := c.doAuthorized(ctx, s, "RegenerateClientSecret", http.MethodPost,
		c.adminURL(s.realm, "/clients/"+id+"/client-secret"), nil)
	if err != nil {
		return err
	}
	// Тело ответа содержит новый секрет — намеренно не читается:
	// значение берётся отдельным вызовом GetClientSecret.
	return decodeResponse("RegenerateClientSecret", resp, nil)
}

// GetClientSecret возвращает текущий секрет клиента.
func (c *Client) GetClientSecret(ctx context.Context, s *AdminSession, id string) (string, error) {
	resp, err := c.doAuthorized(ctx, s, "GetClientSecret", http.MethodGet,
		c.adminURL(s.realm, "/clients/"+id+"/client-secret"), nil)
	if err != nil {
		return "", err
	}

	var secret CredentialRepresentation
	if err := decodeResponse("GetClientSecret", resp, &secret); err != nil {
		return "", err
	}
	return secret.Value, nil
}

// GetServiceAccountUser возвращает пользователя service account клиента.
func (c *Client) GetServiceAccountUser(ctx context.Context, s *AdminSession, id string) (*UserRepresentation, error) {
	resp, err := c.doAuthorized(ctx, s, "GetServiceAccountUser", http.MethodGet,
		c.adminURL(s.realm, "/clients/"+id+"/service-account-user"), nil)
	if err != nil {
		return nil, err
	}

	var user UserRepresentation
	if err := decodeResponse("GetServiceAccountUser", resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// --- Roles API ---

// ListClientRoles возвращает роли клиента.
func (c *Client) ListClientRoles(ctx context.Context, s *AdminSession, clientID string) ([]RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, s, "ListClientRoles", http.MethodGet,
		c.adminURL(s.realm, "/clients/"+clientID+"/roles"), nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepresentation
	if err := decodeResponse("ListClientRoles", resp, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateClientRole создаёт роль клиента.
func (c *Client) CreateClientRole(ctx context.Context, s *AdminSession, clientID string, role RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, s, "CreateClientRole", http.MethodPost,
		c.adminURL(s.realm, "/clients/"+clientID+"/roles"), role)
	if err != nil {
		return err
	}
	return checkResponse("CreateClientRole", resp, http.StatusCreated)
}

// ListUserClientRoleMappings возвращает роли клиента clientID, назначенные пользователю.
func (c *Client) ListUserClientRoleMappings(ctx context.Context, s *AdminSession, userID, clientID string) ([]RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, s, "ListUserClientRoleMappings", http.MethodGet,
		c.adminURL(s.realm, "/users/"+userID+"/role-mappings/clients/"+clientID), nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepresentation
	if err := decodeResponse("ListUserClientRoleMappings", resp, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// AddUserClientRoleMappings назначает пользователю роли клиента clientID.
func (c *Client) AddUserClientRoleMappings(ctx context.Context, s *AdminSession, userID, clientID string, roles []RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, s, "AddUserClientRoleMappings", http.MethodPost,
		c.adminURL(s.realm, "/users/"+userID+"/role-mappings/clients/"+clientID), roles)
	if err != nil {
		return err
	}
	return checkResponse("AddUserClientRoleMappings", resp, http.StatusNoContent)
}

// --- Readiness checker ---

// ReadinessChecker проверяет доступность Keycloak через публичную информацию realm.
// Реализует handlers.ReadinessChecker.
type ReadinessChecker struct {
	client *Client
	realm  string
}

// NewReadinessChecker создаёт проверку готовности Keycloak для realm.
func (c *Client) NewReadinessChecker(realm string) *ReadinessChecker {
	return &ReadinessChecker{client: c, realm: realm}
}

// CheckReady проверяет доступность realm (GET /realms/{realm}).
func (r *ReadinessChecker) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.client.IssuerURL(r.realm), nil)
	if err != nil {
		return "fail", err.Error()
	}

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return "ok", fmt.Sprintf("Realm %s доступен", r.realm)
	case resp.StatusCode == http.StatusNotFound:
		// Realm ещё не создан — провижининг выполнит инициализацию
		return "degraded", fmt.Sprintf("Realm %s не найден", r.realm)
	default:
		return "fail", fmt.Sprintf("Keycloak вернул статус %d", resp.StatusCode)
	}
}
