// Пакет keycloak — HTTP-клиент к Keycloak Admin REST API и OIDC endpoints.
// models.go — модели данных Keycloak.
package keycloak

import "time"

// TokenResponse — ответ token endpoint (password или client credentials grant).
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// RealmRepresentation — realm в Keycloak.
type RealmRepresentation struct {
	ID      string `json:"id,omitempty"`
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// ClientRepresentation — клиент (application) в Keycloak.
// Флаги потоков сериализуются всегда, включая false.
type ClientRepresentation struct { //nolint:revive // stuttering допустим — внешний API Keycloak
	ID                           string            `json:"id,omitempty"`
	ClientID                     string            `json:"clientId"`
	Name                         string            `json:"name,omitempty"`
	Description                  string            `json:"description,omitempty"`
	Secret                       string            `json:"secret,omitempty"` //nolint:gosec // G117: поле Admin API
	Enabled                      bool              `json:"enabled"`
	ClientAuthenticatorType      string            `json:"clientAuthenticatorType,omitempty"`
	ServiceAccountsEnabled       bool              `json:"serviceAccountsEnabled"`
	AuthorizationServicesEnabled bool              `json:"authorizationServicesEnabled,omitempty"`
	StandardFlowEnabled          bool              `json:"standardFlowEnabled"`
	ImplicitFlowEnabled          bool              `json:"implicitFlowEnabled"`
	DirectAccessGrantsEnabled    bool              `json:"directAccessGrantsEnabled"`
	PublicClient                 bool              `json:"publicClient"`
	Attributes                   map[string]string `json:"attributes,omitempty"`
}

// CredentialRepresentation — секрет клиента.
type CredentialRepresentation struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// UserRepresentation — пользователь Keycloak (для service account).
type UserRepresentation struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Enabled  bool   `json:"enabled"`
}

// RoleRepresentation — роль клиента.
type RoleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ClientRole  bool   `json:"clientRole,omitempty"`
	ContainerID string `json:"containerId,omitempty"`
}

// IntrospectionResponse — ответ RFC 7662 introspection endpoint.
type IntrospectionResponse struct {
	Active         bool                      `json:"active"`
	ClientID       string                    `json:"client_id,omitempty"`
	Azp            string                    `json:"azp,omitempty"`
	Subject        string                    `json:"sub,omitempty"`
	Scope          string                    `json:"scope,omitempty"`
	Username       string                    `json:"username,omitempty"`
	TokenType      string                    `json:"token_type,omitempty"`
	Exp            int64                     `json:"exp,omitempty"`
	Iat            int64                     `json:"iat,omitempty"`
	ResourceAccess map[string]resourceAccess `json:"resource_access,omitempty"`
}

// resourceAccess — вложенная структура resource_access.{client}.
type resourceAccess struct {
	Roles []string `json:"roles"`
}

// ClientRoles возвращает роли по resource-клиентам.
func (r *IntrospectionResponse) ClientRoles() map[string][]string {
	if len(r.ResourceAccess) == 0 {
		return nil
	}
	out := make(map[string][]string, len(r.ResourceAccess))
	for client, ra := range r.ResourceAccess {
		out[client] = ra.Roles
	}
	return out
}

// ExpiresAt возвращает exp как time.Time (нулевое значение, если exp не передан).
func (r *IntrospectionResponse) ExpiresAt() time.Time {
	if r.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(r.Exp, 0)
}

// SubjectClientID возвращает client_id субъекта, при отсутствии — azp.
func (r *IntrospectionResponse) SubjectClientID() string {
	if r.ClientID != "" {
		return r.ClientID
	}
	return r.Azp
}
