package model

import (
	"strings"
	"time"
)

// maskedSecret — значение, которым секрет заменяется в ответах на чтение.
const maskedSecret = "********"

// Credentials — учётные данные потребителя для client credentials grant.
// Заменяются целиком; частичное обновление не допускается.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Configured проверяет, что заданы все три поля.
func (c Credentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TokenURL != ""
}

// MaskedCredentials — представление учётных данных для ответа на чтение.
type MaskedCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TokenURL     string `json:"tokenUrl"`
	Configured   bool   `json:"configured"`
}

// Masked возвращает учётные данные со скрытым секретом.
func (c Credentials) Masked() MaskedCredentials {
	m := MaskedCredentials{
		ClientID:   c.ClientID,
		TokenURL:   c.TokenURL,
		Configured: c.Configured(),
	}
	if c.ClientSecret != "" {
		m.ClientSecret = maskedSecret
	}
	return m
}

// AccessToken — access token, полученный через client credentials grant.
// ExpiresAt уже учитывает safety skew. Токен заменяется, но не изменяется.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
	Scope     string
}

// Valid проверяет, что токен можно использовать в момент now.
func (t *AccessToken) Valid(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// Preview возвращает первые 10 символов токена для диагностики.
func (t *AccessToken) Preview() string {
	if len(t.Value) <= 10 {
		return t.Value + "..."
	}
	return t.Value[:10] + "..."
}

// Introspection — результат RFC 7662 интроспекции токена.
type Introspection struct {
	// Active — токен активен
	Active bool
	// ClientID — client_id субъекта (или azp, если client_id отсутствует)
	ClientID string
	// Subject — sub токена
	Subject string
	// Scope — scopes через пробел
	Scope string
	// Username — preferred username (service-account-<client>)
	Username string
	// ExpiresAt — время истечения токена (нулевое, если не передано)
	ExpiresAt time.Time
	// ResourceRoles — роли по resource-клиентам (resource_access)
	ResourceRoles map[string][]string
}

// HasScope проверяет наличие scope.
func (i *Introspection) HasScope(scope string) bool {
	for _, s := range strings.Fields(i.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// HasClientRole проверяет наличие роли resource-клиента.
func (i *Introspection) HasClientRole(resourceClientID, role string) bool {
	for _, r := range i.ResourceRoles[resourceClientID] {
		if r == role {
			return true
		}
	}
	return false
}
