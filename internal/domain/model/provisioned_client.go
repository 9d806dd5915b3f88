package model

import "time"

// ProvisionedClient — запись реестра выданных клиентов.
// Хранится в таблице provisioned_clients. Значение секрета не хранится.
type ProvisionedClient struct {
	// ID — UUID записи
	ID string
	// Realm — realm, в котором создан клиент
	Realm string
	// ClientID — clientId в Keycloak
	ClientID string
	// KeycloakID — внутренний UUID клиента в Keycloak
	KeycloakID string
	// ServiceAccountID — UUID пользователя service account
	ServiceAccountID string
	// Description — описание клиента (опционально)
	Description *string
	// Roles — выданные роли resource-клиента
	Roles []string
	// SecretRotatedAt — время последней ротации секрета
	SecretRotatedAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
