// Пакет model — доменные модели M2M Trust Broker.
// identity.go — сущности Identity Provider: realm, client, role, role binding, секрет.
package model

import "time"

// MasterRealm — административный realm провайдера.
// Административный вход возможен только в нём.
const MasterRealm = "master"

// Realm — изолированное административное пространство провайдера.
type Realm struct {
	// Name — глобально уникальное имя realm
	Name string
	// Enabled — realm активен
	Enabled bool
}

// ClientFlags — флаги OAuth2 клиента.
// Для machine-to-machine клиентов фиксируются при создании:
// service account включён, интерактивные flows выключены.
type ClientFlags struct {
	ServiceAccountsEnabled    bool
	StandardFlowEnabled       bool
	ImplicitFlowEnabled       bool
	DirectAccessGrantsEnabled bool
	PublicClient              bool
}

// MachineToMachine возвращает флаги конфиденциального клиента без интерактивных flows.
func MachineToMachine() ClientFlags {
	return ClientFlags{ServiceAccountsEnabled: true}
}

// IsMachineToMachine проверяет, что флаги соответствуют m2m-семантике.
func (f ClientFlags) IsMachineToMachine() bool {
	return f == MachineToMachine()
}

// Client — зарегистрированный OAuth2 клиент.
type Client struct {
	// ID — внутренний идентификатор провайдера (UUID)
	ID string
	// ClientID — уникальный в пределах realm идентификатор клиента
	ClientID string
	// ServiceAccountID — ID пользователя service account (заполняется отдельным запросом)
	ServiceAccountID string
	// Enabled — клиент активен
	Enabled bool
	// Flags — флаги OAuth2 flows
	Flags ClientFlags
}

// Role — роль, привязанная к resource-клиенту.
type Role struct {
	ID          string
	Name        string
	Description string
}

// RoleBinding — связь service account и роли resource-клиента.
type RoleBinding struct {
	ServiceAccountID string
	ResourceClientID string
	RoleID           string
	RoleName         string
}

// ClientSecret — секрет клиента. Значение доступно только в момент выпуска.
type ClientSecret struct {
	Value    string
	IssuedAt time.Time
}

// RoleGrant — описание роли, выдаваемой каждому новому клиенту.
type RoleGrant struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}
