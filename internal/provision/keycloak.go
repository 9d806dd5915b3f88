// Пакет provision — идемпотентный провижининг M2M доверия в Keycloak:
// realm, confidential клиенты, роли resource-клиента, назначения ролей
// service account, выпуск и ротация секретов.
//
// Каждая административная операция выполняется через admin.Call и при
// ответе 401 повторяется один раз после реаутентификации.
package provision

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/m2m-trust/internal/keycloak"
)

// AdminAPI — операции Keycloak Admin REST API, используемые провижинингом.
// Реализуется *keycloak.Client.
type AdminAPI interface {
	GetRealm(ctx context.Context, s *keycloak.AdminSession, name string) (*keycloak.RealmRepresentation, error)
	CreateRealm(ctx context.Context, s *keycloak.AdminSession, realm keycloak.RealmRepresentation) error

	FindClients(ctx context.Context, s *keycloak.AdminSession, clientID string) ([]keycloak.ClientRepresentation, error)
	CreateClient(ctx context.Context, s *keycloak.AdminSession, client keycloak.ClientRepresentation) (string, error)
	RegenerateClientSecret(ctx context.Context, s *keycloak.AdminSession, id string) error
	GetClientSecret(ctx context.Context, s *keycloak.AdminSession, id string) (string, error)
	GetServiceAccountUser(ctx context.Context, s *keycloak.AdminSession, id string) (*keycloak.UserRepresentation, error)

	ListClientRoles(ctx context.Context, s *keycloak.AdminSession, clientID string) ([]keycloak.RoleRepresentation, error)
	CreateClientRole(ctx context.Context, s *keycloak.AdminSession, clientID string, role keycloak.RoleRepresentation) error
	ListUserClientRoleMappings(ctx context.Context, s *keycloak.AdminSession, userID, clientID string) ([]keycloak.RoleRepresentation, error)
	AddUserClientRoleMappings(ctx context.Context, s *keycloak.AdminSession, userID, clientID string, roles []keycloak.RoleRepresentation) error
}

// Endpoints — адреса Keycloak, возвращаемые потребителям.
type Endpoints interface {
	BaseURL() string
	TokenURL(realm string) string
}

// Результаты операций для метрик.
const (
	resultCreated  = "created"
	resultExisting = "existing"
	resultError    = "error"
)

// opsTotal — счётчик операций провижининга.
var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tb_provision_operations_total",
	Help: "Количество операций провижининга по типу и результату",
}, []string{"op", "result"})

func observe(op, result string) {
	opsTotal.WithLabelValues(op, result).Inc()
}
