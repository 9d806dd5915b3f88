package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/m2m-trust/internal/admin"
	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
	"github.com/bigkaa/m2m-trust/internal/keycloak"
)

// RoleGrants создаёт роли resource-клиента и назначает их service account.
// Все ID клиентов здесь — внутренние ID провайдера.
type RoleGrants struct {
	kc     AdminAPI
	logger *slog.Logger
}

// NewRoleGrants создаёт RoleGrants.
func NewRoleGrants(kc AdminAPI, logger *slog.Logger) *RoleGrants {
	return &RoleGrants{
		kc:     kc,
		logger: logger.With(slog.String("component", "role_grants")),
	}
}

// EnsureRole создаёт роль name у resource-клиента, если её нет.
// Провайдер отклоняет дубликаты имён, поэтому проверка выполняется до создания.
func (g *RoleGrants) EnsureRole(ctx context.Context, sc *admin.Scope, resourceClientID, name, description string) (*model.Role, bool, error) {
	role, err := g.findRole(ctx, sc, resourceClientID, name)
	if err != nil {
		observe("ensure_role", resultError)
		return nil, false, err
	}
	if role != nil {
		observe("ensure_role", resultExisting)
		return role, false, nil
	}

	err = admin.Do(ctx, sc, "CreateClientRole", func(ctx context.Context, s *admin.Session) error {
		return g.kc.CreateClientRole(ctx, s, resourceClientID, keycloak.RoleRepresentation{
			Name:        name,
			Description: description,
		})
	})
	created := true
	switch {
	case keycloak.IsConflict(err):
		created = false
	case err != nil:
		observe("ensure_role", resultError)
		return nil, false, fmt.Errorf("создание роли %s: %w", name, err)
	}

	// ID роли возвращается только при чтении
	role, err = g.findRole(ctx, sc, resourceClientID, name)
	if err != nil {
		return nil, created, err
	}
	if role == nil {
		return nil, created, fmt.Errorf("роль %s не найдена после создания: %w", name, errs.ErrNotFound)
	}

	if created {
		observe("ensure_role", resultCreated)
		g.logger.Info("Роль создана", slog.String("realm", sc.Realm()), slog.String("role", name))
	} else {
		observe("ensure_role", resultExisting)
	}
	return role, created, nil
}

// BindRole назначает роль roleName resource-клиента пользователю service account.
// Роль перечитывается непосредственно перед назначением; отсутствующая роль —
// ErrNotFound. Назначение выполняется, только если его ещё нет.
// Возвращает true, если назначение создано этим вызовом.
func (g *RoleGrants) BindRole(ctx context.Context, sc *admin.Scope, serviceAccountID, resourceClientID, roleName string) (bool, error) {
	role, err := g.findRole(ctx, sc, resourceClientID, roleName)
	if err != nil {
		observe("bind_role", resultError)
		return false, err
	}
	if role == nil {
		observe("bind_role", resultError)
		return false, fmt.Errorf("роль %s: %w", roleName, errs.ErrNotFound)
	}

	mapped, err := admin.Call(ctx, sc, "ListUserClientRoleMappings", func(ctx context.Context, s *admin.Session) ([]keycloak.RoleRepresentation, error) {
		return g.kc.ListUserClientRoleMappings(ctx, s, serviceAccountID, resourceClientID)
	})
	if err != nil {
		observe("bind_role", resultError)
		return false, fmt.Errorf("назначения ролей service account: %w", err)
	}
	for _, r := range mapped {
		if r.Name == roleName {
			observe("bind_role", resultExisting)
			return false, nil
		}
	}

	err = admin.Do(ctx, sc, "AddUserClientRoleMappings", func(ctx context.Context, s *admin.Session) error {
		return g.kc.AddUserClientRoleMappings(ctx, s, serviceAccountID, resourceClientID, []keycloak.RoleRepresentation{
			{ID: role.ID, Name: role.Name},
		})
	})
	if err != nil {
		observe("bind_role", resultError)
		return false, fmt.Errorf("назначение роли %s: %w", roleName, err)
	}

	observe("bind_role", resultCreated)
	g.logger.Info("Роль назначена service account",
		slog.String("realm", sc.Realm()),
		slog.String("role", roleName),
		slog.String("service_account_id", serviceAccountID),
	)
	return true, nil
}

// findRole возвращает роль с точным совпадением имени или nil.
func (g *RoleGrants) findRole(ctx context.Context, sc *admin.Scope, resourceClientID, name string) (*model.Role, error) {
	roles, err := admin.Call(ctx, sc, "ListClientRoles", func(ctx context.Context, s *admin.Session) ([]keycloak.RoleRepresentation, error) {
		return g.kc.ListClientRoles(ctx, s, resourceClientID)
	})
	if err != nil {
		return nil, fmt.Errorf("роли resource-клиента: %w", err)
	}
	for _, r := range roles {
		if r.Name == name {
			return &model.Role{ID: r.ID, Name: r.Name, Description: r.Description}, nil
		}
	}
	return nil, nil
}
