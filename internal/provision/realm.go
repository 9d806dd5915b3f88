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

// ClientSpec — параметры создания клиента.
type ClientSpec struct {
	// ClientID — clientId (уникален в пределах realm)
	ClientID string
	// Description — описание клиента
	Description string
	// Secret — заранее заданный секрет (пусто — генерирует провайдер)
	Secret string
	// AuthorizationServices — включить Authorization Services (resource-клиент)
	AuthorizationServices bool
	// CreateOnly — существующий клиент считается конфликтом
	CreateOnly bool
}

// Provisioner создаёт realm и клиентов, если они отсутствуют.
type Provisioner struct {
	kc     AdminAPI
	logger *slog.Logger
}

// NewProvisioner создаёт Provisioner.
func NewProvisioner(kc AdminAPI, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		kc:     kc,
		logger: logger.With(slog.String("component", "realm_provisioner")),
	}
}

// EnsureRealm создаёт realm name (enabled=true), если его нет.
// Возвращает true, если realm уже существовал.
func (p *Provisioner) EnsureRealm(ctx context.Context, sc *admin.Scope, name string) (bool, error) {
	_, err := admin.Call(ctx, sc, "GetRealm", func(ctx context.Context, s *admin.Session) (*keycloak.RealmRepresentation, error) {
		return p.kc.GetRealm(ctx, s, name)
	})
	if err == nil {
		observe("ensure_realm", resultExisting)
		return true, nil
	}
	if !keycloak.IsNotFound(err) {
		observe("ensure_realm", resultError)
		return false, fmt.Errorf("проверка realm %s: %w", name, err)
	}

	err = admin.Do(ctx, sc, "CreateRealm", func(ctx context.Context, s *admin.Session) error {
		return p.kc.CreateRealm(ctx, s, keycloak.RealmRepresentation{Realm: name, Enabled: true})
	})
	switch {
	case keycloak.IsConflict(err):
		// Realm создан параллельно
		observe("ensure_realm", resultExisting)
		return true, nil
	case err != nil:
		observe("ensure_realm", resultError)
		return false, fmt.Errorf("создание realm %s: %w", name, err)
	}

	observe("ensure_realm", resultCreated)
	p.logger.Info("Realm создан", slog.String("realm", name))
	return false, nil
}

// FindClient возвращает клиента активного realm Scope по clientId.
// Отсутствующий клиент — ErrNotFound.
func (p *Provisioner) FindClient(ctx context.Context, sc *admin.Scope, clientID string) (*model.Client, error) {
	rep, err := p.lookupClient(ctx, sc, clientID)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, fmt.Errorf("клиент %s в realm %s: %w", clientID, sc.Realm(), errs.ErrNotFound)
	}
	return p.withServiceAccount(ctx, sc, rep)
}

// EnsureClient создаёт confidential клиента с service account и выключенными
// интерактивными flows, если клиента с таким clientId нет. Существующий клиент
// не изменяется; в режиме CreateOnly он возвращается как ErrConflict.
func (p *Provisioner) EnsureClient(ctx context.Context, sc *admin.Scope, spec ClientSpec) (*model.Client, bool, error) {
	existing, err := p.lookupClient(ctx, sc, spec.ClientID)
	if err != nil {
		observe("ensure_client", resultError)
		return nil, false, err
	}
	if existing != nil {
		return p.existingClient(ctx, sc, spec, existing)
	}

	rep := machineToMachineClient(spec)
	id, err := admin.Call(ctx, sc, "CreateClient", func(ctx context.Context, s *admin.Session) (string, error) {
		return p.kc.CreateClient(ctx, s, rep)
	})
	if keycloak.IsConflict(err) {
		existing, err = p.lookupClient(ctx, sc, spec.ClientID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("клиент %s: конфликт при создании, но клиент не найден: %w", spec.ClientID, errs.ErrProvider)
		}
		return p.existingClient(ctx, sc, spec, existing)
	}
	if err != nil {
		observe("ensure_client", resultError)
		return nil, false, fmt.Errorf("создание клиента %s: %w", spec.ClientID, err)
	}

	if id == "" {
		// Location header отсутствует — ищем созданного клиента
		created, err := p.lookupClient(ctx, sc, spec.ClientID)
		if err != nil {
			return nil, false, err
		}
		if created == nil {
			return nil, false, fmt.Errorf("клиент %s не найден после создания: %w", spec.ClientID, errs.ErrNotFound)
		}
		rep = *created
	} else {
		rep.ID = id
	}

	observe("ensure_client", resultCreated)
	p.logger.Info("Клиент создан",
		slog.String("realm", sc.Realm()),
		slog.String("client_id", spec.ClientID),
	)

	client, err := p.withServiceAccount(ctx, sc, &rep)
	if err != nil {
		return nil, true, err
	}
	return client, true, nil
}

func (p *Provisioner) existingClient(ctx context.Context, sc *admin.Scope, spec ClientSpec, rep *keycloak.ClientRepresentation) (*model.Client, bool, error) {
	if spec.CreateOnly {
		observe("ensure_client", resultError)
		return nil, false, fmt.Errorf("клиент %s в realm %s: %w", spec.ClientID, sc.Realm(), errs.ErrConflict)
	}
	observe("ensure_client", resultExisting)

	client, err := p.withServiceAccount(ctx, sc, rep)
	if err != nil {
		return nil, false, err
	}
	return client, false, nil
}

// lookupClient возвращает клиента по clientId или nil, если его нет.
func (p *Provisioner) lookupClient(ctx context.Context, sc *admin.Scope, clientID string) (*keycloak.ClientRepresentation, error) {
	clients, err := admin.Call(ctx, sc, "FindClients", func(ctx context.Context, s *admin.Session) ([]keycloak.ClientRepresentation, error) {
		return p.kc.FindClients(ctx, s, clientID)
	})
	if err != nil {
		return nil, fmt.Errorf("поиск клиента %s: %w", clientID, err)
	}
	if len(clients) == 0 {
		return nil, nil
	}
	return &clients[0], nil
}

// withServiceAccount преобразует представление клиента в модель
// и заполняет ID пользователя service account.
func (p *Provisioner) withServiceAccount(ctx context.Context, sc *admin.Scope, rep *keycloak.ClientRepresentation) (*model.Client, error) {
	client := toModelClient(rep)
	if !client.Flags.ServiceAccountsEnabled {
		return client, nil
	}

	user, err := admin.Call(ctx, sc, "GetServiceAccountUser", func(ctx context.Context, s *admin.Session) (*keycloak.UserRepresentation, error) {
		return p.kc.GetServiceAccountUser(ctx, s, rep.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("service account клиента %s: %w", rep.ClientID, err)
	}
	client.ServiceAccountID = user.ID
	return client, nil
}

func machineToMachineClient(spec ClientSpec) keycloak.ClientRepresentation {
	flags := model.MachineToMachine()
	return keycloak.ClientRepresentation{
		ClientID:                     spec.ClientID,
		Name:                         spec.ClientID,
		Description:                  spec.Description,
		Secret:                       spec.Secret,
		Enabled:                      true,
		ClientAuthenticatorType:      "client-secret",
		ServiceAccountsEnabled:       flags.ServiceAccountsEnabled,
		AuthorizationServicesEnabled: spec.AuthorizationServices,
		StandardFlowEnabled:          flags.StandardFlowEnabled,
		ImplicitFlowEnabled:          flags.ImplicitFlowEnabled,
		DirectAccessGrantsEnabled:    flags.DirectAccessGrantsEnabled,
		PublicClient:                 flags.PublicClient,
	}
}

func toModelClient(rep *keycloak.ClientRepresentation) *model.Client {
	return &model.Client{
		ID:       rep.ID,
		ClientID: rep.ClientID,
		Enabled:  rep.Enabled,
		Flags: model.ClientFlags{
			ServiceAccountsEnabled:    rep.ServiceAccountsEnabled,
			StandardFlowEnabled:       rep.StandardFlowEnabled,
			ImplicitFlowEnabled:       rep.ImplicitFlowEnabled,
			DirectAccessGrantsEnabled: rep.DirectAccessGrantsEnabled,
			PublicClient:              rep.PublicClient,
		},
	}
}
