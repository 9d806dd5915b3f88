// workflow.go — сценарии провижининга: инициализация realm, выдача
// клиента потребителю, ротация секрета.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bigkaa/m2m-trust/internal/admin"
	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// ExistingClientPolicy — поведение CreateClient для уже существующего клиента.
type ExistingClientPolicy string

const (
	// PolicyConflict — существующий клиент возвращается как ErrConflict.
	PolicyConflict ExistingClientPolicy = "conflict"
	// PolicyRotate — провижининг повторяется, секрет ротируется.
	PolicyRotate ExistingClientPolicy = "rotate"
	// PolicyKeep — провижининг повторяется без ротации, секрет не возвращается.
	PolicyKeep ExistingClientPolicy = "keep"
)

// maxClientNameLen — ограничение Keycloak на длину clientId.
const maxClientNameLen = 255

// Registry — реестр выданных клиентов (значения секретов не хранятся).
type Registry interface {
	Upsert(ctx context.Context, c *model.ProvisionedClient) error
	MarkSecretRotated(ctx context.Context, realm, clientID string, at time.Time) error
	List(ctx context.Context, realm string, limit, offset int) ([]*model.ProvisionedClient, error)
	Count(ctx context.Context, realm string) (int, error)
}

// Config — параметры провижининга.
type Config struct {
	// Realm — realm, в котором создаются клиенты
	Realm string
	// ResourceClientID — clientId resource-клиента (владельца ролей)
	ResourceClientID string
	// ResourceClientSecret — секрет resource-клиента (задаётся при инициализации realm)
	ResourceClientSecret string
	// Grants — роли, выдаваемые каждому клиенту
	Grants []model.RoleGrant
	// ExistingClientPolicy — поведение для существующего клиента
	ExistingClientPolicy ExistingClientPolicy
}

// CreateClientRequest — запрос на выдачу клиента.
type CreateClientRequest struct {
	ClientName  string
	Description string
}

// IssuedClient — выданный клиент. Secret пуст, если секрет не выпускался.
type IssuedClient struct {
	ID           string
	ClientID     string
	ClientSecret string
}

// CreateClientResult — результат CreateClient.
type CreateClientResult struct {
	Client   IssuedClient
	TokenURL string
	Created  bool
	Roles    []string
}

// InitResult — результат инициализации realm.
type InitResult struct {
	Realm                 string
	RealmCreated          bool
	ResourceClientCreated bool
}

// RotateResult — результат ротации секрета.
type RotateResult struct {
	ClientID     string
	ClientSecret string
	IssuedAt     time.Time
}

// ProviderConfig — публичные параметры провайдера для потребителей.
type ProviderConfig struct {
	Realm    string
	URL      string
	TokenURL string
}

// Service — сценарии провижининга.
// Операции над одним (realm, clientId) сериализуются KeyedMutex;
// каждый вызов работает со своей административной сессией.
type Service struct {
	sessions    *admin.SessionManager
	provisioner *Provisioner
	grants      *RoleGrants
	secrets     *SecretIssuer
	endpoints   Endpoints
	registry    Registry // nil — реестр отключён
	locks       *KeyedMutex
	cfg         Config
	initialized atomic.Bool
	// realmOwned — realm создан этим процессом; настройка resource-клиента
	// повторяется при каждой инициализации, пока не завершится успешно.
	realmOwned  atomic.Bool
	logger      *slog.Logger
}

// NewService создаёт сервис провижининга. registry может быть nil.
func NewService(
	sessions *admin.SessionManager,
	kc AdminAPI,
	endpoints Endpoints,
	registry Registry,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.ExistingClientPolicy == "" {
		cfg.ExistingClientPolicy = PolicyConflict
	}
	return &Service{
		sessions:    sessions,
		provisioner: NewProvisioner(kc, logger),
		grants:      NewRoleGrants(kc, logger),
		secrets:     NewSecretIssuer(kc, logger),
		endpoints:   endpoints,
		registry:    registry,
		locks:       NewKeyedMutex(),
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "provision_service")),
	}
}

// Initialized сообщает, выполнена ли инициализация realm.
func (s *Service) Initialized() bool { return s.initialized.Load() }

// Config возвращает публичные параметры провайдера.
func (s *Service) Config() ProviderConfig {
	return ProviderConfig{
		Realm:    s.cfg.Realm,
		URL:      s.endpoints.BaseURL(),
		TokenURL: s.endpoints.TokenURL(s.cfg.Realm),
	}
}

// Initialize обеспечивает существование realm. Resource-клиент создаётся только
// в realm, созданном этим процессом; realm, существовавший до первого вызова,
// считается настроенным оператором и не изменяется. Если realm создан, а
// resource-клиент нет, следующий вызов довершает настройку.
func (s *Service) Initialize(ctx context.Context) (*InitResult, error) {
	unlock, err := s.locks.Lock(ctx, LockKey(s.cfg.Realm, ""))
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.initializeLocked(ctx)
}

func (s *Service) initializeLocked(ctx context.Context) (*InitResult, error) {
	result := &InitResult{Realm: s.cfg.Realm}
	if s.initialized.Load() {
		return result, nil
	}

	sc, err := s.sessions.Open(ctx, s.cfg.Realm)
	if err != nil {
		return nil, err
	}

	existed, err := s.provisioner.EnsureRealm(ctx, sc, s.cfg.Realm)
	if err != nil {
		return nil, err
	}
	if !existed {
		s.realmOwned.Store(true)
		result.RealmCreated = true
	}

	if !s.realmOwned.Load() {
		s.logger.Info("Realm уже существует, настройка не изменяется", slog.String("realm", s.cfg.Realm))
	} else {
		_, created, err := s.provisioner.EnsureClient(ctx, sc, ClientSpec{
			ClientID:              s.cfg.ResourceClientID,
			Description:           "Resource server",
			Secret:                s.cfg.ResourceClientSecret,
			AuthorizationServices: true,
		})
		if err != nil {
			return nil, fmt.Errorf("resource-клиент: %w", err)
		}
		result.ResourceClientCreated = created
	}

	s.initialized.Store(true)
	s.logger.Info("Инициализация realm завершена",
		slog.String("realm", s.cfg.Realm),
		slog.Bool("realm_created", result.RealmCreated),
	)
	return result, nil
}

// CreateClient выдаёт потребителю confidential клиента: создаёт его,
// выпускает секрет и назначает service account настроенные роли
// resource-клиента. Каждый шаг идемпотентен, поэтому прерванный сценарий
// можно безопасно повторить.
func (s *Service) CreateClient(ctx context.Context, req CreateClientRequest) (*CreateClientResult, error) {
	name := strings.TrimSpace(req.ClientName)
	if err := s.validateClientName(name); err != nil {
		return nil, err
	}

	if !s.initialized.Load() {
		if _, err := s.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("инициализация realm: %w", err)
		}
	}

	unlock, err := s.locks.Lock(ctx, LockKey(s.cfg.Realm, name))
	if err != nil {
		return nil, err
	}
	defer unlock()

	sc, err := s.sessions.Open(ctx, s.cfg.Realm)
	if err != nil {
		return nil, err
	}

	policy := s.cfg.ExistingClientPolicy
	client, created, err := s.provisioner.EnsureClient(ctx, sc, ClientSpec{
		ClientID:    name,
		Description: req.Description,
		CreateOnly:  policy == PolicyConflict,
	})
	if err != nil {
		return nil, err
	}

	result := &CreateClientResult{
		Client:   IssuedClient{ID: client.ID, ClientID: client.ClientID},
		TokenURL: s.endpoints.TokenURL(s.cfg.Realm),
		Created:  created,
	}

	var rotatedAt *time.Time
	if created || policy == PolicyRotate {
		secret, err := s.secrets.Rotate(ctx, sc, client.ID)
		if err != nil {
			return nil, err
		}
		result.Client.ClientSecret = secret.Value
		rotatedAt = &secret.IssuedAt
	}

	roles, err := s.grantRoles(ctx, sc, client)
	if err != nil {
		return nil, err
	}
	result.Roles = roles

	s.record(ctx, client, req.Description, roles, rotatedAt)

	s.logger.Info("Клиент выдан",
		slog.String("realm", s.cfg.Realm),
		slog.String("client_id", client.ClientID),
		slog.Bool("created", created),
		slog.Bool("secret_issued", result.Client.ClientSecret != ""),
	)
	return result, nil
}

// grantRoles создаёт настроенные роли resource-клиента и назначает их клиенту.
func (s *Service) grantRoles(ctx context.Context, sc *admin.Scope, client *model.Client) ([]string, error) {
	if len(s.cfg.Grants) == 0 {
		return nil, nil
	}
	if client.ServiceAccountID == "" {
		return nil, fmt.Errorf("у клиента %s нет service account: %w", client.ClientID, errs.ErrNotFound)
	}

	resource, err := s.provisioner.FindClient(ctx, sc, s.cfg.ResourceClientID)
	if err != nil {
		return nil, fmt.Errorf("resource-клиент: %w", err)
	}

	roles := make([]string, 0, len(s.cfg.Grants))
	for _, g := range s.cfg.Grants {
		if _, _, err := s.grants.EnsureRole(ctx, sc, resource.ID, g.Name, g.Description); err != nil {
			return nil, err
		}
		if _, err := s.grants.BindRole(ctx, sc, client.ServiceAccountID, resource.ID, g.Name); err != nil {
			return nil, err
		}
		roles = append(roles, g.Name)
	}
	return roles, nil
}

// RotateSecret выпускает новый секрет существующего клиента.
// Предыдущий секрет перестаёт действовать немедленно.
func (s *Service) RotateSecret(ctx context.Context, clientID string) (*RotateResult, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: clientId обязателен", errs.ErrValidation)
	}
	if clientID == s.cfg.ResourceClientID {
		return nil, fmt.Errorf("%w: секрет resource-клиента не ротируется через API", errs.ErrValidation)
	}

	unlock, err := s.locks.Lock(ctx, LockKey(s.cfg.Realm, clientID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	sc, err := s.sessions.Open(ctx, s.cfg.Realm)
	if err != nil {
		return nil, err
	}

	client, err := s.provisioner.FindClient(ctx, sc, clientID)
	if err != nil {
		return nil, err
	}

	secret, err := s.secrets.Rotate(ctx, sc, client.ID)
	if err != nil {
		return nil, err
	}

	if s.registry != nil {
		if err := s.registry.MarkSecretRotated(ctx, s.cfg.Realm, clientID, secret.IssuedAt); err != nil {
			s.logger.Warn("Не удалось обновить реестр клиентов",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &RotateResult{ClientID: clientID, ClientSecret: secret.Value, IssuedAt: secret.IssuedAt}, nil
}

// ListClients возвращает записи реестра выданных клиентов.
func (s *Service) ListClients(ctx context.Context, limit, offset int) ([]*model.ProvisionedClient, int, error) {
	if s.registry == nil {
		return nil, 0, fmt.Errorf("реестр клиентов: %w", errs.ErrNotConfigured)
	}

	items, err := s.registry.List(ctx, s.cfg.Realm, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка клиентов: %w", err)
	}
	total, err := s.registry.Count(ctx, s.cfg.Realm)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт клиентов: %w", err)
	}
	return items, total, nil
}

func (s *Service) validateClientName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: clientName обязателен", errs.ErrValidation)
	case len(name) > maxClientNameLen:
		return fmt.Errorf("%w: clientName длиннее %d символов", errs.ErrValidation, maxClientNameLen)
	case name == s.cfg.ResourceClientID:
		return fmt.Errorf("%w: clientName совпадает с resource-клиентом", errs.ErrValidation)
	}
	return nil
}

// record сохраняет клиента в реестре. Ошибка реестра не отменяет выдачу:
// клиент и секрет в провайдере уже созданы.
func (s *Service) record(ctx context.Context, client *model.Client, description string, roles []string, rotatedAt *time.Time) {
	if s.registry == nil {
		return
	}

	pc := &model.ProvisionedClient{
		Realm:            s.cfg.Realm,
		ClientID:         client.ClientID,
		KeycloakID:       client.ID,
		ServiceAccountID: client.ServiceAccountID,
		Roles:            roles,
		SecretRotatedAt:  rotatedAt,
	}
	if description != "" {
		pc.Description = &description
	}

	if err := s.registry.Upsert(ctx, pc); err != nil {
		s.logger.Warn("Не удалось сохранить клиента в реестре",
			slog.String("client_id", client.ClientID),
			slog.String("error", err.Error()),
		)
	}
}
