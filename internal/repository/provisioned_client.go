package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// ProvisionedClientRepository — реестр выданных клиентов (таблица provisioned_clients).
type ProvisionedClientRepository interface {
	// Upsert создаёт или обновляет запись по (realm, client_id).
	Upsert(ctx context.Context, c *model.ProvisionedClient) error
	// MarkSecretRotated фиксирует время ротации секрета.
	MarkSecretRotated(ctx context.Context, realm, clientID string, at time.Time) error
	// GetByClientID возвращает запись по (realm, client_id).
	GetByClientID(ctx context.Context, realm, clientID string) (*model.ProvisionedClient, error)
	// List возвращает записи realm, новые первыми.
	List(ctx context.Context, realm string, limit, offset int) ([]*model.ProvisionedClient, error)
	// Count возвращает количество записей realm.
	Count(ctx context.Context, realm string) (int, error)
}

type provisionedClientRepo struct {
	db DBTX
}

// NewProvisionedClientRepository создаёт репозиторий реестра клиентов.
func NewProvisionedClientRepository(db DBTX) ProvisionedClientRepository {
	return &provisionedClientRepo{db: db}
}

const pcColumns = `id, realm, client_id, keycloak_id, service_account_id, description,
	roles, secret_rotated_at, created_at, updated_at`

func scanProvisionedClient(row pgx.Row) (*model.ProvisionedClient, error) {
	c := &model.ProvisionedClient{}
	var saID *string
	err := row.Scan(
		&c.ID, &c.Realm, &c.ClientID, &c.KeycloakID, &saID, &c.Description,
		&c.Roles, &c.SecretRotatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if saID != nil {
		c.ServiceAccountID = *saID
	}
	return c, err
}

// Upsert не затирает описание и время ротации, если в новой записи они не заданы.
func (r *provisionedClientRepo) Upsert(ctx context.Context, c *model.ProvisionedClient) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	roles := c.Roles
	if roles == nil {
		roles = []string{}
	}
	var saID *string
	if c.ServiceAccountID != "" {
		saID = &c.ServiceAccountID
	}

	query := `
		INSERT INTO provisioned_clients (id, realm, client_id, keycloak_id, service_account_id,
			description, roles, secret_rotated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (realm, client_id) DO UPDATE SET
			keycloak_id        = EXCLUDED.keycloak_id,
			service_account_id = COALESCE(EXCLUDED.service_account_id, provisioned_clients.service_account_id),
			description        = COALESCE(EXCLUDED.description, provisioned_clients.description),
			roles              = EXCLUDED.roles,
			secret_rotated_at  = COALESCE(EXCLUDED.secret_rotated_at, provisioned_clients.secret_rotated_at),
			updated_at         = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.Realm, c.ClientID, c.KeycloakID, saID,
		c.Description, roles, c.SecretRotatedAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения клиента %s: %w", c.ClientID, err)
	}
	return nil
}

func (r *provisionedClientRepo) MarkSecretRotated(ctx context.Context, realm, clientID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE provisioned_clients
		SET secret_rotated_at = $3, updated_at = NOW()
		WHERE realm = $1 AND client_id = $2`,
		realm, clientID, at,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления времени ротации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *provisionedClientRepo) GetByClientID(ctx context.Context, realm, clientID string) (*model.ProvisionedClient, error) {
	query := fmt.Sprintf(`SELECT %s FROM provisioned_clients WHERE realm = $1 AND client_id = $2`, pcColumns)
	c, err := scanProvisionedClient(r.db.QueryRow(ctx, query, realm, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения клиента по client_id: %w", err)
	}
	return c, nil
}

func (r *provisionedClientRepo) List(ctx context.Context, realm string, limit, offset int) ([]*model.ProvisionedClient, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM provisioned_clients
		WHERE realm = $1
		ORDER BY created_at DESC, client_id
		LIMIT $2 OFFSET $3`, pcColumns)

	rows, err := r.db.Query(ctx, query, realm, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка клиентов: %w", err)
	}
	defer rows.Close()

	var result []*model.ProvisionedClient
	for rows.Next() {
		c, err := scanProvisionedClient(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования клиента: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *provisionedClientRepo) Count(ctx context.Context, realm string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM provisioned_clients WHERE realm = $1`, realm).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта клиентов: %w", err)
	}
	return count, nil
}
