package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/m2m-trust/internal/admin"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// SecretIssuer выпускает новые секреты клиентов.
type SecretIssuer struct {
	kc     AdminAPI
	now    func() time.Time
	logger *slog.Logger
}

// NewSecretIssuer создаёт SecretIssuer.
func NewSecretIssuer(kc AdminAPI, logger *slog.Logger) *SecretIssuer {
	return &SecretIssuer{
		kc:     kc,
		now:    time.Now,
		logger: logger.With(slog.String("component", "secret_issuer")),
	}
}

// Rotate генерирует новый секрет клиента (предыдущий перестаёт действовать
// немедленно) и отдельным запросом читает его значение.
// Значение возвращается один раз и не логируется.
func (i *SecretIssuer) Rotate(ctx context.Context, sc *admin.Scope, clientInternalID string) (*model.ClientSecret, error) {
	err := admin.Do(ctx, sc, "RegenerateClientSecret", func(ctx context.Context, s *admin.Session) error {
		return i.kc.RegenerateClientSecret(ctx, s, clientInternalID)
	})
	if err != nil {
		observe("rotate_secret", resultError)
		return nil, fmt.Errorf("регенерация секрета: %w", err)
	}
	issuedAt := i.now()

	value, err := admin.Call(ctx, sc, "GetClientSecret", func(ctx context.Context, s *admin.Session) (string, error) {
		return i.kc.GetClientSecret(ctx, s, clientInternalID)
	})
	if err != nil {
		observe("rotate_secret", resultError)
		return nil, fmt.Errorf("чтение секрета: %w", err)
	}

	observe("rotate_secret", resultCreated)
	i.logger.Info("Секрет клиента выпущен",
		slog.String("realm", sc.Realm()),
		slog.String("id", clientInternalID),
	)
	return &model.ClientSecret{Value: value, IssuedAt: issuedAt}, nil
}
