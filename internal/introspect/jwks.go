package introspect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
)

// NewJWKSKeyfunc создаёт keyfunc по JWKS endpoint realm с фоновым обновлением ключей.
// Первый запрос JWKS не обязателен для старта: Keycloak может быть ещё недоступен.
func NewJWKSKeyfunc(certsURL string, httpClient *http.Client, refreshInterval time.Duration, logger *slog.Logger) (keyfunc.Keyfunc, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	storage, err := jwkset.NewStorageFromHTTP(certsURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", certsURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return k, nil
}
