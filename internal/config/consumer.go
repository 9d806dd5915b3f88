package config

import (
	"fmt"
	"time"

	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// Consumer содержит параметры конфигурации trust-consumer.
type Consumer struct {
	Logging
	Server

	// Начальные учётные данные клиента (могут быть заданы позже через API)
	Credentials model.Credentials
	// URL trust-broker, на котором расположен защищённый ресурс
	ResourceURL string
	// Путь к CA-сертификату для TLS-соединений с resource-сервером (опционально)
	ResourceCACertPath string
	// Таймаут запроса к защищённому ресурсу
	ResourceTimeout time.Duration
	// Таймаут одного client credentials grant
	GrantTimeout time.Duration
}

// LoadConsumer загружает конфигурацию trust-consumer из переменных окружения.
func LoadConsumer() (*Consumer, error) {
	cfg := &Consumer{}
	var err error

	if cfg.Logging, err = loadLogging("CN_"); err != nil {
		return nil, err
	}
	if cfg.Server, err = loadServer("CN_", 8081); err != nil {
		return nil, err
	}

	// CN_CLIENT_ID, CN_CLIENT_SECRET, CN_TOKEN_URL — задаются все вместе или не задаются
	cfg.Credentials = model.Credentials{
		ClientID:     getEnvDefault("CN_CLIENT_ID", ""),
		ClientSecret: getEnvDefault("CN_CLIENT_SECRET", ""),
		TokenURL:     getEnvDefault("CN_TOKEN_URL", ""),
	}
	anySet := cfg.Credentials.ClientID != "" || cfg.Credentials.ClientSecret != "" || cfg.Credentials.TokenURL != ""
	if anySet && !cfg.Credentials.Configured() {
		return nil, fmt.Errorf("CN_CLIENT_ID, CN_CLIENT_SECRET, CN_TOKEN_URL: задаются только вместе")
	}
	if cfg.Credentials.TokenURL != "" {
		if _, err := validateBaseURL("CN_TOKEN_URL", cfg.Credentials.TokenURL); err != nil {
			return nil, err
		}
	}

	// CN_RESOURCE_URL — обязательный
	raw, err := getEnvRequired("CN_RESOURCE_URL")
	if err != nil {
		return nil, err
	}
	if cfg.ResourceURL, err = validateBaseURL("CN_RESOURCE_URL", raw); err != nil {
		return nil, err
	}

	cfg.ResourceCACertPath = getEnvDefault("CN_RESOURCE_CA_CERT_PATH", "")

	if cfg.ResourceTimeout, err = getEnvDuration("CN_RESOURCE_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("CN_RESOURCE_TIMEOUT: %w", err)
	}
	if cfg.GrantTimeout, err = getEnvDuration("CN_GRANT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("CN_GRANT_TIMEOUT: %w", err)
	}

	return cfg, nil
}
