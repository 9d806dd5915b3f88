package config

import (
	"fmt"
	"os"
)

// Database — параметры подключения к PostgreSQL.
type Database struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	// Режим SSL: disable, require, verify-ca, verify-full
	SSLMode string
}

// loadDatabase читает <prefix>DB_*. Реестр отключён (nil), если DB_HOST не задан.
func loadDatabase(prefix string) (*Database, error) {
	host := os.Getenv(prefix + "DB_HOST")
	if host == "" {
		return nil, nil
	}

	db := &Database{Host: host}
	var err error

	db.Port, err = getEnvInt(prefix+"DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%sDB_PORT: %w", prefix, err)
	}
	if db.Name, err = getEnvRequired(prefix + "DB_NAME"); err != nil {
		return nil, err
	}
	if db.User, err = getEnvRequired(prefix + "DB_USER"); err != nil {
		return nil, err
	}
	if db.Password, err = getEnvRequired(prefix + "DB_PASSWORD"); err != nil {
		return nil, err
	}

	db.SSLMode = getEnvDefault(prefix+"DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[db.SSLMode] {
		return nil, fmt.Errorf("%sDB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", prefix, db.SSLMode)
	}
	return db, nil
}

// DSN возвращает строку подключения к PostgreSQL.
func (d *Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// URL возвращает адрес PostgreSQL без учётных данных (для меток метрик).
func (d *Database) URL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", d.Host, d.Port, d.Name)
}
