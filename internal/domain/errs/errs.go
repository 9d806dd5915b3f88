// Пакет errs — таксономия ошибок M2M Trust Broker.
// Sentinel-ошибки проверяются через errors.Is, структурированные ошибки
// (ProviderError, TokenAcquisitionError, OpError) — через errors.As.
// Значения секретов и токенов в сообщения ошибок не попадают.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

var (
	// ErrAuthentication — исчерпаны попытки административного входа.
	ErrAuthentication = errors.New("ошибка аутентификации администратора")
	// ErrNotFound — ожидаемый realm/client/role отсутствует.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — ресурс уже существует (строгий режим create-only).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrProvider — ошибка Identity Provider (не-2xx ответ или сетевая ошибка).
	ErrProvider = errors.New("ошибка Identity Provider")
	// ErrValidation — отсутствуют обязательные входные данные.
	ErrValidation = errors.New("ошибка валидации")
	// ErrTokenInvalid — токен неактивен или некорректен.
	ErrTokenInvalid = errors.New("токен недействителен")
	// ErrTokenAcquisition — не удалось получить токен (client credentials grant).
	ErrTokenAcquisition = errors.New("ошибка получения токена")
	// ErrForbidden — токен активен, но не содержит требуемой роли.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrNotConfigured — функция отключена конфигурацией.
	ErrNotConfigured = errors.New("функция не настроена")
	// ErrUpstream — защищённый ресурс ответил ошибкой или недоступен.
	ErrUpstream = errors.New("ошибка защищённого ресурса")
)

// maxBodyLen — максимальная длина тела ответа провайдера, сохраняемого для диагностики.
const maxBodyLen = 2048

// ProviderError — не-2xx ответ или сетевая ошибка Identity Provider.
// StatusCode == 0 означает, что ответ не был получен (сеть, таймаут).
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// NewProviderError создаёт ProviderError по ответу провайдера.
func NewProviderError(op string, statusCode int, body []byte) *ProviderError {
	return &ProviderError{Op: op, StatusCode: statusCode, Body: truncate(body)}
}

// WrapProviderError создаёт ProviderError для ошибки транспорта.
func WrapProviderError(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Err: err}
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: Identity Provider недоступен: %v", e.Op, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("%s: Identity Provider вернул статус %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: Identity Provider вернул статус %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is позволяет проверять errors.Is(err, ErrProvider).
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// TokenAcquisitionError — ошибка client credentials grant.
type TokenAcquisitionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenAcquisitionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("получение токена: статус %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("получение токена: статус %d", e.StatusCode)
	default:
		return fmt.Sprintf("получение токена: %v", e.Err)
	}
}

func (e *TokenAcquisitionError) Unwrap() error { return e.Err }

func (e *TokenAcquisitionError) Is(target error) bool {
	return target == ErrTokenAcquisition
}

// NewTokenAcquisitionError создаёт TokenAcquisitionError с обрезанным телом ответа.
func NewTokenAcquisitionError(statusCode int, body []byte, err error) *TokenAcquisitionError {
	return &TokenAcquisitionError{StatusCode: statusCode, Body: truncate(body), Err: err}
}

// UpstreamError — ответ защищённого ресурса со статусом, отличным от 200.
// StatusCode == 0 означает, что ответ не был получен.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("защищённый ресурс недоступен: %v", e.Err)
	}
	return fmt.Sprintf("защищённый ресурс вернул статус %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// NewUpstreamError создаёт UpstreamError с обрезанным телом ответа.
func NewUpstreamError(statusCode int, body []byte, err error) *UpstreamError {
	return &UpstreamError{StatusCode: statusCode, Body: truncate(body), Err: err}
}

// OpError — ошибка административной операции после повтора с реаутентификацией.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: операция не выполнена после реаутентификации: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsUnauthorized проверяет, что ошибка — 401 от Admin REST API
// (истёкшая или отозванная административная сессия).
func IsUnauthorized(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusUnauthorized
}

// IsStatus проверяет, что ошибка — ProviderError с указанным статусом.
func IsStatus(err error, status int) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == status
}

// Машиночитаемые коды ошибок для ответов API.
const (
	KindValidation       = "VALIDATION_ERROR"
	KindNotFound         = "NOT_FOUND"
	KindNotConfigured    = "NOT_CONFIGURED"
	KindConflict         = "CONFLICT"
	KindUnauthorized     = "UNAUTHORIZED"
	KindForbidden        = "FORBIDDEN"
	KindAuthentication   = "AUTHENTICATION_FAILED"
	KindTokenAcquisition = "TOKEN_ACQUISITION_FAILED"
	KindIDPUnavailable   = "IDP_UNAVAILABLE"
	KindUpstream         = "UPSTREAM_ERROR"
	KindInternal         = "INTERNAL_ERROR"
)

// Kind возвращает машиночитаемый код ошибки.
// Порядок проверок важен: OpError и обёртки раскрываются через errors.Is.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotConfigured):
		return KindNotConfigured
	case errors.Is(err, ErrTokenInvalid):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrTokenAcquisition):
		return KindTokenAcquisition
	case errors.Is(err, ErrProvider):
		return KindIDPUnavailable
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindInternal
	}
}

// truncate обрезает тело до maxBodyLen байт по границе UTF-8 символа.
func truncate(body []byte) string {
	if len(body) <= maxBodyLen {
		return string(body)
	}
	cut := maxBodyLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
