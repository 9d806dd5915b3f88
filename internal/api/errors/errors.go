// Пакет errors — ответы с ошибками в едином формате:
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// StatusFor возвращает HTTP-статус для машиночитаемого кода ошибки.
func StatusFor(kind string) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound, errs.KindNotConfigured:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindAuthentication, errs.KindTokenAcquisition, errs.KindIDPUnavailable, errs.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// upstreamMessages — сообщения для ошибок внешних систем. Текст исходной
// ошибки содержит тело ответа провайдера и клиенту не отдаётся: обработчики
// пишут его в лог.
var upstreamMessages = map[string]string{
	errs.KindAuthentication:   "Не удалось войти в административный API Identity Provider",
	errs.KindTokenAcquisition: "Identity Provider отказал в выдаче токена",
	errs.KindIDPUnavailable:   "Identity Provider недоступен или вернул ошибку",
	errs.KindUpstream:         "Защищённый ресурс недоступен или вернул ошибку",
}

// FromError записывает ответ по таксономии errs. Клиенту уходит текст
// только для 4xx; для ошибок внешних систем и внутренних — фиксированное сообщение.
func FromError(w http.ResponseWriter, err error) {
	kind := errs.Kind(err)
	status := StatusFor(kind)
	switch {
	case status == http.StatusInternalServerError:
		InternalError(w, "внутренняя ошибка сервера")
	case upstreamMessages[kind] != "":
		WriteError(w, status, kind, upstreamMessages[kind])
	default:
		WriteError(w, status, kind, err.Error())
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, errs.KindValidation, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, errs.KindUnauthorized, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, errs.KindInternal, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, errs.KindForbidden, message)
}
